// Package auth keeps the credentials accepted by the REST binding. Passwords
// are stored as argon2id hashes; the store can be persisted to an AES-GCM
// encrypted file.
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"syndrodm/src/helpers"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
)

// Store manages user credentials. An empty file path keeps it in memory.
type Store struct {
	mu            sync.RWMutex
	encryptionKey []byte
	filePath      string
	users         map[string]User
	params        Params
	logger        *zap.SugaredLogger
}

type StoreOption func(*Store)

// WithParams overrides the argon2 cost of new hashes.
func WithParams(p Params) StoreOption {
	return func(s *Store) { s.params = p }
}

// WithFile persists the store to filePath, encrypted with key. The key is
// padded or truncated to 32 bytes (AES-256).
func WithFile(filePath, key string) StoreOption {
	return func(s *Store) {
		s.filePath = filePath
		k := make([]byte, 32)
		copy(k, key)
		s.encryptionKey = k
	}
}

func NewStore(logger *zap.SugaredLogger, opts ...StoreOption) (*Store, error) {
	s := &Store{
		users:  make(map[string]User),
		params: DefaultParams,
		logger: helpers.OrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.filePath == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if helpers.FileExists(s.filePath, s.logger) {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("failed to load user store: %w", err)
		}
	}
	return s, nil
}

// Verify checks a username/password pair.
func (s *Store) Verify(username, password string) bool {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return u.PasswordHash.matches(password)
}

// GetUser returns the user without its password hash.
func (s *Store) GetUser(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &User{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt, LastModifiedAt: u.LastModifiedAt}, nil
}

// ListUsers returns the sorted usernames.
func (s *Store) ListUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) AddUser(user NewUser) error {
	hash, err := hashPassword(user.Password, s.params)
	if err != nil {
		return err
	}
	if user.ID == "" {
		user.ID = helpers.GenerateUUID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("%w: %s", ErrUserAlreadyExists, user.Username)
	}
	now := time.Now()
	s.users[user.Username] = User{
		ID:             user.ID,
		Username:       user.Username,
		PasswordHash:   hash,
		CreatedAt:      now,
		LastModifiedAt: now,
	}
	s.logger.Infow("user added", "username", user.Username)
	return s.save()
}

// UpdateUser replaces the password of an existing user.
func (s *Store) UpdateUser(user NewUser) error {
	hash, err := hashPassword(user.Password, s.params)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user.Username]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, user.Username)
	}
	u.PasswordHash = hash
	u.LastModifiedAt = time.Now()
	s.users[user.Username] = u
	return s.save()
}

func (s *Store) RemoveUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	delete(s.users, username)
	return s.save()
}

// Accounts is true when at least one user exists.
func (s *Store) Accounts() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users) > 0
}

// save writes the encrypted store through a temp file and a rename. Callers
// hold the write lock.
func (s *Store) save() error {
	if s.filePath == "" {
		return nil
	}
	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	data, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("failed to marshal users: %w", err)
	}
	encrypted, err := encrypt(data, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt data: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.filePath), "users-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	if _, err := tempFile.Write(encrypted); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0600); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := os.Rename(tempPath, s.filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (s *Store) load() error {
	encrypted, err := os.ReadFile(s.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	data, err := decrypt(encrypted, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to decrypt data: %w", err)
	}
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("failed to unmarshal users: %w", err)
	}
	for _, u := range users {
		s.users[u.Username] = u
	}
	s.logger.Debugw("user store loaded", "file", s.filePath, "users", len(users))
	return nil
}

func encrypt(data, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

func decrypt(data, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
