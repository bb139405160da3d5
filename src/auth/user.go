package auth

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/argon2"
)

// Params are the argon2id cost parameters used for new hashes.
type Params struct {
	Time    uint32 `json:"time" yaml:"time"`
	Memory  uint32 `json:"memory" yaml:"memory"` // KiB
	Threads uint8  `json:"threads" yaml:"threads"`
	KeyLen  uint32 `json:"keylen" yaml:"keylen"`
}

// DefaultParams follow the OWASP argon2id recommendation.
var DefaultParams = Params{Time: 1, Memory: 64 * 1024, Threads: 4, KeyLen: 32}

type PasswordHash struct {
	Hash   []byte `json:"hash"`
	Salt   []byte `json:"salt"`
	Method string `json:"method"` // "argon2id"
	Params
}

type User struct {
	ID             string       `json:"id"`
	Username       string       `json:"username"`
	PasswordHash   PasswordHash `json:"password"`
	CreatedAt      time.Time    `json:"created_at"`
	LastModifiedAt time.Time    `json:"last_modified_at"`
}

// NewUser carries a clear text password until it is hashed into the store.
type NewUser struct {
	ID       string
	Username string
	Password string
}

func hashPassword(password string, p Params) (PasswordHash, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return PasswordHash{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	return PasswordHash{
		Hash:   argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen),
		Salt:   salt,
		Method: "argon2id",
		Params: p,
	}, nil
}

// matches hashes password with the stored salt and parameters.
func (h PasswordHash) matches(password string) bool {
	hash := argon2.IDKey([]byte(password), h.Salt, h.Time, h.Memory, h.Threads, h.KeyLen)
	return SlowEqual(hash, h.Hash)
}

// SlowEqual compares in constant time.
func SlowEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := 0; i < len(a); i++ {
		result |= a[i] ^ b[i]
	}
	return result == 0
}
