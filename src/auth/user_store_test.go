package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cheap = Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 16}

func TestStoreVerify(t *testing.T) {
	s, err := NewStore(nil, WithParams(cheap))
	require.NoError(t, err)
	assert.False(t, s.Accounts())

	require.NoError(t, s.AddUser(NewUser{Username: "admin", Password: "secret"}))
	assert.True(t, s.Accounts())
	assert.True(t, s.Verify("admin", "secret"))
	assert.False(t, s.Verify("admin", "Secret"))
	assert.False(t, s.Verify("nobody", "secret"))

	err = s.AddUser(NewUser{Username: "admin", Password: "x"})
	assert.True(t, errors.Is(err, ErrUserAlreadyExists))

	require.NoError(t, s.UpdateUser(NewUser{Username: "admin", Password: "changed"}))
	assert.False(t, s.Verify("admin", "secret"))
	assert.True(t, s.Verify("admin", "changed"))

	u, err := s.GetUser("admin")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Empty(t, u.PasswordHash.Hash)

	require.NoError(t, s.RemoveUser("admin"))
	assert.True(t, errors.Is(s.RemoveUser("admin"), ErrUserNotFound))
	_, err = s.GetUser("admin")
	assert.True(t, errors.Is(err, ErrUserNotFound))
}

func TestStorePersistsEncrypted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth", "users.dat")

	s, err := NewStore(nil, WithParams(cheap), WithFile(path, "key"))
	require.NoError(t, err)
	require.NoError(t, s.AddUser(NewUser{Username: "b", Password: "pw"}))
	require.NoError(t, s.AddUser(NewUser{Username: "a", Password: "pw"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "argon2id")

	reopened, err := NewStore(nil, WithFile(path, "key"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, reopened.ListUsers())
	assert.True(t, reopened.Verify("a", "pw"))

	_, err = NewStore(nil, WithFile(path, "wrong"))
	assert.Error(t, err)
}

func TestSlowEqual(t *testing.T) {
	assert.True(t, SlowEqual([]byte("abc"), []byte("abc")))
	assert.False(t, SlowEqual([]byte("abc"), []byte("abd")))
	assert.False(t, SlowEqual([]byte("abc"), []byte("ab")))
}
