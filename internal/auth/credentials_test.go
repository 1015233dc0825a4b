package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/user-management/internal/domain"
	"github.com/spec-kit/user-management/internal/repository"
)

type countingHasher struct {
	PasswordHasher
	compares int
}

func (h *countingHasher) Compare(hashed, plain string) error {
	h.compares++
	return h.PasswordHasher.Compare(hashed, plain)
}

type failingDirectory struct{}

func (failingDirectory) GetByUsername(context.Context, string) (*domain.User, error) {
	return nil, errors.New("connection refused")
}

func (failingDirectory) GetByEmail(context.Context, string) (*domain.User, error) {
	return nil, errors.New("connection refused")
}

func seedUser(t *testing.T, repo repository.UserRepository, hasher PasswordHasher, username, password string, role domain.Role, active bool) *domain.User {
	t.Helper()
	hash, err := hasher.Hash(password)
	require.NoError(t, err)
	user := &domain.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         role,
		Active:       active,
	}
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}

func TestCredentialVerifier(t *testing.T) {
	ctx := context.Background()
	hasher := NewBcryptHasher(bcrypt.MinCost)
	repo := repository.NewMemoryUserRepository()
	seedUser(t, repo, hasher, "alice", "wonderland", domain.RoleUser, true)
	seedUser(t, repo, hasher, "dora", "explorer", domain.RoleUser, false)

	t.Run("username and password", func(t *testing.T) {
		v := NewCredentialVerifier(repo, hasher)
		user, err := v.Authenticate(ctx, "alice", "wonderland")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
	})

	t.Run("email identifier", func(t *testing.T) {
		v := NewCredentialVerifier(repo, hasher)
		user, err := v.Authenticate(ctx, "ALICE@example.com", "wonderland")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
	})

	t.Run("unknown user and wrong password are indistinguishable", func(t *testing.T) {
		counting := &countingHasher{PasswordHasher: hasher}
		v := NewCredentialVerifier(repo, counting)

		_, wrongPassword := v.Authenticate(ctx, "alice", "nope")
		_, unknownUser := v.Authenticate(ctx, "ghost", "nope")

		assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
		assert.ErrorIs(t, unknownUser, ErrInvalidCredentials)
		assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
		assert.Equal(t, 2, counting.compares, "unknown users still pay for a hash comparison")
	})

	t.Run("deactivated only after password match", func(t *testing.T) {
		v := NewCredentialVerifier(repo, hasher)

		_, err := v.Authenticate(ctx, "dora", "explorer")
		assert.ErrorIs(t, err, ErrAccountDeactivated)

		_, err = v.Authenticate(ctx, "dora", "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("directory failure is not masked", func(t *testing.T) {
		v := NewCredentialVerifier(failingDirectory{}, hasher)
		_, err := v.Authenticate(ctx, "alice", "wonderland")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("secret")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", hash)
	assert.NoError(t, h.Compare(hash, "secret"))
	assert.Error(t, h.Compare(hash, "other"))

	again, err := h.Hash("secret")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "salted hashes differ")

	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(1).Cost)
}
