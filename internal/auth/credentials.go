package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/user-management/internal/domain"
)

var (
	// ErrInvalidCredentials is shared by unknown users and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrAccountDeactivated is only reported after the password matched.
	ErrAccountDeactivated = errors.New("account is deactivated")
)

// Directory is the slice of the user store the credential verifier needs.
type Directory interface {
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// CredentialVerifier checks username or email plus password against stored hashes.
type CredentialVerifier struct {
	users  Directory
	hasher PasswordHasher

	decoyOnce sync.Once
	decoyHash string
}

// NewCredentialVerifier constructs a verifier.
func NewCredentialVerifier(users Directory, hasher PasswordHasher) *CredentialVerifier {
	return &CredentialVerifier{users: users, hasher: hasher}
}

// Authenticate returns the account identified by identifier when password matches.
func (v *CredentialVerifier) Authenticate(ctx context.Context, identifier, password string) (*domain.User, error) {
	user, err := v.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Burn a comparison so unknown users cost the same as wrong passwords.
			_ = v.hasher.Compare(v.decoy(), password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := v.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrAccountDeactivated
	}
	return user, nil
}

func (v *CredentialVerifier) lookup(ctx context.Context, identifier string) (*domain.User, error) {
	user, err := v.users.GetByUsername(ctx, identifier)
	if err == nil || !errors.Is(err, pgx.ErrNoRows) {
		return user, err
	}
	return v.users.GetByEmail(ctx, identifier)
}

func (v *CredentialVerifier) decoy() string {
	v.decoyOnce.Do(func() {
		v.decoyHash, _ = v.hasher.Hash("decoy-password-for-unknown-users")
	})
	return v.decoyHash
}
