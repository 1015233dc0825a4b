package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/user-management/internal/auth"
	"github.com/spec-kit/user-management/internal/config"
	"github.com/spec-kit/user-management/internal/domain"
	"github.com/spec-kit/user-management/internal/events"
	"github.com/spec-kit/user-management/internal/observability"
	"github.com/spec-kit/user-management/internal/repository"
	apperrors "github.com/spec-kit/user-management/pkg/util"
)

const invalidResetToken = "invalid or expired reset token"

// LoginLimiter throttles repeated failed logins per identifier.
type LoginLimiter interface {
	Allowed(ctx context.Context, identifier string) (bool, error)
	RecordFailure(ctx context.Context, identifier string) (int64, error)
	Reset(ctx context.Context, identifier string) error
	RetryAfter(ctx context.Context, identifier string) (time.Duration, error)
}

// AuthResult is returned by flows that issue an access token.
type AuthResult struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// TokenStatus describes a presented token without rejecting the request.
type TokenStatus struct {
	Valid     bool
	Username  string
	ExpiresAt *time.Time
}

// AuthService coordinates registration, login and password flows.
type AuthService struct {
	users      repository.UserRepository
	resets     repository.PasswordResetRepository
	accounts   *UserService
	tokens     *auth.TokenManager
	verifier   *auth.CredentialVerifier
	hasher     auth.PasswordHasher
	limiter    LoginLimiter
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	resetTTL   time.Duration
	now        func() time.Time
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo          repository.UserRepository
	PasswordResetRepo repository.PasswordResetRepository
	Accounts          *UserService
	Tokens            *auth.TokenManager
	Hasher            auth.PasswordHasher
	// Limiter may be nil when Redis is not configured.
	Limiter    LoginLimiter
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewInMemoryDispatcher()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		users:      deps.UserRepo,
		resets:     deps.PasswordResetRepo,
		accounts:   deps.Accounts,
		tokens:     deps.Tokens,
		verifier:   auth.NewCredentialVerifier(deps.UserRepo, deps.Hasher),
		hasher:     deps.Hasher,
		limiter:    deps.Limiter,
		dispatcher: dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		resetTTL:   cfg.PasswordResetTTL(),
		now:        now,
	}
}

// Register creates an account and signs it in.
func (s *AuthService) Register(ctx context.Context, actor *auth.Principal, in CreateUserInput) (*AuthResult, error) {
	user, err := s.accounts.Create(ctx, actor, in)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAuthEvent("register")
	return s.issue(user)
}

// Login verifies credentials and issues a token. Unknown identifiers and
// wrong passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	identifier = strings.TrimSpace(identifier)
	if s.limiter != nil {
		allowed, err := s.limiter.Allowed(ctx, identifier)
		if err != nil {
			s.logger.Warn("login limiter unavailable", zap.Error(err))
		} else if !allowed {
			s.metrics.RecordAuthEvent("login_throttled")
			retry, err := s.limiter.RetryAfter(ctx, identifier)
			if err != nil {
				s.logger.Warn("login limiter ttl unavailable", zap.Error(err))
			}
			return nil, apperrors.NewTooManyRequests("too many failed login attempts, try again later", retry)
		}
	}

	user, err := s.verifier.Authenticate(ctx, identifier, password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.recordFailure(ctx, identifier)
		s.metrics.RecordAuthEvent("login_failure")
		return nil, apperrors.NewUnauthorized(auth.ErrInvalidCredentials.Error())
	case errors.Is(err, auth.ErrAccountDeactivated):
		s.metrics.RecordAuthEvent("login_deactivated")
		return nil, apperrors.NewForbidden(auth.ErrAccountDeactivated.Error())
	case err != nil:
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, identifier); err != nil {
			s.logger.Warn("failed to reset login limiter", zap.Error(err))
		}
	}
	s.metrics.RecordAuthEvent("login_success")
	s.logger.Info("user logged in", zap.String("username", user.Username))
	return s.issue(user)
}

// Refresh issues a new token for an already authenticated principal.
func (s *AuthService) Refresh(ctx context.Context, principal *auth.Principal) (*AuthResult, error) {
	user, err := s.Me(ctx, principal)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAuthEvent("refresh")
	return s.issue(user)
}

// ValidateToken reports whether the bearer token in header would be accepted
// by the authentication gate.
func (s *AuthService) ValidateToken(ctx context.Context, header string) (*TokenStatus, error) {
	token, ok := auth.BearerToken(header)
	if !ok {
		return nil, apperrors.NewBadRequest("bearer token required")
	}

	status := &TokenStatus{}
	if exp, err := s.tokens.Expiry(token); err == nil {
		status.ExpiresAt = &exp
	}
	subject, err := s.tokens.Subject(token)
	if err != nil {
		return status, nil
	}
	status.Username = subject

	user, err := s.users.GetByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return status, nil
		}
		return nil, err
	}
	principal := &auth.Principal{UserID: user.ID, Subject: user.Username, Role: user.Role}
	status.Valid = user.Active && s.tokens.Validate(token, principal)
	return status, nil
}

// Logout acknowledges the request. Tokens stay valid until they expire.
func (s *AuthService) Logout(_ context.Context, principal *auth.Principal) error {
	if principal != nil {
		s.logger.Info("user logged out", zap.String("username", principal.Subject))
	}
	s.metrics.RecordAuthEvent("logout")
	return nil
}

// Me returns the current account of principal.
func (s *AuthService) Me(ctx context.Context, principal *auth.Principal) (*domain.User, error) {
	if principal == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	user, err := s.users.GetByUsername(ctx, principal.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewUnauthorized("authentication required")
		}
		return nil, err
	}
	return user, nil
}

// RequestPasswordReset creates a single-use reset token when email belongs to
// an active account. The outcome is not revealed to the caller.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	if !user.Active {
		return nil
	}

	token := &domain.PasswordResetToken{
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: s.now().Add(s.resetTTL).UTC(),
	}
	if err := s.resets.Create(ctx, token); err != nil {
		return err
	}

	s.metrics.RecordAuthEvent("password_reset_requested")
	s.publish(ctx, events.NewEvent(events.EventPasswordResetRequested, user.ID, events.Actor{}, events.PasswordResetRequestedPayload{
		Email:     user.Email,
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
	}))
	return nil
}

// ConfirmPasswordReset redeems a reset token and replaces the password.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, tokenStr, newPassword string) error {
	token, err := s.resets.GetByToken(ctx, tokenStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewBadRequest(invalidResetToken)
		}
		return err
	}
	if !token.Usable(s.now()) {
		return apperrors.NewBadRequest(invalidResetToken)
	}
	if err := s.resets.MarkUsed(ctx, token.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewBadRequest(invalidResetToken)
		}
		return err
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewBadRequest(invalidResetToken)
		}
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	s.metrics.RecordAuthEvent("password_reset_completed")
	s.publish(ctx, events.NewEvent(events.EventPasswordResetCompleted, user.ID, events.Actor{}, nil))
	return nil
}

// Tokens exposes the token codec for the authentication gate.
func (s *AuthService) Tokens() *auth.TokenManager {
	return s.tokens
}

func (s *AuthService) issue(user *domain.User) (*AuthResult, error) {
	token, exp, err := s.tokens.Issue(user.Username, map[string]any{
		"uid":  user.ID,
		"role": string(user.Role),
	})
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: exp}, nil
}

func (s *AuthService) recordFailure(ctx context.Context, identifier string) {
	if s.limiter == nil {
		return
	}
	if _, err := s.limiter.RecordFailure(ctx, identifier); err != nil {
		s.logger.Warn("failed to record login failure", zap.Error(err))
	}
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}
