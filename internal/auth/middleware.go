package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/user-management/internal/domain"
	apperrors "github.com/spec-kit/user-management/pkg/util"
)

const (
	principalKey = "auth_principal"
	bearerPrefix = "Bearer "
)

var (
	// ErrNoToken means the request carried no bearer token at all.
	ErrNoToken = errors.New("no bearer token")
	// ErrUnauthenticated is the gate-level rejection for every token or principal failure.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Principal represents the authenticated caller.
type Principal struct {
	UserID  string
	Subject string
	Role    domain.Role
}

// HasRole reports whether the principal holds one of roles.
func (p *Principal) HasRole(roles ...domain.Role) bool {
	if p == nil {
		return false
	}
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}

// PrincipalLookup resolves the current state of a token subject.
type PrincipalLookup interface {
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens *TokenManager
	users  PrincipalLookup
	logger *zap.Logger
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, users PrincipalLookup, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{tokens: tokens, users: users, logger: logger}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate runs the token pipeline for a single request. Token and principal
// failures collapse into ErrUnauthenticated; only directory outages surface as-is.
func (m *AuthMiddleware) Authenticate(ctx context.Context, authHeader string) (*Principal, error) {
	token, ok := BearerToken(authHeader)
	if !ok {
		return nil, ErrNoToken
	}

	subject, err := m.tokens.Subject(token)
	if err != nil {
		m.logger.Debug("token rejected", zap.Error(err))
		return nil, ErrUnauthenticated
	}

	user, err := m.users.GetByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			m.logger.Debug("token subject not found", zap.String("subject", subject))
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	if !user.Active {
		m.logger.Debug("token subject deactivated", zap.String("subject", subject))
		return nil, ErrUnauthenticated
	}

	principal := &Principal{UserID: user.ID, Subject: user.Username, Role: user.Role}
	if !m.tokens.Validate(token, principal) {
		return nil, ErrUnauthenticated
	}
	return principal, nil
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	principal, err := m.Authenticate(c.UserContext(), c.Get(fiber.HeaderAuthorization))
	switch {
	case errors.Is(err, ErrNoToken):
		return apperrors.NewUnauthorized("authentication required")
	case errors.Is(err, ErrUnauthenticated):
		return apperrors.NewUnauthorized("invalid or expired token")
	case err != nil:
		return apperrors.MapError(err)
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

// Optional attaches a principal when a valid token is present and otherwise
// lets the request through unauthenticated. Only mount it on public routes.
func (m *AuthMiddleware) Optional(c *fiber.Ctx) error {
	principal, err := m.Authenticate(c.UserContext(), c.Get(fiber.HeaderAuthorization))
	if err == nil {
		c.Locals(principalKey, principal)
	} else if !errors.Is(err, ErrNoToken) && !errors.Is(err, ErrUnauthenticated) {
		return apperrors.MapError(err)
	}
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok && principal != nil
}

// PrincipalHandler is a route handler that receives the caller explicitly.
type PrincipalHandler func(c *fiber.Ctx, principal *Principal) error

// WithPrincipal adapts h for routes mounted behind Handle.
func WithPrincipal(h PrincipalHandler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		return h(c, principal)
	}
}

// WithOptionalPrincipal adapts h for public routes; principal may be nil.
func WithOptionalPrincipal(h PrincipalHandler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, _ := PrincipalFromContext(c)
		return h(c, principal)
	}
}
