package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/user-management/internal/domain"
	apperrors "github.com/spec-kit/user-management/pkg/util"
)

// ErrForbidden is returned when a known principal is not allowed to act.
var ErrForbidden = errors.New("authorization denied")

// Decision is the outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

// Allowed reports whether d permits the operation.
func (d Decision) Allowed() bool {
	return d == Allow
}

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Rule decides whether a principal may perform an operation.
type Rule interface {
	Evaluate(principal *Principal) Decision
}

type roleSetRule struct {
	roles []domain.Role
}

// AnyRole allows principals holding one of roles.
func AnyRole(roles ...domain.Role) Rule {
	return roleSetRule{roles: roles}
}

func (r roleSetRule) Evaluate(principal *Principal) Decision {
	if principal.HasRole(r.roles...) {
		return Allow
	}
	return Deny
}

type selfOrRoleRule struct {
	target string
	roles  []domain.Role
}

// SelfOrAnyRole allows the principal whose subject equals target, or any
// principal holding one of roles.
func SelfOrAnyRole(target string, roles ...domain.Role) Rule {
	return selfOrRoleRule{target: target, roles: roles}
}

func (r selfOrRoleRule) Evaluate(principal *Principal) Decision {
	if principal == nil {
		return Deny
	}
	if r.target != "" && principal.Subject == r.target {
		return Allow
	}
	if principal.HasRole(r.roles...) {
		return Allow
	}
	return Deny
}

// Authorize evaluates rule for principal. A nil principal or rule is denied.
func Authorize(principal *Principal, rule Rule) Decision {
	if principal == nil || rule == nil {
		return Deny
	}
	return rule.Evaluate(principal)
}

// Require converts an authorization decision into an HTTP-facing error:
// 401 when there is no principal, 403 when the principal is denied.
func Require(principal *Principal, rule Rule) error {
	if principal == nil {
		return apperrors.NewUnauthorized("authentication required")
	}
	if !Authorize(principal, rule).Allowed() {
		return &apperrors.DomainError{
			Code:       "FORBIDDEN",
			Message:    "insufficient permissions",
			HTTPStatus: fiber.StatusForbidden,
			Err:        ErrForbidden,
		}
	}
	return nil
}

// RequireRoles is a route-level guard mounted after AuthMiddleware.Handle.
func RequireRoles(roles ...domain.Role) fiber.Handler {
	rule := AnyRole(roles...)
	return func(c *fiber.Ctx) error {
		principal, _ := PrincipalFromContext(c)
		if err := Require(principal, rule); err != nil {
			return err
		}
		return c.Next()
	}
}
