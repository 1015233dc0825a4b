package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/user-management/internal/api/dto"
	"github.com/spec-kit/user-management/internal/auth"
	"github.com/spec-kit/user-management/internal/domain"
	"github.com/spec-kit/user-management/internal/service"
	apperrors "github.com/spec-kit/user-management/pkg/util"
)

// UsersHandler exposes account management endpoints.
type UsersHandler struct {
	users *service.UserService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(userService *service.UserService) *UsersHandler {
	return &UsersHandler{users: userService}
}

// Health handles GET /api/users/health.
func (h *UsersHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "UP", "service": "users"}})
}

// Create handles POST /api/users. Anonymous callers may register; only an
// administrator may choose a role other than USER.
func (h *UsersHandler) Create(c *fiber.Ctx, principal *auth.Principal) error {
	var req dto.CreateUserRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	user, err := h.users.Create(c.UserContext(), principal, req.Input())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// List handles GET /api/users.
func (h *UsersHandler) List(c *fiber.Ctx, principal *auth.Principal) error {
	req, err := parsePageRequest(c)
	if err != nil {
		return err
	}
	page, err := h.users.List(c.UserContext(), principal, req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserPageResponse(page)})
}

// All handles GET /api/users/all.
func (h *UsersHandler) All(c *fiber.Ctx, principal *auth.Principal) error {
	users, err := h.users.ListAll(c.UserContext(), principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponses(users)})
}

// ByRole handles GET /api/users/role/:role.
func (h *UsersHandler) ByRole(c *fiber.Ctx, principal *auth.Principal) error {
	role, ok := domain.ParseRole(c.Params("role"))
	if !ok {
		return apperrors.NewValidationError("invalid role", map[string]any{"role": c.Params("role")})
	}
	users, err := h.users.ListByRole(c.UserContext(), principal, role)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponses(users)})
}

// Search handles GET /api/users/search?query=.
func (h *UsersHandler) Search(c *fiber.Ctx, principal *auth.Principal) error {
	req, err := parsePageRequest(c)
	if err != nil {
		return err
	}
	page, err := h.users.Search(c.UserContext(), principal, c.Query("query"), req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserPageResponse(page)})
}

// Stats handles GET /api/users/stats.
func (h *UsersHandler) Stats(c *fiber.Ctx, principal *auth.Principal) error {
	stats, err := h.users.Stats(c.UserContext(), principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserStatsResponse(stats)})
}

// Get handles GET /api/users/:id.
func (h *UsersHandler) Get(c *fiber.Ctx, principal *auth.Principal) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}
	user, err := h.users.GetByID(c.UserContext(), principal, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// GetByUsername handles GET /api/users/username/:username.
func (h *UsersHandler) GetByUsername(c *fiber.Ctx, principal *auth.Principal) error {
	user, err := h.users.GetByUsername(c.UserContext(), principal, c.Params("username"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// Update handles PUT /api/users/:id.
func (h *UsersHandler) Update(c *fiber.Ctx, principal *auth.Principal) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}
	var req dto.UpdateUserRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	user, err := h.users.Update(c.UserContext(), principal, id, req.Input())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// Delete handles DELETE /api/users/:id.
func (h *UsersHandler) Delete(c *fiber.Ctx, principal *auth.Principal) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}
	if err := h.users.Delete(c.UserContext(), principal, id); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Activate handles PATCH /api/users/:id/activate.
func (h *UsersHandler) Activate(c *fiber.Ctx, principal *auth.Principal) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}
	if err := h.users.Activate(c.UserContext(), principal, id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "activated"}})
}

// Deactivate handles PATCH /api/users/:id/deactivate.
func (h *UsersHandler) Deactivate(c *fiber.Ctx, principal *auth.Principal) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}
	if err := h.users.Deactivate(c.UserContext(), principal, id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "deactivated"}})
}

// ChangePassword handles POST /api/users/change-password?username=. The
// username defaults to the caller.
func (h *UsersHandler) ChangePassword(c *fiber.Ctx, principal *auth.Principal) error {
	var req dto.PasswordChangeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	username := c.Query("username", principal.Subject)
	if err := h.users.ChangePassword(c.UserContext(), principal, username, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "password_changed"}})
}
