package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/user-management/internal/api/dto"
	"github.com/spec-kit/user-management/internal/auth"
	"github.com/spec-kit/user-management/internal/service"
	apperrors "github.com/spec-kit/user-management/pkg/util"
)

// AuthHandler exposes login, registration, token and password reset endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.auth.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAuthResponse(res)})
}

// Register handles POST /api/auth/register. The account always gets the USER role.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.CreateUserRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.Role = ""

	res, err := h.auth.Register(c.UserContext(), nil, req.Input())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewAuthResponse(res)})
}

// Validate handles POST /api/auth/validate. Bad tokens report valid=false
// rather than failing the request.
func (h *AuthHandler) Validate(c *fiber.Ctx) error {
	status, err := h.auth.ValidateToken(c.UserContext(), c.Get(fiber.HeaderAuthorization))
	if err != nil {
		domainErr := apperrors.ToDomainError(err)
		if domainErr.HTTPStatus >= http.StatusInternalServerError {
			return err
		}
		return c.Status(domainErr.HTTPStatus).JSON(fiber.Map{
			"data": dto.TokenValidationResponse{Valid: false},
		})
	}
	return c.JSON(fiber.Map{"data": dto.NewTokenValidationResponse(status)})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx, principal *auth.Principal) error {
	res, err := h.auth.Refresh(c.UserContext(), principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAuthResponse(res)})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx, principal *auth.Principal) error {
	if err := h.auth.Logout(c.UserContext(), principal); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "logged_out"}})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx, principal *auth.Principal) error {
	user, err := h.auth.Me(c.UserContext(), principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// ForgotPassword handles POST /api/auth/forgot-password. The response does
// not reveal whether the email is registered.
func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	var req dto.PasswordResetRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.auth.RequestPasswordReset(c.UserContext(), req.Email); err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"data": fiber.Map{"message": "if the email is registered, a reset link has been sent"},
	})
}

// ResetPassword handles POST /api/auth/reset-password.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req dto.PasswordResetConfirmRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.auth.ConfirmPasswordReset(c.UserContext(), req.Token, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "password_reset"}})
}
