package dto

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/spec-kit/user-management/internal/service"
)

// TokenType is the scheme clients must use when presenting access tokens.
const TokenType = "Bearer"

// LoginRequest payload. Username may also hold an email address.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate checks field constraints.
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 100)),
	)
}

// AuthResponse standard response for endpoints that issue a token.
type AuthResponse struct {
	Token     string       `json:"token"`
	Type      string       `json:"type"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// NewAuthResponse maps a service auth result.
func NewAuthResponse(res *service.AuthResult) AuthResponse {
	return AuthResponse{
		Token:     res.Token,
		Type:      TokenType,
		ExpiresAt: res.ExpiresAt,
		User:      NewUserResponse(res.User),
	}
}

// TokenValidationResponse reports the state of a presented token.
type TokenValidationResponse struct {
	Valid     bool       `json:"valid"`
	Username  string     `json:"username,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewTokenValidationResponse maps a service token status.
func NewTokenValidationResponse(st *service.TokenStatus) TokenValidationResponse {
	resp := TokenValidationResponse{Valid: st.Valid, ExpiresAt: st.ExpiresAt}
	if st.Valid {
		resp.Username = st.Username
	}
	return resp
}

// PasswordResetRequest payload for initiating reset.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// Validate checks field constraints.
func (r PasswordResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(0, 100), is.Email),
	)
}

// PasswordResetConfirmRequest payload for confirming reset.
type PasswordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// Validate checks field constraints.
func (r PasswordResetConfirmRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(6, 100)),
	)
}

// PasswordChangeRequest payload for authenticated password changes.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Validate checks field constraints.
func (r PasswordChangeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(6, 100)),
	)
}
