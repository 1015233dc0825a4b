package dto

import (
	"errors"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/spec-kit/user-management/internal/domain"
	"github.com/spec-kit/user-management/internal/service"
)

var phonePattern = regexp.MustCompile(`^[+]?[0-9]{10,15}$`)

// CreateUserRequest payload for POST /api/users and POST /api/auth/register.
type CreateUserRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Role      string `json:"role,omitempty"`
}

// Validate checks field constraints.
func (r CreateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 50)),
		validation.Field(&r.Email, validation.Required, validation.Length(0, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(&r.FirstName, validation.Length(0, 100)),
		validation.Field(&r.LastName, validation.Length(0, 100)),
		validation.Field(&r.Phone, validation.Match(phonePattern)),
		validation.Field(&r.Role, validation.By(validRole)),
	)
}

// Input converts the request into service input.
func (r CreateUserRequest) Input() service.CreateUserInput {
	role, _ := domain.ParseRole(r.Role)
	return service.CreateUserInput{
		Username:  r.Username,
		Email:     r.Email,
		Password:  r.Password,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Phone:     r.Phone,
		Role:      role,
	}
}

// UpdateUserRequest payload for PUT /api/users/:id. Omitted fields are left unchanged.
type UpdateUserRequest struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Phone     *string `json:"phone"`
	Role      *string `json:"role"`
	Active    *bool   `json:"active"`
}

// Validate checks field constraints on the fields present.
func (r UpdateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.By(notBlank), validation.Length(0, 100), is.Email),
		validation.Field(&r.FirstName, validation.Length(0, 100)),
		validation.Field(&r.LastName, validation.Length(0, 100)),
		validation.Field(&r.Phone, validation.Match(phonePattern)),
		validation.Field(&r.Role, validation.By(notBlank), validation.By(validRole)),
	)
}

// Input converts the request into service input.
func (r UpdateUserRequest) Input() service.UpdateUserInput {
	in := service.UpdateUserInput{
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Phone:     r.Phone,
		Active:    r.Active,
	}
	if r.Role != nil {
		role, _ := domain.ParseRole(*r.Role)
		in.Role = &role
	}
	return in
}

// UserResponse is the public profile of an account.
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUserResponse maps a domain user, dropping the password hash.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
		Role:      string(u.Role),
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// NewUserResponses maps a slice of users.
func NewUserResponses(users []domain.User) []UserResponse {
	resp := make([]UserResponse, 0, len(users))
	for i := range users {
		resp = append(resp, NewUserResponse(&users[i]))
	}
	return resp
}

// UserPageResponse is one page of users.
type UserPageResponse struct {
	Content       []UserResponse `json:"content"`
	Page          int            `json:"page"`
	Size          int            `json:"size"`
	TotalElements int64          `json:"total_elements"`
	TotalPages    int            `json:"total_pages"`
}

// NewUserPageResponse maps a service page.
func NewUserPageResponse(p *service.Page[domain.User]) UserPageResponse {
	return UserPageResponse{
		Content:       NewUserResponses(p.Items),
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
	}
}

// UserStatsResponse summarises account counts.
type UserStatsResponse struct {
	TotalUsers    int64            `json:"total_users"`
	ActiveUsers   int64            `json:"active_users"`
	InactiveUsers int64            `json:"inactive_users"`
	ByRole        map[string]int64 `json:"by_role"`
}

// NewUserStatsResponse maps domain stats.
func NewUserStatsResponse(s domain.UserStats) UserStatsResponse {
	byRole := make(map[string]int64, len(s.ByRole))
	for role, n := range s.ByRole {
		byRole[string(role)] = n
	}
	return UserStatsResponse{
		TotalUsers:    s.Total,
		ActiveUsers:   s.Active,
		InactiveUsers: s.Total - s.Active,
		ByRole:        byRole,
	}
}

func validRole(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case *string:
		if v == nil {
			return nil
		}
		raw = *v
	}
	if raw == "" {
		return nil
	}
	if _, ok := domain.ParseRole(raw); !ok {
		return errors.New("must be one of ADMIN, MANAGER, USER, GUEST")
	}
	return nil
}

// notBlank rejects an explicitly supplied empty value on optional fields.
func notBlank(value interface{}) error {
	if v, ok := value.(*string); ok && v != nil && strings.TrimSpace(*v) == "" {
		return errors.New("cannot be blank")
	}
	return nil
}
