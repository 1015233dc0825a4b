package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/user-management/internal/auth"
	"github.com/spec-kit/user-management/internal/domain"
	"github.com/spec-kit/user-management/internal/events"
	"github.com/spec-kit/user-management/internal/repository"
	apperrors "github.com/spec-kit/user-management/pkg/util"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	// keeps Page*Size within a Postgres int4 OFFSET
	maxPageIndex = math.MaxInt32 / maxPageSize
)

var (
	// readers may list and inspect any account.
	readers = []domain.Role{domain.RoleAdmin, domain.RoleManager}
	// editors may modify any account.
	editors = []domain.Role{domain.RoleAdmin}
)

// CreateUserInput carries the fields for a new account.
type CreateUserInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	Role      domain.Role
}

// UpdateUserInput carries optional field changes; nil means unchanged.
type UpdateUserInput struct {
	Email     *string
	FirstName *string
	LastName  *string
	Phone     *string
	Role      *domain.Role
	Active    *bool
}

// PageRequest selects one page of a listing. Page is zero-based.
type PageRequest struct {
	Page     int
	Size     int
	SortBy   repository.SortField
	SortDesc bool
}

// Page is one slice of a larger result set.
type Page[T any] struct {
	Items         []T
	Page          int
	Size          int
	TotalElements int64
	TotalPages    int
}

// UserService implements account management on top of the user directory.
type UserService struct {
	users      repository.UserRepository
	hasher     auth.PasswordHasher
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// UserDependencies encapsulates collaborators for the user service.
type UserDependencies struct {
	UserRepo   repository.UserRepository
	Hasher     auth.PasswordHasher
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewUserService builds the service.
func NewUserService(deps UserDependencies) *UserService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewInMemoryDispatcher()
	}
	return &UserService{
		users:      deps.UserRepo,
		hasher:     deps.Hasher,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Create registers a new account. Only administrators may assign a role other than USER.
func (s *UserService) Create(ctx context.Context, actor *auth.Principal, in CreateUserInput) (*domain.User, error) {
	role := in.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": string(role)})
	}
	if role != domain.RoleUser {
		if err := auth.Require(actor, auth.AnyRole(editors...)); err != nil {
			return nil, err
		}
	}

	if exists, err := s.users.ExistsByUsername(ctx, in.Username); err != nil {
		return nil, err
	} else if exists {
		return nil, apperrors.NewConflict("username already exists", map[string]any{"username": in.Username})
	}
	if exists, err := s.users.ExistsByEmail(ctx, in.Email); err != nil {
		return nil, err
	} else if exists {
		return nil, apperrors.NewConflict("email already exists", map[string]any{"email": in.Email})
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		Role:         role,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict("username or email already exists", nil)
		}
		return nil, err
	}

	s.publish(ctx, events.NewEvent(events.EventUserRegistered, user.ID, actorOf(actor), events.UserRegisteredPayload{
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	}))
	return user, nil
}

// GetByID returns an account to its owner or to a reader.
func (s *UserService) GetByID(ctx context.Context, actor *auth.Principal, id string) (*domain.User, error) {
	return s.loadAuthorized(ctx, actor, readers, func() (*domain.User, error) {
		return s.users.GetByID(ctx, id)
	})
}

// GetByUsername returns an account to its owner or to a reader.
func (s *UserService) GetByUsername(ctx context.Context, actor *auth.Principal, username string) (*domain.User, error) {
	return s.loadAuthorized(ctx, actor, readers, func() (*domain.User, error) {
		return s.users.GetByUsername(ctx, username)
	})
}

// List returns one page of accounts.
func (s *UserService) List(ctx context.Context, actor *auth.Principal, req PageRequest) (*Page[domain.User], error) {
	if err := auth.Require(actor, auth.AnyRole(readers...)); err != nil {
		return nil, err
	}
	return s.page(ctx, repository.UserFilter{}, req)
}

// Search returns accounts whose username, email or names contain query, case-insensitively.
func (s *UserService) Search(ctx context.Context, actor *auth.Principal, query string, req PageRequest) (*Page[domain.User], error) {
	if err := auth.Require(actor, auth.AnyRole(readers...)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.NewValidationError("query required", nil)
	}
	return s.page(ctx, repository.UserFilter{Search: query}, req)
}

// ListAll returns every account without paging.
func (s *UserService) ListAll(ctx context.Context, actor *auth.Principal) ([]domain.User, error) {
	if err := auth.Require(actor, auth.AnyRole(readers...)); err != nil {
		return nil, err
	}
	users, _, err := s.users.List(ctx, repository.UserFilter{SortBy: repository.SortByCreatedAt})
	return users, err
}

// ListByRole returns every account holding role.
func (s *UserService) ListByRole(ctx context.Context, actor *auth.Principal, role domain.Role) ([]domain.User, error) {
	if err := auth.Require(actor, auth.AnyRole(readers...)); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": string(role)})
	}
	users, _, err := s.users.List(ctx, repository.UserFilter{Role: &role, SortBy: repository.SortByUsername})
	return users, err
}

// Stats returns account counts.
func (s *UserService) Stats(ctx context.Context, actor *auth.Principal) (domain.UserStats, error) {
	if err := auth.Require(actor, auth.AnyRole(readers...)); err != nil {
		return domain.UserStats{}, err
	}
	return s.users.Stats(ctx)
}

// Update changes profile fields. Owners may edit their own profile; only
// editors may change role or active status.
func (s *UserService) Update(ctx context.Context, actor *auth.Principal, id string, in UpdateUserInput) (*domain.User, error) {
	user, err := s.loadAuthorized(ctx, actor, editors, func() (*domain.User, error) {
		return s.users.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if in.Role != nil || in.Active != nil {
		if err := auth.Require(actor, auth.AnyRole(editors...)); err != nil {
			return nil, err
		}
	}

	var changed []string
	if in.Email != nil && !strings.EqualFold(*in.Email, user.Email) {
		exists, err := s.users.ExistsByEmail(ctx, *in.Email)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, apperrors.NewConflict("email already exists", map[string]any{"email": *in.Email})
		}
		user.Email = *in.Email
		changed = append(changed, "email")
	}
	if in.FirstName != nil {
		user.FirstName = *in.FirstName
		changed = append(changed, "first_name")
	}
	if in.LastName != nil {
		user.LastName = *in.LastName
		changed = append(changed, "last_name")
	}
	if in.Phone != nil {
		user.Phone = *in.Phone
		changed = append(changed, "phone")
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": string(*in.Role)})
		}
		user.Role = *in.Role
		changed = append(changed, "role")
	}
	wasActive := user.Active
	if in.Active != nil {
		user.Active = *in.Active
		changed = append(changed, "active")
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict("email already exists", nil)
		}
		return nil, err
	}

	s.publish(ctx, events.NewEvent(events.EventUserUpdated, user.ID, actorOf(actor), events.UserUpdatedPayload{Fields: changed}))
	if wasActive != user.Active {
		s.publishStatus(ctx, actor, user)
	}
	return user, nil
}

// Delete removes an account.
func (s *UserService) Delete(ctx context.Context, actor *auth.Principal, id string) error {
	if err := auth.Require(actor, auth.AnyRole(editors...)); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("user", map[string]any{"id": id})
		}
		return err
	}
	s.publish(ctx, events.NewEvent(events.EventUserDeleted, id, actorOf(actor), nil))
	return nil
}

// Activate re-enables an account.
func (s *UserService) Activate(ctx context.Context, actor *auth.Principal, id string) error {
	return s.setActive(ctx, actor, id, true)
}

// Deactivate disables an account. Tokens already issued to it stop working on
// their next use because the gate re-reads the active flag.
func (s *UserService) Deactivate(ctx context.Context, actor *auth.Principal, id string) error {
	return s.setActive(ctx, actor, id, false)
}

// ChangePassword replaces the password of username after checking the current one.
func (s *UserService) ChangePassword(ctx context.Context, actor *auth.Principal, username, currentPassword, newPassword string) error {
	user, err := s.loadAuthorized(ctx, actor, editors, func() (*domain.User, error) {
		return s.users.GetByUsername(ctx, username)
	})
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(user.PasswordHash, currentPassword); err != nil {
		return apperrors.NewValidationError("current password is incorrect", nil)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	s.publish(ctx, events.NewEvent(events.EventPasswordChanged, user.ID, actorOf(actor), nil))
	return nil
}

func (s *UserService) setActive(ctx context.Context, actor *auth.Principal, id string, active bool) error {
	if err := auth.Require(actor, auth.AnyRole(editors...)); err != nil {
		return err
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("user", map[string]any{"id": id})
		}
		return err
	}
	if user.Active == active {
		return nil
	}
	user.Active = active
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	s.publishStatus(ctx, actor, user)
	return nil
}

// loadAuthorized fetches a target account and applies the self-or-role rule.
// Callers without a privileged role get 403 for missing accounts too, so ids
// and usernames cannot be probed.
func (s *UserService) loadAuthorized(ctx context.Context, actor *auth.Principal, privileged []domain.Role, fetch func() (*domain.User, error)) (*domain.User, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	user, err := fetch()
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if actor.HasRole(privileged...) {
				return nil, apperrors.NewNotFound("user", nil)
			}
			return nil, auth.Require(actor, auth.AnyRole(privileged...))
		}
		return nil, err
	}
	if err := auth.Require(actor, auth.SelfOrAnyRole(user.Username, privileged...)); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) page(ctx context.Context, filter repository.UserFilter, req PageRequest) (*Page[domain.User], error) {
	req = normalizePage(req)
	filter.SortBy = req.SortBy
	filter.SortDesc = req.SortDesc
	filter.Limit = req.Size
	filter.Offset = req.Page * req.Size

	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	totalPages := int((total + int64(req.Size) - 1) / int64(req.Size))
	return &Page[domain.User]{
		Items:         users,
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: total,
		TotalPages:    totalPages,
	}, nil
}

func normalizePage(req PageRequest) PageRequest {
	if req.Page < 0 {
		req.Page = 0
	}
	if req.Page > maxPageIndex {
		req.Page = maxPageIndex
	}
	if req.Size <= 0 {
		req.Size = defaultPageSize
	}
	if req.Size > maxPageSize {
		req.Size = maxPageSize
	}
	if req.SortBy == "" {
		req.SortBy = repository.SortByCreatedAt
	}
	return req
}

func (s *UserService) publishStatus(ctx context.Context, actor *auth.Principal, user *domain.User) {
	eventType := events.EventUserDeactivated
	if user.Active {
		eventType = events.EventUserActivated
	}
	s.publish(ctx, events.NewEvent(eventType, user.ID, actorOf(actor), nil))
}

func (s *UserService) publish(ctx context.Context, event events.Event) {
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func actorOf(p *auth.Principal) events.Actor {
	if p == nil {
		return events.Actor{}
	}
	return events.Actor{Username: p.Subject, Role: p.Role}
}
