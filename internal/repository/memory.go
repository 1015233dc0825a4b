package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/user-management/internal/domain"
)

const sortTimeLayout = "2006-01-02T15:04:05.000000000"

// memoryUserRepository keeps users in process memory. It backs the service
// when no database is configured.
type memoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]domain.User
	now   func() time.Time
}

// NewMemoryUserRepository returns an empty in-memory user store.
func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{
		users: make(map[string]domain.User),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *memoryUserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Username == user.Username || strings.EqualFold(existing.Email, user.Email) {
			return ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := r.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = *user
	return nil
}

func (r *memoryUserRepository) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.users[user.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	for id, existing := range r.users {
		if id != user.ID && strings.EqualFold(existing.Email, user.Email) {
			return ErrDuplicate
		}
	}
	user.Username = current.Username
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = r.now()
	r.users[user.ID] = *user
	return nil
}

func (r *memoryUserRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.users, id)
	return nil
}

func (r *memoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}

func (r *memoryUserRepository) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Username == username })
}

func (r *memoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *memoryUserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := r.GetByUsername(ctx, username)
	return err == nil, nil
}

func (r *memoryUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	return err == nil, nil
}

func (r *memoryUserRepository) List(_ context.Context, filter UserFilter) ([]domain.User, int64, error) {
	r.mu.RLock()
	matched := make([]domain.User, 0, len(r.users))
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	for _, u := range r.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && u.Active != *filter.Active {
			continue
		}
		if search != "" && !matchesSearch(u, search) {
			continue
		}
		matched = append(matched, u)
	}
	r.mu.RUnlock()

	sortBy, ok := ParseSortField(string(filter.SortBy))
	if !ok {
		sortBy = SortByCreatedAt
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := sortKey(matched[i], sortBy), sortKey(matched[j], sortBy)
		if a == b {
			return matched[i].ID < matched[j].ID
		}
		if filter.SortDesc {
			return a > b
		}
		return a < b
	})

	total := int64(len(matched))
	if filter.Limit <= 0 {
		return matched, total, nil
	}
	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *memoryUserRepository) Stats(_ context.Context) (domain.UserStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.UserStats{ByRole: make(map[domain.Role]int64, len(domain.Roles))}
	for _, role := range domain.Roles {
		stats.ByRole[role] = 0
	}
	for _, u := range r.users {
		stats.Total++
		if u.Active {
			stats.Active++
		}
		stats.ByRole[u.Role]++
	}
	return stats, nil
}

func (r *memoryUserRepository) find(match func(domain.User) bool) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if match(u) {
			found := u
			return &found, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func matchesSearch(u domain.User, needle string) bool {
	for _, field := range []string{u.Username, u.Email, u.FirstName, u.LastName} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func sortKey(u domain.User, field SortField) string {
	switch field {
	case SortByUsername:
		return u.Username
	case SortByEmail:
		return strings.ToLower(u.Email)
	case SortByFirstName:
		return u.FirstName
	case SortByLastName:
		return u.LastName
	case SortByRole:
		return string(u.Role)
	case SortByID:
		return u.ID
	case SortByUpdatedAt:
		return u.UpdatedAt.UTC().Format(sortTimeLayout)
	default:
		return u.CreatedAt.UTC().Format(sortTimeLayout)
	}
}

type memoryPasswordResetRepository struct {
	mu     sync.Mutex
	tokens map[string]domain.PasswordResetToken
}

// NewMemoryPasswordResetRepository returns an in-memory reset token store.
func NewMemoryPasswordResetRepository() PasswordResetRepository {
	return &memoryPasswordResetRepository{tokens: make(map[string]domain.PasswordResetToken)}
}

func (r *memoryPasswordResetRepository) Create(_ context.Context, token *domain.PasswordResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	token.CreatedAt = time.Now().UTC()
	r.tokens[token.ID] = *token
	return nil
}

func (r *memoryPasswordResetRepository) GetByToken(_ context.Context, tokenStr string) (*domain.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tokens {
		if t.Token == tokenStr {
			found := t
			return &found, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memoryPasswordResetRepository) MarkUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[id]
	if !ok || t.UsedAt != nil {
		return pgx.ErrNoRows
	}
	now := time.Now().UTC()
	t.UsedAt = &now
	r.tokens[id] = t
	return nil
}
