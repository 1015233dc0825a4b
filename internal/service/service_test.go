package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/user-management/internal/auth"
	"github.com/spec-kit/user-management/internal/config"
	"github.com/spec-kit/user-management/internal/domain"
	"github.com/spec-kit/user-management/internal/events"
	"github.com/spec-kit/user-management/internal/observability"
	"github.com/spec-kit/user-management/internal/repository"
	apperrors "github.com/spec-kit/user-management/pkg/util"
)

type testEnv struct {
	users      repository.UserRepository
	resets     repository.PasswordResetRepository
	tokens     *auth.TokenManager
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	accounts   *UserService
	auth       *AuthService
	now        time.Time

	mu        sync.Mutex
	published []events.Event
}

type testEnvOption func(*AuthDependencies)

func withLimiter(l LoginLimiter) testEnvOption {
	return func(d *AuthDependencies) { d.Limiter = l }
}

func newTestEnv(t *testing.T, opts ...testEnvOption) *testEnv {
	t.Helper()
	env := &testEnv{
		users:      repository.NewMemoryUserRepository(),
		resets:     repository.NewMemoryPasswordResetRepository(),
		dispatcher: events.NewInMemoryDispatcher(),
		metrics:    observability.NewMetrics(),
		now:        time.Now().UTC(),
	}
	clock := func() time.Time { return env.now }

	tokens, err := auth.NewTokenManager(config.TokenConfig{Secret: []byte("service-secret"), TTL: time.Hour}, auth.WithClock(clock))
	require.NoError(t, err)
	env.tokens = tokens

	for _, eventType := range []events.EventType{
		events.EventUserRegistered, events.EventUserUpdated, events.EventUserDeleted,
		events.EventUserActivated, events.EventUserDeactivated, events.EventPasswordChanged,
		events.EventPasswordResetRequested, events.EventPasswordResetCompleted,
	} {
		env.dispatcher.Subscribe(eventType, func(_ context.Context, e events.Event) error {
			env.mu.Lock()
			defer env.mu.Unlock()
			env.published = append(env.published, e)
			return nil
		})
	}

	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	env.accounts = NewUserService(UserDependencies{
		UserRepo:   env.users,
		Hasher:     hasher,
		Dispatcher: env.dispatcher,
	})
	deps := AuthDependencies{
		UserRepo:          env.users,
		PasswordResetRepo: env.resets,
		Accounts:          env.accounts,
		Tokens:            tokens,
		Hasher:            hasher,
		Dispatcher:        env.dispatcher,
		Metrics:           env.metrics,
		Clock:             clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.auth = NewAuthService(config.AuthConfig{PasswordResetTTLMinutes: 30}, deps)
	return env
}

// seed creates an account directly with the given role.
func (e *testEnv) seed(t *testing.T, username, password string, role domain.Role) *auth.Principal {
	t.Helper()
	admin := &auth.Principal{Subject: "seeder", Role: domain.RoleAdmin}
	user, err := e.accounts.Create(context.Background(), admin, CreateUserInput{
		Username: username,
		Email:    username + "@example.com",
		Password: password,
		Role:     role,
	})
	require.NoError(t, err)
	return &auth.Principal{UserID: user.ID, Subject: user.Username, Role: user.Role}
}

func (e *testEnv) eventsOf(eventType events.EventType) []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.Event
	for _, ev := range e.published {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, status, apperrors.ToDomainError(err).HTTPStatus, err.Error())
}
