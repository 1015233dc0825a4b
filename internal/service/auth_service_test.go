package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/user-management/internal/auth"
	"github.com/spec-kit/user-management/internal/domain"
	"github.com/spec-kit/user-management/internal/events"
	apperrors "github.com/spec-kit/user-management/pkg/util"
)

type stubLimiter struct {
	allowed  bool
	failures map[string]int
	resets   int
	retry    time.Duration
	err      error
}

func newStubLimiter() *stubLimiter {
	return &stubLimiter{allowed: true, failures: map[string]int{}}
}

func (l *stubLimiter) Allowed(context.Context, string) (bool, error) { return l.allowed, l.err }

func (l *stubLimiter) RecordFailure(_ context.Context, id string) (int64, error) {
	l.failures[id]++
	return int64(l.failures[id]), nil
}

func (l *stubLimiter) Reset(context.Context, string) error {
	l.resets++
	return nil
}

func (l *stubLimiter) RetryAfter(context.Context, string) (time.Duration, error) { return l.retry, nil }

func TestLoginIssuesTokenForPrincipal(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "wonderland", domain.RoleManager)

	res, err := env.auth.Login(context.Background(), "alice", "wonderland")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.User.Username)
	assert.Equal(t, env.now.Truncate(time.Second).Add(time.Hour), res.ExpiresAt)

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(res.Token, claims)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, "MANAGER", claims["role"])
	assert.Equal(t, int64(1), env.metrics.Snapshot().AuthenticationLog["login_success"])
}

func TestLoginByEmail(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "wonderland", domain.RoleUser)

	res, err := env.auth.Login(context.Background(), "alice@example.com", "wonderland")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.User.Username)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "wonderland", domain.RoleUser)

	_, wrongPassword := env.auth.Login(context.Background(), "alice", "nope")
	_, unknownUser := env.auth.Login(context.Background(), "nobody", "nope")

	requireStatus(t, wrongPassword, http.StatusUnauthorized)
	requireStatus(t, unknownUser, http.StatusUnauthorized)
	assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
}

func TestLoginDeactivatedAccount(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seed(t, "root", "rootpass", domain.RoleAdmin)
	dora := env.seed(t, "dora", "explorer", domain.RoleUser)
	require.NoError(t, env.accounts.Deactivate(context.Background(), admin, dora.UserID))

	_, err := env.auth.Login(context.Background(), "dora", "explorer")
	requireStatus(t, err, http.StatusForbidden)

	_, err = env.auth.Login(context.Background(), "dora", "wrong")
	requireStatus(t, err, http.StatusUnauthorized)
}

func TestLoginThrottling(t *testing.T) {
	limiter := newStubLimiter()
	env := newTestEnv(t, withLimiter(limiter))
	env.seed(t, "alice", "wonderland", domain.RoleUser)

	_, err := env.auth.Login(context.Background(), "alice", "nope")
	requireStatus(t, err, http.StatusUnauthorized)
	assert.Equal(t, 1, limiter.failures["alice"])

	_, err = env.auth.Login(context.Background(), "ghost", "nope")
	requireStatus(t, err, http.StatusUnauthorized)
	assert.Equal(t, 1, limiter.failures["ghost"], "unknown identifiers are throttled too")

	_, err = env.auth.Login(context.Background(), "alice", "wonderland")
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.resets)

	limiter.allowed = false
	limiter.retry = 90*time.Second + 200*time.Millisecond
	_, err = env.auth.Login(context.Background(), "alice", "wonderland")
	requireStatus(t, err, http.StatusTooManyRequests)
	assert.Equal(t, 91, apperrors.ToDomainError(err).Details[apperrors.DetailRetryAfter])
}

func TestLoginLimiterOutageFailsOpen(t *testing.T) {
	limiter := newStubLimiter()
	limiter.err = errors.New("redis down")
	env := newTestEnv(t, withLimiter(limiter))
	env.seed(t, "alice", "wonderland", domain.RoleUser)

	_, err := env.auth.Login(context.Background(), "alice", "wonderland")
	assert.NoError(t, err)
}

func TestRegisterAlwaysCreatesUserRole(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.auth.Register(context.Background(), nil, CreateUserInput{
		Username: "newbie",
		Email:    "newbie@example.com",
		Password: "secret1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, res.User.Role)
	assert.NotEmpty(t, res.Token)
	assert.Len(t, env.eventsOf(events.EventUserRegistered), 1)

	_, err = env.auth.Register(context.Background(), nil, CreateUserInput{
		Username: "newbie",
		Email:    "other@example.com",
		Password: "secret1",
	})
	requireStatus(t, err, http.StatusConflict)

	_, err = env.auth.Register(context.Background(), nil, CreateUserInput{
		Username: "sneaky",
		Email:    "sneaky@example.com",
		Password: "secret1",
		Role:     domain.RoleAdmin,
	})
	requireStatus(t, err, http.StatusUnauthorized)
}

func TestRefreshAndMe(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seed(t, "alice", "wonderland", domain.RoleUser)

	me, err := env.auth.Me(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", me.Email)

	env.now = env.now.Add(10 * time.Minute)
	res, err := env.auth.Refresh(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, env.now.Truncate(time.Second).Add(time.Hour), res.ExpiresAt)

	_, err = env.auth.Me(context.Background(), nil)
	requireStatus(t, err, http.StatusUnauthorized)
}

func TestValidateToken(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seed(t, "root", "rootpass", domain.RoleAdmin)
	alice := env.seed(t, "alice", "wonderland", domain.RoleUser)

	res, err := env.auth.Login(context.Background(), "alice", "wonderland")
	require.NoError(t, err)

	st, err := env.auth.ValidateToken(context.Background(), "Bearer "+res.Token)
	require.NoError(t, err)
	assert.True(t, st.Valid)
	assert.Equal(t, "alice", st.Username)
	require.NotNil(t, st.ExpiresAt)
	assert.True(t, res.ExpiresAt.Equal(*st.ExpiresAt))

	st, err = env.auth.ValidateToken(context.Background(), "Bearer garbage")
	require.NoError(t, err)
	assert.False(t, st.Valid)
	assert.Nil(t, st.ExpiresAt)

	require.NoError(t, env.accounts.Deactivate(context.Background(), admin, alice.UserID))
	st, err = env.auth.ValidateToken(context.Background(), "Bearer "+res.Token)
	require.NoError(t, err)
	assert.False(t, st.Valid)

	env.now = env.now.Add(2 * time.Hour)
	st, err = env.auth.ValidateToken(context.Background(), "Bearer "+res.Token)
	require.NoError(t, err)
	assert.False(t, st.Valid)
	assert.NotNil(t, st.ExpiresAt, "expiry is still reported for lapsed tokens")

	_, err = env.auth.ValidateToken(context.Background(), "Basic abc")
	requireStatus(t, err, http.StatusBadRequest)
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "wonderland", domain.RoleUser)

	require.NoError(t, env.auth.RequestPasswordReset(context.Background(), "nobody@example.com"))
	assert.Empty(t, env.eventsOf(events.EventPasswordResetRequested))

	require.NoError(t, env.auth.RequestPasswordReset(context.Background(), "ALICE@example.com"))
	requested := env.eventsOf(events.EventPasswordResetRequested)
	require.Len(t, requested, 1)
	payload, ok := requested[0].Payload.(events.PasswordResetRequestedPayload)
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", payload.Email)

	require.NoError(t, env.auth.ConfirmPasswordReset(context.Background(), payload.Token, "new-secret"))
	assert.Len(t, env.eventsOf(events.EventPasswordResetCompleted), 1)

	_, err := env.auth.Login(context.Background(), "alice", "wonderland")
	requireStatus(t, err, http.StatusUnauthorized)
	_, err = env.auth.Login(context.Background(), "alice", "new-secret")
	require.NoError(t, err)

	err = env.auth.ConfirmPasswordReset(context.Background(), payload.Token, "again-secret")
	requireStatus(t, err, http.StatusBadRequest)
}

func TestPasswordResetTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "wonderland", domain.RoleUser)

	require.NoError(t, env.auth.RequestPasswordReset(context.Background(), "alice@example.com"))
	payload := env.eventsOf(events.EventPasswordResetRequested)[0].Payload.(events.PasswordResetRequestedPayload)

	env.now = env.now.Add(31 * time.Minute)
	err := env.auth.ConfirmPasswordReset(context.Background(), payload.Token, "new-secret")
	requireStatus(t, err, http.StatusBadRequest)

	err = env.auth.ConfirmPasswordReset(context.Background(), "unknown-token", "new-secret")
	requireStatus(t, err, http.StatusBadRequest)
}

func TestLogoutKeepsTokenUntilExpiry(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seed(t, "alice", "wonderland", domain.RoleUser)

	res, err := env.auth.Login(context.Background(), "alice", "wonderland")
	require.NoError(t, err)
	require.NoError(t, env.auth.Logout(context.Background(), alice))

	assert.True(t, env.tokens.Validate(res.Token, &auth.Principal{Subject: "alice"}))
}
