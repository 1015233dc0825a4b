package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/user-management/internal/domain"
)

var userColumnNames = []string{"id", "username", "email", "password_hash", "first_name", "last_name", "phone", "role", "active", "created_at", "updated_at"}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestUserRepositoryCreate(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)
	now := time.Now().UTC()

	user := &domain.User{Username: "alice", Email: "alice@example.com", PasswordHash: "hash", Role: domain.RoleUser, Active: true}
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(pgxmock.AnyArg(), "alice", "alice@example.com", "hash", "", "", "", "USER", true).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, repo.Create(context.Background(), user))
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, now, user.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCreateDuplicate(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})

	err := repo.Create(context.Background(), &domain.User{Username: "alice", Role: domain.RoleUser})
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryGetByUsername(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username=$1")).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows(userColumnNames).
			AddRow("id-1", "alice", "alice@example.com", "hash", "Alice", "Liddell", "", "MANAGER", true, now, now))

	user, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "id-1", user.ID)
	assert.Equal(t, domain.RoleManager, user.Role)
	assert.Equal(t, "Liddell", user.LastName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryGetByEmailNotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE LOWER(email)=LOWER($1)")).
		WithArgs("ghost@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryDelete(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id=$1")).
		WithArgs("id-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id=$1")).
		WithArgs("id-2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, repo.Delete(context.Background(), "id-1"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "id-2"), pgx.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryListWithSearchAndPaging(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)
	now := time.Now().UTC()
	role := domain.RoleUser

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE role=$1 AND (username ILIKE $2")).
		WithArgs("USER", `%50\%%`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY username DESC, id ASC LIMIT 2 OFFSET 2")).
		WithArgs("USER", `%50\%%`).
		WillReturnRows(pgxmock.NewRows(userColumnNames).
			AddRow("id-3", "zed", "zed@example.com", "hash", "", "", "", "USER", true, now, now))

	users, total, err := repo.List(context.Background(), UserFilter{
		Role:     &role,
		Search:   "50%",
		SortBy:   SortByUsername,
		SortDesc: true,
		Limit:    2,
		Offset:   2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, users, 1)
	assert.Equal(t, "zed", users[0].Username)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryListUnknownSortFallsBack(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users")).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at ASC, id ASC")).
		WillReturnRows(pgxmock.NewRows(userColumnNames))

	users, total, err := repo.List(context.Background(), UserFilter{SortBy: "password_hash; DROP TABLE users"})
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Zero(t, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryStats(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COUNT(*) FILTER (WHERE active) FROM users")).
		WillReturnRows(pgxmock.NewRows([]string{"total", "active"}).AddRow(int64(5), int64(4)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role, COUNT(*) FROM users GROUP BY role")).
		WillReturnRows(pgxmock.NewRows([]string{"role", "count"}).
			AddRow("ADMIN", int64(1)).
			AddRow("USER", int64(4)))

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, int64(4), stats.Active)
	assert.Equal(t, int64(1), stats.ByRole[domain.RoleAdmin])
	assert.Equal(t, int64(0), stats.ByRole[domain.RoleManager])
	assert.Equal(t, int64(4), stats.ByRole[domain.RoleUser])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPasswordResetRepositoryMarkUsed(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPasswordResetRepository(mock)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE password_reset_tokens SET used_at=NOW()")).
		WithArgs("tok-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE password_reset_tokens SET used_at=NOW()")).
		WithArgs("tok-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.MarkUsed(context.Background(), "tok-1"))
	assert.ErrorIs(t, repo.MarkUsed(context.Background(), "tok-1"), pgx.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParseSortField(t *testing.T) {
	for input, want := range map[string]SortField{
		"":          SortByCreatedAt,
		"firstName": SortByFirstName,
		"last_name": SortByLastName,
		"USERNAME":  SortByUsername,
		"createdAt": SortByCreatedAt,
	} {
		got, ok := ParseSortField(input)
		assert.True(t, ok, input)
		assert.Equal(t, want, got, input)
	}
	_, ok := ParseSortField("password_hash")
	assert.False(t, ok)
}
