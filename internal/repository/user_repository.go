package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/user-management/internal/domain"
)

// ErrDuplicate is returned when a unique username or email already exists.
var ErrDuplicate = errors.New("duplicate user")

// DBTX is the subset of pgxpool.Pool the repositories use.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository defines persistence access for user accounts. Lookups return
// pgx.ErrNoRows when nothing matches.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	Update(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	List(ctx context.Context, filter UserFilter) ([]domain.User, int64, error)
	Stats(ctx context.Context) (domain.UserStats, error)
}

// SortField names a sortable user column.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
	SortByUsername  SortField = "username"
	SortByEmail     SortField = "email"
	SortByFirstName SortField = "first_name"
	SortByLastName  SortField = "last_name"
	SortByRole      SortField = "role"
	SortByID        SortField = "id"
)

var sortAliases = map[string]SortField{
	"id":         SortByID,
	"username":   SortByUsername,
	"email":      SortByEmail,
	"first_name": SortByFirstName,
	"firstname":  SortByFirstName,
	"last_name":  SortByLastName,
	"lastname":   SortByLastName,
	"role":       SortByRole,
	"created_at": SortByCreatedAt,
	"createdat":  SortByCreatedAt,
	"updated_at": SortByUpdatedAt,
	"updatedat":  SortByUpdatedAt,
}

// ParseSortField maps request sort keys (snake or camel case) to a column.
func ParseSortField(value string) (SortField, bool) {
	if value == "" {
		return SortByCreatedAt, true
	}
	field, ok := sortAliases[strings.ToLower(value)]
	return field, ok
}

// UserFilter defines query params for user listing. A zero Limit returns every match.
type UserFilter struct {
	Role     *domain.Role
	Active   *bool
	Search   string
	SortBy   SortField
	SortDesc bool
	Limit    int
	Offset   int
}

const userColumns = `id::text, username, email, password_hash, first_name, last_name, phone, role, active, created_at, updated_at`

type userRepository struct {
	db DBTX
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (id, username, email, password_hash, first_name, last_name, phone, role, active)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING created_at, updated_at`

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Phone,
		string(user.Role),
		user.Active,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	return mapWriteError(err)
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	const query = `
        UPDATE users SET email=$1, password_hash=$2, first_name=$3, last_name=$4, phone=$5, role=$6, active=$7, updated_at=NOW()
        WHERE id=$8
        RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Phone,
		string(user.Role),
		user.Active,
		user.ID,
	).Scan(&user.UpdatedAt)
	return mapWriteError(err)
}

func (r *userRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email)
}

func (r *userRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username=$1)`, username).Scan(&exists)
	return exists, err
}

func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email)=LOWER($1))`, email).Scan(&exists)
	return exists, err
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]domain.User, int64, error) {
	args := []any{}
	clauses := []string{}

	if filter.Role != nil {
		args = append(args, string(*filter.Role))
		clauses = append(clauses, fmt.Sprintf("role=$%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("active=$%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(
			"(username ILIKE $%d OR email ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)", n, n, n, n))
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortBy, ok := ParseSortField(string(filter.SortBy))
	if !ok {
		sortBy = SortByCreatedAt
	}
	dir := "ASC"
	if filter.SortDesc {
		dir = "DESC"
	}
	query := `SELECT ` + userColumns + ` FROM users` + where +
		fmt.Sprintf(" ORDER BY %s %s, id ASC", sortBy, dir)
	if filter.Limit > 0 {
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *user)
	}
	return result, total, rows.Err()
}

func (r *userRepository) Stats(ctx context.Context) (domain.UserStats, error) {
	stats := domain.UserStats{ByRole: make(map[domain.Role]int64, len(domain.Roles))}
	for _, role := range domain.Roles {
		stats.ByRole[role] = 0
	}

	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE active) FROM users`,
	).Scan(&stats.Total, &stats.Active); err != nil {
		return stats, err
	}

	rows, err := r.db.Query(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		var count int64
		if err := rows.Scan(&role, &count); err != nil {
			return stats, err
		}
		stats.ByRole[domain.Role(role)] = count
	}
	return stats, rows.Err()
}

func (r *userRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, query, arg))
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user domain.User
		role string
	)
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&role,
		&user.Active,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	user.Role = domain.Role(role)
	return &user, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
