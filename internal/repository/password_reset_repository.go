package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/user-management/internal/domain"
)

// PasswordResetRepository manages password reset token persistence.
type PasswordResetRepository interface {
	Create(ctx context.Context, token *domain.PasswordResetToken) error
	GetByToken(ctx context.Context, token string) (*domain.PasswordResetToken, error)
	// MarkUsed consumes the token; it returns pgx.ErrNoRows when it was already used.
	MarkUsed(ctx context.Context, id string) error
}

type passwordResetRepository struct {
	db DBTX
}

// NewPasswordResetRepository constructs repository.
func NewPasswordResetRepository(db DBTX) PasswordResetRepository {
	return &passwordResetRepository{db: db}
}

func (r *passwordResetRepository) Create(ctx context.Context, token *domain.PasswordResetToken) error {
	const query = `
        INSERT INTO password_reset_tokens (id, user_id, token, expires_at)
        VALUES ($1,$2,$3,$4)
        RETURNING created_at`
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	return r.db.QueryRow(ctx, query,
		token.ID,
		token.UserID,
		token.Token,
		token.ExpiresAt,
	).Scan(&token.CreatedAt)
}

func (r *passwordResetRepository) GetByToken(ctx context.Context, tokenStr string) (*domain.PasswordResetToken, error) {
	const query = `
        SELECT id::text, user_id::text, token, expires_at, used_at, created_at
        FROM password_reset_tokens WHERE token=$1`
	var token domain.PasswordResetToken
	if err := r.db.QueryRow(ctx, query, tokenStr).Scan(
		&token.ID,
		&token.UserID,
		&token.Token,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *passwordResetRepository) MarkUsed(ctx context.Context, id string) error {
	const query = `
        UPDATE password_reset_tokens SET used_at=NOW()
        WHERE id=$1 AND used_at IS NULL`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
