package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"medauth/internal/domain"
)

// TwoFactorRepository guarda el único código 2FA vivo de cada usuario.
type TwoFactorRepository interface {
	// Replace guarda el código invalidando cualquier código previo del usuario.
	Replace(ctx context.Context, code domain.TwoFactorCode) error
	GetByUserID(ctx context.Context, userID string) (domain.TwoFactorCode, error)
	// Consume borra el código indicado; false si otro verificador lo consumió antes.
	Consume(ctx context.Context, userID, codeID string) (bool, error)
	DeleteByUserID(ctx context.Context, userID string) error
}

type PgTwoFactorRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPgTwoFactorRepository(pool *pgxpool.Pool, timeout time.Duration) *PgTwoFactorRepository {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &PgTwoFactorRepository{pool: pool, timeout: timeout}
}

func (r *PgTwoFactorRepository) Replace(ctx context.Context, code domain.TwoFactorCode) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		INSERT INTO two_factor_codes (id, user_id, code_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET id = EXCLUDED.id,
			code_hash = EXCLUDED.code_hash,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
	`
	_, err := r.pool.Exec(ctx, query, code.ID, code.UserID, code.CodeHash, code.ExpiresAt, code.CreatedAt)
	return err
}

func (r *PgTwoFactorRepository) GetByUserID(ctx context.Context, userID string) (domain.TwoFactorCode, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT id, user_id, code_hash, expires_at, created_at
		FROM two_factor_codes
		WHERE user_id = $1
	`
	var c domain.TwoFactorCode
	err := r.pool.QueryRow(ctx, query, userID).Scan(&c.ID, &c.UserID, &c.CodeHash, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		return domain.TwoFactorCode{}, err
	}
	return c, nil
}

func (r *PgTwoFactorRepository) Consume(ctx context.Context, userID, codeID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM two_factor_codes WHERE user_id = $1 AND id = $2`, userID, codeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgTwoFactorRepository) DeleteByUserID(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, `DELETE FROM two_factor_codes WHERE user_id = $1`, userID)
	return err
}
