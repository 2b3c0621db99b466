package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"medauth/internal/domain"
)

// ErrDuplicate se devuelve cuando una restricción única rechaza el insert.
var ErrDuplicate = errors.New("repository: duplicate")

const defaultStoreTimeout = 3 * time.Second

// UserRepository define el contrato de persistencia para usuarios.
// Los métodos Get devuelven pgx.ErrNoRows cuando el usuario no existe.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	List(ctx context.Context, status domain.Status, limit int) ([]domain.User, error)
	UpdateLastConnection(ctx context.Context, id string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPgUserRepository(pool *pgxpool.Pool, timeout time.Duration) *PgUserRepository {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &PgUserRepository{pool: pool, timeout: timeout}
}

const userColumns = `id, email, first_name, last_name, role, status, password_hash,
	requires_verification, last_connection, created_at, updated_at`

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		INSERT INTO users (id, email, first_name, last_name, role, status, password_hash,
			requires_verification, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.FirstName,
		user.LastName,
		string(user.Role),
		string(user.Status),
		user.PasswordHash,
		user.RequiresVerification,
		user.CreatedAt,
		user.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// List devuelve usuarios ordenados por fecha de alta. Un status vacío no filtra.
func (r *PgUserRepository) List(ctx context.Context, status domain.Status, limit int) ([]domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + userColumns + ` FROM users
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PgUserRepository) UpdateLastConnection(ctx context.Context, id string, at time.Time) error {
	return r.execOne(ctx, `UPDATE users SET last_connection = $2 WHERE id = $1`, id, at)
}

func (r *PgUserRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.execOne(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
}

func (r *PgUserRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	return r.execOne(ctx, `UPDATE users SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
}

func (r *PgUserRepository) execOne(ctx context.Context, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u      domain.User
		role   string
		status string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&role,
		&status,
		&u.PasswordHash,
		&u.RequiresVerification,
		&u.LastConnection,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	// Valores fuera del enum se conservan tal cual; los gates los rechazan.
	u.Role = domain.Role(role)
	u.Status = domain.Status(status)
	return u, nil
}
