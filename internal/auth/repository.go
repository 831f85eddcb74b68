package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentimeter/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// Create inserts a user with a zero balance. Credits are only ever added
// through the ledger.
func (r *Repository) Create(ctx context.Context, email, passwordHash string, isAdmin bool) (*models.User, error) {
	u := models.User{Email: email, PasswordHash: passwordHash, IsAdmin: isAdmin}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, is_admin)
		VALUES ($1, $2, $3)
		RETURNING id, credits, created_at
	`, email, passwordHash, isAdmin)
	if err := row.Scan(&u.ID, &u.Credits, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail returns nil, nil if no user has that email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.get(ctx, `WHERE email = $1`, email)
}

// GetByID returns nil, nil if the user does not exist.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

// Count is used by the seed command.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n)
	return n, err
}

func (r *Repository) get(ctx context.Context, where string, arg any) (*models.User, error) {
	var u models.User
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, is_admin, credits, created_at
		FROM users `+where, arg)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.Credits, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
