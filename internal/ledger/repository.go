package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentimeter/backend/internal/models"
)

// Repository is the Postgres Store. The users row is the per-user lock.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockUser takes the row lock on the user (SELECT ... FOR UPDATE) and returns
// the balance as seen under that lock.
func (r *Repository) LockUser(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	var credits int64
	err := tx.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	return credits, err
}

func (r *Repository) SetBalance(ctx context.Context, tx pgx.Tx, userID, balance int64) error {
	tag, err := tx.Exec(ctx, `UPDATE users SET credits = $2 WHERE id = $1`, userID, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transactions (user_id, amount, balance_after, description, reference)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, t.UserID, t.Amount, t.BalanceAfter, t.Description, t.Reference).Scan(&t.ID, &t.CreatedAt)
}

func (r *Repository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var credits int64
	err := r.pool.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	return credits, err
}

func (r *Repository) SumTransactions(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::bigint FROM transactions WHERE user_id = $1`, userID).Scan(&sum)
	return sum, err
}

func (r *Repository) ListTransactions(ctx context.Context, userID int64) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, amount, balance_after, description, reference, created_at
		FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.BalanceAfter, &t.Description, &t.Reference, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
