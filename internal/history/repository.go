package history

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
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

// Insert stores p unless a row for the same job already exists. created is
// false for a duplicate.
func (r *Repository) Insert(ctx context.Context, p *models.Prediction) (bool, error) {
	var result any
	if len(p.Result) > 0 {
		result = string(p.Result)
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO predictions (job_id, request_id, user_id, model_name, input_data, result, errors, cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)
		ON CONFLICT (job_id) DO NOTHING
	`, p.JobID, p.RequestID, p.UserID, p.ModelName, p.InputData, result, p.Errors, p.Cost, p.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return false, ErrUnknownUser
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const selectPredictions = `
	SELECT id, job_id, request_id, user_id, model_name, input_data, result, errors, cost, created_at, recorded_at
	FROM predictions`

func (r *Repository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Prediction, error) {
	rows, err := r.pool.Query(ctx, selectPredictions+`
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Prediction
	for rows.Next() {
		var p models.Prediction
		var result []byte
		if err := rows.Scan(&p.ID, &p.JobID, &p.RequestID, &p.UserID, &p.ModelName, &p.InputData,
			&result, &p.Errors, &p.Cost, &p.Timestamp, &p.RecordedAt); err != nil {
			return nil, err
		}
		p.Result = result
		list = append(list, &p)
	}
	return list, rows.Err()
}

// RecordedRequests returns the subset of refs that already have a stored
// prediction.
func (r *Repository) RecordedRequests(ctx context.Context, refs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(refs))
	if len(refs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT request_id FROM predictions WHERE request_id = ANY($1)`, refs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
