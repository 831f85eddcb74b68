package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentimeter/backend/internal/models"
	"github.com/sentimeter/backend/internal/queue"
)

// Repository reads prediction jobs straight from River's job table.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// finalStates are River states a job never leaves.
var finalStates = []string{"completed", "cancelled", "discarded"}

// ListPending returns the user's jobs that have not reached a final state,
// newest first.
func (r *Repository) ListPending(ctx context.Context, userID int64) ([]*models.PendingJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, state::text, attempt, args, created_at
		FROM river_job
		WHERE kind = $1
			AND state::text <> ALL($2)
			AND args->'user_id' = to_jsonb($3::bigint)
		ORDER BY id DESC
	`, queue.KindPrediction, finalStates, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.PendingJob
	for rows.Next() {
		var j models.PendingJob
		var raw []byte
		if err := rows.Scan(&j.JobID, &j.State, &j.Attempt, &raw, &j.CreatedAt); err != nil {
			return nil, err
		}
		var args queue.PredictionArgs
		if err := json.Unmarshal(raw, &args); err == nil && args.DecodeErr() == nil {
			j.Cost = args.Cost
			j.RequestID = args.RequestID
		}
		list = append(list, &j)
	}
	return list, rows.Err()
}

// Charge is a prediction debit from the transactions table.
type Charge struct {
	UserID    int64     `json:"user_id"`
	Amount    int64     `json:"amount"`
	RequestID uuid.UUID `json:"request_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UnresolvedCharges returns debits older than cutoff whose request has no
// recorded prediction and no job still queued. Each one is money taken for
// an outcome that will never arrive.
func (r *Repository) UnresolvedCharges(ctx context.Context, cutoff time.Time) ([]*Charge, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.user_id, -t.amount, t.reference, t.created_at
		FROM transactions t
		WHERE t.amount < 0
			AND t.reference IS NOT NULL
			AND t.created_at < $1
			AND NOT EXISTS (SELECT 1 FROM predictions p WHERE p.request_id = t.reference)
			AND NOT EXISTS (
				SELECT 1 FROM river_job j
				WHERE j.kind = $2
					AND j.args->>'request_id' = t.reference::text
					AND j.state::text <> ALL($3)
			)
		ORDER BY t.created_at
	`, cutoff, queue.KindPrediction, finalStates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Charge
	for rows.Next() {
		var c Charge
		if err := rows.Scan(&c.UserID, &c.Amount, &c.RequestID, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}
