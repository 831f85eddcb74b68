package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// Snoozes do not count towards this, so a job that keeps failing to report
// stays queued; only unexpected errors use it up.
const maxAttempts = 25

// Migrate applies River's own schema (river_job and friends).
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	return nil
}

// NewInsertClient returns a client that can only enqueue. The API process
// uses it; it never fetches jobs.
func NewInsertClient(pool *pgxpool.Pool, logger *slog.Logger) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), &river.Config{Logger: logger})
}

// NewWorkerClient returns a client that works queueName with at most
// prefetch jobs in flight.
func NewWorkerClient(pool *pgxpool.Pool, queueName string, prefetch int, workers *river.Workers, logger *slog.Logger) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger:  logger,
		Queues:  map[string]river.QueueConfig{queueName: {MaxWorkers: prefetch}},
		Workers: workers,
	})
}

// Enqueuer inserts prediction jobs into a named queue.
type Enqueuer struct {
	client *river.Client[pgx.Tx]
	queue  string
}

func NewEnqueuer(client *river.Client[pgx.Tx], queueName string) *Enqueuer {
	return &Enqueuer{client: client, queue: queueName}
}

// EnqueueTx inserts the job inside tx; it becomes visible to workers only
// when tx commits. Returns the job id.
func (e *Enqueuer) EnqueueTx(ctx context.Context, tx pgx.Tx, args PredictionArgs) (int64, error) {
	res, err := e.client.InsertTx(ctx, tx, args, &river.InsertOpts{
		Queue:       e.queue,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue prediction: %w", err)
	}
	return res.Job.ID, nil
}
