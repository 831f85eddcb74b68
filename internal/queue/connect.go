package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentimeter/backend/internal/db"
)

var ErrQueueUnavailable = errors.New("queue unavailable")

// dial is swapped out in tests.
var dial = db.Open

// Connect opens the queue database, retrying every delay until it answers.
// It only gives up when ctx is done.
func Connect(ctx context.Context, dsn string, delay time.Duration, log *slog.Logger) (*pgxpool.Pool, error) {
	if log == nil {
		log = slog.Default()
	}
	for attempt := 1; ; attempt++ {
		pool, err := dial(ctx, dsn)
		if err == nil {
			if attempt > 1 {
				log.Info("queue reachable", "attempts", attempt)
			}
			return pool, nil
		}
		log.Warn("queue unreachable, retrying", "attempt", attempt, "retry_in", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, ctx.Err())
		case <-t.C:
		}
	}
}
