// Package jobs is the submission side of the pipeline: it charges the user
// and enqueues a prediction job in a single database transaction.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentimeter/backend/internal/ledger"
	"github.com/sentimeter/backend/internal/models"
	"github.com/sentimeter/backend/internal/queue"
	"github.com/sentimeter/backend/internal/scoring"
)

var ErrInvalidInput = errors.New("invalid input")

// Receipt is returned once the job is durably queued and paid for.
type Receipt struct {
	JobID     int64     `json:"job_id"`
	RequestID uuid.UUID `json:"request_id"`
	Model     string    `json:"model"`
	Cost      int64     `json:"cost"`
	Balance   int64     `json:"balance"`
}

type Service interface {
	Submit(ctx context.Context, userID int64, text, model string) (*Receipt, error)
	ListPending(ctx context.Context, userID int64) ([]*models.PendingJob, error)
}

// EnqueueTxFunc inserts a job within tx. Provided by main using the River
// client's InsertTx.
type EnqueueTxFunc func(ctx context.Context, tx pgx.Tx, args queue.PredictionArgs) (int64, error)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PendingLister interface {
	ListPending(ctx context.Context, userID int64) ([]*models.PendingJob, error)
}

type Options struct {
	Cost           int64
	DefaultModel   string
	MaxInputLength int
}

type service struct {
	db      TxBeginner
	ledger  ledger.Service
	enqueue EnqueueTxFunc
	pending PendingLister
	opts    Options
}

func NewService(db TxBeginner, l ledger.Service, enqueue EnqueueTxFunc, pending PendingLister, opts Options) *service {
	return &service{db: db, ledger: l, enqueue: enqueue, pending: pending, opts: opts}
}

var _ Service = (*service)(nil)

// Submit validates the text, debits the cost and enqueues the job. The debit
// and the job row commit together: either the user is charged and the job
// is queued, or neither happens.
func (s *service) Submit(ctx context.Context, userID int64, text, model string) (*Receipt, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text must not be empty", ErrInvalidInput)
	}
	if s.opts.MaxInputLength > 0 && utf8.RuneCountInString(text) > s.opts.MaxInputLength {
		return nil, fmt.Errorf("%w: text longer than %d characters", ErrInvalidInput, s.opts.MaxInputLength)
	}
	if model == "" {
		model = s.opts.DefaultModel
	}
	if _, err := scoring.Lookup(model, s.opts.MaxInputLength); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	requestID := uuid.New()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	if s.opts.Cost > 0 {
		txn, err := s.ledger.DebitTx(ctx, tx, userID, s.opts.Cost, ledger.Entry{
			Description: "Prediction (" + model + ")",
			Reference:   &requestID,
		})
		if err != nil {
			return nil, err
		}
		balance = txn.BalanceAfter
	} else if balance, err = s.ledger.Balance(ctx, userID); err != nil {
		return nil, err
	}

	jobID, err := s.enqueue(ctx, tx, queue.PredictionArgs{
		UserID:    userID,
		InputData: text,
		Cost:      s.opts.Cost,
		Model:     model,
		RequestID: &requestID,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit submission: %w", err)
	}
	return &Receipt{JobID: jobID, RequestID: requestID, Model: model, Cost: s.opts.Cost, Balance: balance}, nil
}

func (s *service) ListPending(ctx context.Context, userID int64) ([]*models.PendingJob, error) {
	list, err := s.pending.ListPending(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.PendingJob{}
	}
	return list, nil
}
