package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentimeter/backend/internal/models"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUserNotFound        = errors.New("user not found")
)

// Store is the persistence the ledger runs on. LockUser must hold a per-user
// exclusive lock until the transaction ends.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockUser(ctx context.Context, tx pgx.Tx, userID int64) (int64, error)
	SetBalance(ctx context.Context, tx pgx.Tx, userID, balance int64) error
	InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	GetBalance(ctx context.Context, userID int64) (int64, error)
	SumTransactions(ctx context.Context, userID int64) (int64, error)
	ListTransactions(ctx context.Context, userID int64) ([]*models.Transaction, error)
}

// Entry describes the ledger line written alongside a balance change.
type Entry struct {
	Description string
	Reference   *uuid.UUID
}

// Audit compares the stored balance with the sum of the transaction log.
type Audit struct {
	UserID    int64 `json:"user_id"`
	Balance   int64 `json:"balance"`
	LedgerSum int64 `json:"ledger_sum"`
}

func (a Audit) Consistent() bool { return a.Balance == a.LedgerSum }

type Service interface {
	Credit(ctx context.Context, userID, amount int64, e Entry) (*models.Transaction, error)
	Debit(ctx context.Context, userID, amount int64, e Entry) (*models.Transaction, error)
	// DebitTx runs inside the caller's transaction; the user row stays locked
	// until the caller commits or rolls back.
	DebitTx(ctx context.Context, tx pgx.Tx, userID, amount int64, e Entry) (*models.Transaction, error)
	Balance(ctx context.Context, userID int64) (int64, error)
	History(ctx context.Context, userID int64) ([]*models.Transaction, error)
	Audit(ctx context.Context, userID int64) (*Audit, error)
}

type service struct {
	store Store
}

func NewService(store Store) Service {
	return &service{store: store}
}

var _ Service = (*service)(nil)

func (s *service) Credit(ctx context.Context, userID, amount int64, e Entry) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.Description == "" {
		e.Description = "Top up"
	}
	return s.inTx(ctx, func(tx pgx.Tx) (*models.Transaction, error) {
		return s.apply(ctx, tx, userID, amount, e)
	})
}

func (s *service) Debit(ctx context.Context, userID, amount int64, e Entry) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.inTx(ctx, func(tx pgx.Tx) (*models.Transaction, error) {
		return s.DebitTx(ctx, tx, userID, amount, e)
	})
}

func (s *service) DebitTx(ctx context.Context, tx pgx.Tx, userID, amount int64, e Entry) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.Description == "" {
		e.Description = "Charge"
	}
	return s.apply(ctx, tx, userID, -amount, e)
}

// apply locks the user, checks the resulting balance and appends the
// transaction. delta is never zero.
func (s *service) apply(ctx context.Context, tx pgx.Tx, userID, delta int64, e Entry) (*models.Transaction, error) {
	balance, err := s.store.LockUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	next := balance + delta
	if next < 0 {
		return nil, ErrInsufficientBalance
	}
	if err := s.store.SetBalance(ctx, tx, userID, next); err != nil {
		return nil, fmt.Errorf("set balance: %w", err)
	}
	t := &models.Transaction{
		UserID:       userID,
		Amount:       delta,
		BalanceAfter: next,
		Reference:    e.Reference,
	}
	if e.Description != "" {
		desc := e.Description
		t.Description = &desc
	}
	if err := s.store.InsertTransaction(ctx, tx, t); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

func (s *service) inTx(ctx context.Context, fn func(pgx.Tx) (*models.Transaction, error)) (*models.Transaction, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	t, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *service) Balance(ctx context.Context, userID int64) (int64, error) {
	return s.store.GetBalance(ctx, userID)
}

func (s *service) History(ctx context.Context, userID int64) ([]*models.Transaction, error) {
	if _, err := s.store.GetBalance(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, userID)
}

func (s *service) Audit(ctx context.Context, userID int64) (*Audit, error) {
	balance, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum, err := s.store.SumTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Audit{UserID: userID, Balance: balance, LedgerSum: sum}, nil
}
