// Package ledgertest provides an in-memory ledger.Store whose transactions
// hold per-user locks until Commit or Rollback, like SELECT ... FOR UPDATE.
package ledgertest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sentimeter/backend/internal/ledger"
	"github.com/sentimeter/backend/internal/models"
)

type user struct {
	balance int64
	lock    chan struct{}
}

type Store struct {
	mu     sync.Mutex
	users  map[int64]*user
	txns   []*models.Transaction
	nextID int64
	clock  time.Time

	// BeginErr, when set, is returned by Begin.
	BeginErr error
	// Commits counts successful commits.
	Commits int
}

var _ ledger.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		users: make(map[int64]*user),
		clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddUser registers a user with a zero balance. Fund it through the ledger
// service so the transaction log stays consistent.
func (s *Store) AddUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &user{lock: make(chan struct{}, 1)}
}

func (s *Store) Begin(context.Context) (pgx.Tx, error) {
	if s.BeginErr != nil {
		return nil, s.BeginErr
	}
	return &Tx{store: s}, nil
}

func (s *Store) LockUser(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	t, err := asTx(tx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	u, ok := s.users[userID]
	s.mu.Unlock()
	if !ok {
		return 0, ledger.ErrUserNotFound
	}
	if !t.holds(userID) {
		select {
		case u.lock <- struct{}{}:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		t.held = append(t.held, userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return u.balance, nil
}

func (s *Store) SetBalance(_ context.Context, tx pgx.Tx, userID, balance int64) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if !t.holds(userID) {
		return errors.New("ledgertest: SetBalance without row lock")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	prev := u.balance
	u.balance = balance
	t.undo = append(t.undo, func() { u.balance = prev })
	return nil
}

func (s *Store) InsertTransaction(_ context.Context, tx pgx.Tx, txn *models.Transaction) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.clock = s.clock.Add(time.Millisecond)
	txn.ID = s.nextID
	txn.CreatedAt = s.clock
	cp := *txn
	s.txns = append(s.txns, &cp)
	id := cp.ID
	t.undo = append(t.undo, func() {
		for i, x := range s.txns {
			if x.ID == id {
				s.txns = append(s.txns[:i], s.txns[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (s *Store) GetBalance(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, ledger.ErrUserNotFound
	}
	return u.balance, nil
}

func (s *Store) SumTransactions(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, t := range s.txns {
		if t.UserID == userID {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (s *Store) ListTransactions(_ context.Context, userID int64) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Transaction
	for _, t := range s.txns {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Transactions returns every committed or in-flight transaction for userID
// in insertion order.
func (s *Store) Transactions(userID int64) []*models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Transaction
	for _, t := range s.txns {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

// Tx satisfies pgx.Tx; only Commit and Rollback are implemented, any other
// method panics on the nil embedded interface.
type Tx struct {
	pgx.Tx
	store *Store
	held  []int64
	undo  []func()
	done  bool
}

func (t *Tx) holds(userID int64) bool {
	for _, id := range t.held {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Lock()
	t.store.Commits++
	t.store.mu.Unlock()
	t.release()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.release()
	return nil
}

func (t *Tx) release() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, id := range t.held {
		<-t.store.users[id].lock
	}
	t.held = nil
}

func asTx(tx pgx.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t.done {
		return nil, errors.New("ledgertest: not an open ledgertest transaction")
	}
	return t, nil
}
