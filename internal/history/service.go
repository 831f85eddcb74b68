// Package history is the durable record of finished predictions.
package history

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/sentimeter/backend/internal/models"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

var (
	ErrUnknownUser   = errors.New("prediction references an unknown user")
	ErrInvalidRecord = errors.New("invalid prediction record")
)

type Store interface {
	Insert(ctx context.Context, p *models.Prediction) (bool, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Prediction, error)
	RecordedRequests(ctx context.Context, refs []uuid.UUID) (map[uuid.UUID]bool, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Record stores p once per job id. A second call for the same job is a
// no-op that reports created=false.
func (s *Service) Record(ctx context.Context, p *models.Prediction) (bool, error) {
	if p.JobID <= 0 || p.UserID <= 0 || p.ModelName == "" || p.Cost < 0 || p.Timestamp.IsZero() {
		return false, ErrInvalidRecord
	}
	if p.Errors == nil {
		p.Errors = []string{}
	}
	return s.store.Insert(ctx, p)
}

// List returns the newest predictions for a user first.
func (s *Service) List(ctx context.Context, userID int64, limit int) ([]*models.Prediction, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	list, err := s.store.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.Prediction{}
	}
	return list, nil
}

func (s *Service) RecordedRequests(ctx context.Context, refs []uuid.UUID) (map[uuid.UUID]bool, error) {
	return s.store.RecordedRequests(ctx, refs)
}
