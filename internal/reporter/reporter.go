// Package reporter delivers finished prediction outcomes to the history
// store. Any failure is wrapped in ErrReportingFailure so the worker puts the
// job back on the queue.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sentimeter/backend/internal/models"
)

var ErrReportingFailure = errors.New("reporting failed")

type Reporter interface {
	Report(ctx context.Context, r *models.PredictionReport) error
}

// HTTPReporter POSTs the report to the history ingestion endpoint. Only a
// 2xx response counts as committed.
type HTTPReporter struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewHTTPReporter(url, token string, timeout time.Duration) *HTTPReporter {
	return &HTTPReporter{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPReporter) Report(ctx context.Context, r *models.PredictionReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: encode report: %v", ErrReportingFailure, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrReportingFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", strconv.FormatInt(r.JobID, 10))
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReportingFailure, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: history store returned status %d", ErrReportingFailure, resp.StatusCode)
	}
	return nil
}

// Recorder persists a prediction, deduplicating by job id.
type Recorder interface {
	Record(ctx context.Context, p *models.Prediction) (created bool, err error)
}

// StoreReporter writes straight to the history store, for workers that share
// the application database.
type StoreReporter struct {
	store Recorder
}

func NewStoreReporter(store Recorder) *StoreReporter {
	return &StoreReporter{store: store}
}

func (s *StoreReporter) Report(ctx context.Context, r *models.PredictionReport) error {
	if _, err := s.store.Record(ctx, r.Prediction()); err != nil {
		return fmt.Errorf("%w: %v", ErrReportingFailure, err)
	}
	return nil
}
