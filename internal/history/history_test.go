package history

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentimeter/backend/internal/middleware"
	"github.com/sentimeter/backend/internal/models"
	"github.com/sentimeter/backend/internal/services"
)

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

type memStore struct {
	mu    sync.Mutex
	users map[int64]bool
	rows  []*models.Prediction
	limit int
}

func newMemStore(users ...int64) *memStore {
	m := &memStore{users: map[int64]bool{}}
	for _, u := range users {
		m.users[u] = true
	}
	return m
}

func (m *memStore) Insert(_ context.Context, p *models.Prediction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.users[p.UserID] {
		return false, ErrUnknownUser
	}
	for _, r := range m.rows {
		if r.JobID == p.JobID {
			return false, nil
		}
	}
	cp := *p
	cp.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, &cp)
	return true, nil
}

func (m *memStore) ListByUser(_ context.Context, userID int64, limit int) ([]*models.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = limit
	var out []*models.Prediction
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if m.rows[i].UserID == userID {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}

func (m *memStore) RecordedRequests(_ context.Context, refs []uuid.UUID) (map[uuid.UUID]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[uuid.UUID]bool{}
	for _, r := range m.rows {
		for _, ref := range refs {
			if r.RequestID != nil && *r.RequestID == ref {
				out[ref] = true
			}
		}
	}
	return out, nil
}

func newHandler(store *memStore) *Handler {
	return NewHandler(NewService(store), services.MustValidator(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const callbackBody = `{
	"job_id": 11,
	"request_id": "0b6f1c8e-3f57-4d55-9a4b-7e0b8f3b2a11",
	"user_id": 3,
	"model_name": "text-rule-v1",
	"input_data": "I love this, it is great",
	"result": {"sentiment": "positive", "score": 0.75, "model": "text-rule-v1"},
	"cost": 1,
	"errors": [],
	"timestamp": "2025-05-04T03:02:01Z"
}`

func post(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions/result", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

func TestRecord_DeduplicatesByJob(t *testing.T) {
	store := newMemStore(3)
	svc := NewService(store)
	p := &models.Prediction{JobID: 1, UserID: 3, ModelName: "m", Timestamp: time.Now()}

	created, err := svc.Record(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{}, store.rows[0].Errors)

	created, err = svc.Record(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, store.rows, 1)
}

func TestRecord_RejectsIncompleteRecords(t *testing.T) {
	svc := NewService(newMemStore(3))
	for _, p := range []*models.Prediction{
		{UserID: 3, ModelName: "m", Timestamp: time.Now()},
		{JobID: 1, ModelName: "m", Timestamp: time.Now()},
		{JobID: 1, UserID: 3, Timestamp: time.Now()},
		{JobID: 1, UserID: 3, ModelName: "m"},
		{JobID: 1, UserID: 3, ModelName: "m", Timestamp: time.Now(), Cost: -1},
	} {
		_, err := svc.Record(context.Background(), p)
		assert.ErrorIs(t, err, ErrInvalidRecord)
	}
}

func TestList_ClampsLimit(t *testing.T) {
	store := newMemStore(3)
	svc := NewService(store)

	list, err := svc.List(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Equal(t, DefaultListLimit, store.limit)

	_, _ = svc.List(context.Background(), 3, 10_000)
	assert.Equal(t, MaxListLimit, store.limit)
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

func TestIngest_CreatedThenDuplicate(t *testing.T) {
	store := newMemStore(3)
	h := newHandler(store)

	rec := post(h, callbackBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = post(h, callbackBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"job_id":11,"created":false}`, rec.Body.String())

	require.Len(t, store.rows, 1)
	p := store.rows[0]
	assert.Equal(t, "0b6f1c8e-3f57-4d55-9a4b-7e0b8f3b2a11", p.RequestID.String())
	assert.JSONEq(t, `{"sentiment":"positive","score":0.75,"model":"text-rule-v1"}`, string(p.Result))
	assert.Equal(t, time.Date(2025, 5, 4, 3, 2, 1, 0, time.UTC), p.Timestamp.UTC())
}

func TestIngest_ErrorOutcomeStoresNullResult(t *testing.T) {
	store := newMemStore(3)
	body := strings.Replace(callbackBody, `{"sentiment": "positive", "score": 0.75, "model": "text-rule-v1"}`, `null`, 1)
	body = strings.Replace(body, `"errors": []`, `"errors": ["input text is empty"]`, 1)

	rec := post(newHandler(store), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Nil(t, store.rows[0].Result)
	assert.Equal(t, []string{"input text is empty"}, store.rows[0].Errors)
}

func TestIngest_Rejects(t *testing.T) {
	stringResult := strings.Replace(callbackBody,
		`{"sentiment": "positive", "score": 0.75, "model": "text-rule-v1"}`,
		`"{\"sentiment\":\"positive\"}"`, 1)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"not JSON", `{`, http.StatusBadRequest},
		{"serialized result string", stringResult, http.StatusBadRequest},
		{"missing job id", strings.Replace(callbackBody, `"job_id": 11,`, ``, 1), http.StatusBadRequest},
		{"bad timestamp", strings.Replace(callbackBody, `2025-05-04T03:02:01Z`, `yesterday`, 1), http.StatusBadRequest},
		{"unknown user", strings.Replace(callbackBody, `"user_id": 3`, `"user_id": 99`, 1), http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore(3)
			rec := post(newHandler(store), tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Empty(t, store.rows)
		})
	}
}

func TestList_Handler(t *testing.T) {
	store := newMemStore(3, 4)
	h := newHandler(store)
	require.Equal(t, http.StatusCreated, post(h, callbackBody).Code)
	other := strings.Replace(strings.Replace(callbackBody, `"job_id": 11`, `"job_id": 12`, 1), `"user_id": 3`, `"user_id": 4`, 1)
	require.Equal(t, http.StatusCreated, post(h, other).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/predictions", nil)
	req = req.WithContext(middleware.WithPrincipal(req.Context(), &middleware.Principal{UserID: 3}))
	rec := httptest.NewRecorder()
	h.List(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(11), got[0].JobID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/predictions?limit=abc", nil)
	req = req.WithContext(middleware.WithPrincipal(req.Context(), &middleware.Principal{UserID: 3}))
	rec = httptest.NewRecorder()
	h.List(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
