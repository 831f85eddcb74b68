package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentimeter/backend/internal/auth"
	"github.com/sentimeter/backend/internal/dashboard"
	"github.com/sentimeter/backend/internal/execution"
	"github.com/sentimeter/backend/internal/history"
	"github.com/sentimeter/backend/internal/jobs"
	"github.com/sentimeter/backend/internal/ledger"
	"github.com/sentimeter/backend/internal/ledger/ledgertest"
	"github.com/sentimeter/backend/internal/models"
	"github.com/sentimeter/backend/internal/queue"
	"github.com/sentimeter/backend/internal/reporter"
	"github.com/sentimeter/backend/internal/router"
	"github.com/sentimeter/backend/internal/scoring"
	"github.com/sentimeter/backend/internal/services"
)

// ---------------------------------------------------------------------------
// In-memory collaborators
// ---------------------------------------------------------------------------

// users mirrors every signup into the ledger store so balances exist.
type users struct {
	mu     sync.Mutex
	ledger *ledgertest.Store
	list   []*models.User
}

func (u *users) Create(_ context.Context, email, hash string, admin bool) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, x := range u.list {
		if x.Email == email {
			return nil, &pgconn.PgError{Code: "23505"}
		}
	}
	usr := &models.User{ID: int64(len(u.list) + 1), Email: email, PasswordHash: hash, IsAdmin: admin}
	u.list = append(u.list, usr)
	u.ledger.AddUser(usr.ID)
	return usr, nil
}

func (u *users) GetByEmail(_ context.Context, email string) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, x := range u.list {
		if x.Email == email {
			return x, nil
		}
	}
	return nil, nil
}

func (u *users) GetByID(_ context.Context, id int64) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, x := range u.list {
		if x.ID == id {
			return x, nil
		}
	}
	return nil, nil
}

// memQueue stands in for river_job.
type memQueue struct {
	mu   sync.Mutex
	rows []*rivertype.JobRow
}

func (q *memQueue) enqueue(_ context.Context, _ pgx.Tx, args queue.PredictionArgs) (int64, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	row := &rivertype.JobRow{
		ID:          int64(len(q.rows) + 1),
		Kind:        queue.KindPrediction,
		EncodedArgs: raw,
		State:       rivertype.JobStateAvailable,
		CreatedAt:   time.Now().UTC(),
	}
	q.rows = append(q.rows, row)
	return row.ID, nil
}

func (q *memQueue) ListPending(_ context.Context, userID int64) ([]*models.PendingJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*models.PendingJob
	for _, r := range q.rows {
		var a queue.PredictionArgs
		_ = json.Unmarshal(r.EncodedArgs, &a)
		if a.UserID == userID && r.State == rivertype.JobStateAvailable {
			out = append(out, &models.PendingJob{JobID: r.ID, State: string(r.State), RequestID: a.RequestID, Cost: a.Cost})
		}
	}
	return out, nil
}

type predictions struct {
	mu   sync.Mutex
	rows []*models.Prediction
}

func (p *predictions) Insert(_ context.Context, pr *models.Prediction) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.rows {
		if r.JobID == pr.JobID {
			return false, nil
		}
	}
	p.rows = append(p.rows, pr)
	return true, nil
}

func (p *predictions) ListByUser(_ context.Context, userID int64, limit int) ([]*models.Prediction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.Prediction
	for i := len(p.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if p.rows[i].UserID == userID {
			out = append(out, p.rows[i])
		}
	}
	return out, nil
}

func (p *predictions) RecordedRequests(context.Context, []uuid.UUID) (map[uuid.UUID]bool, error) {
	return map[uuid.UUID]bool{}, nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	srv    *httptest.Server
	queue  *memQueue
	ledger ledger.Service
	users  *users
	worker *execution.PredictionWorker
}

const callbackToken = "cb-token"

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := ledgertest.NewStore()
	u := &users{ledger: store}
	q := &memQueue{}
	l := ledger.NewService(store)
	v := services.MustValidator()

	authSvc := auth.NewService(u, "secret", time.Hour)
	jobsSvc := jobs.NewService(store, l, q.enqueue, q, jobs.Options{Cost: 1, DefaultModel: scoring.TextRuleName, MaxInputLength: 1000})
	histSvc := history.NewService(&predictions{})

	srv := httptest.NewServer(router.New(router.Handlers{
		Auth:      auth.NewHandler(authSvc, log),
		Jobs:      jobs.NewHandler(jobsSvc, log),
		History:   history.NewHandler(histSvc, v, log),
		Dashboard: dashboard.NewHandler(authSvc, l, log),
	}, authSvc, callbackToken))
	t.Cleanup(srv.Close)

	rep := reporter.NewHTTPReporter(srv.URL+"/api/v1/predictions/result", callbackToken, time.Second)
	w := execution.NewPredictionWorker(v, rep, execution.Options{
		DefaultModel:   scoring.TextRuleName,
		MaxInputLength: 1000,
		RetryDelay:     time.Second,
		ReportTimeout:  time.Second,
	}, log)

	return &harness{srv: srv, queue: q, ledger: l, users: u, worker: w}
}

func (h *harness) call(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (h *harness) signup(t *testing.T, email string) string {
	t.Helper()
	creds := map[string]string{"email": email, "password": "password123"}
	code, body := h.call(t, http.MethodPost, "/api/v1/auth/signup", "", creds)
	require.Equal(t, http.StatusCreated, code, string(body))
	code, body = h.call(t, http.MethodPost, "/api/v1/auth/signin", "", creds)
	require.Equal(t, http.StatusOK, code, string(body))
	var tok auth.TokenResponse
	require.NoError(t, json.Unmarshal(body, &tok))
	return tok.AccessToken
}

// drain runs every queued job through the worker once.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	h.queue.mu.Lock()
	rows := append([]*rivertype.JobRow(nil), h.queue.rows...)
	h.queue.mu.Unlock()
	for _, row := range rows {
		if row.State != rivertype.JobStateAvailable {
			continue
		}
		var args queue.PredictionArgs
		require.NoError(t, json.Unmarshal(row.EncodedArgs, &args))
		row.Attempt++
		d, err := h.worker.Process(context.Background(), row, args)
		require.NoError(t, err)
		require.Equal(t, execution.Acked, d)
		row.State = rivertype.JobStateCompleted
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	h := newHarness(t)
	code, body := h.call(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestPipeline_PositivePredictionReachesHistory(t *testing.T) {
	h := newHarness(t)
	token := h.signup(t, "alice@example.com")

	code, body := h.call(t, http.MethodPost, "/api/v1/account/topup", token, map[string]int64{"amount": 10})
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = h.call(t, http.MethodPost, "/api/v1/predict", token, map[string]string{"text": "I love this, it is great"})
	require.Equal(t, http.StatusAccepted, code, string(body))
	var receipt jobs.Receipt
	require.NoError(t, json.Unmarshal(body, &receipt))
	assert.Equal(t, int64(9), receipt.Balance)

	code, body = h.call(t, http.MethodGet, "/api/v1/jobs", token, nil)
	require.Equal(t, http.StatusOK, code)
	var pending []models.PendingJob
	require.NoError(t, json.Unmarshal(body, &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, receipt.JobID, pending[0].JobID)

	h.drain(t)

	code, body = h.call(t, http.MethodGet, "/api/v1/predictions", token, nil)
	require.Equal(t, http.StatusOK, code)
	var list []models.Prediction
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, receipt.RequestID, *list[0].RequestID)
	var res scoring.Result
	require.NoError(t, json.Unmarshal(list[0].Result, &res))
	assert.Equal(t, scoring.LabelPositive, res.Sentiment)
	assert.Greater(t, res.Score, 0.5)

	code, body = h.call(t, http.MethodGet, "/api/v1/jobs", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	code, body = h.call(t, http.MethodGet, "/api/v1/account/transactions", token, nil)
	require.Equal(t, http.StatusOK, code)
	var txns []models.Transaction
	require.NoError(t, json.Unmarshal(body, &txns))
	require.Len(t, txns, 2)
	assert.Equal(t, int64(-1), txns[0].Amount)
}

func TestPipeline_ZeroBalanceIsRefusedAndNothingQueued(t *testing.T) {
	h := newHarness(t)
	token := h.signup(t, "bob@example.com")

	code, _ := h.call(t, http.MethodPost, "/api/v1/predict", token, map[string]string{"text": "hello"})
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Empty(t, h.queue.rows)

	bal, err := h.ledger.Balance(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestRoutes_AuthAndAdmin(t *testing.T) {
	h := newHarness(t)
	userToken := h.signup(t, "carol@example.com")

	code, _ := h.call(t, http.MethodGet, "/api/v1/account/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.call(t, http.MethodPost, "/api/v1/admin/users/1/topup", userToken, map[string]int64{"amount": 5})
	assert.Equal(t, http.StatusForbidden, code)

	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	_, err = h.users.Create(context.Background(), "root@example.com", hash, true)
	require.NoError(t, err)
	code, body := h.call(t, http.MethodPost, "/api/v1/auth/signin", "", map[string]string{"email": "root@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, code)
	var tok auth.TokenResponse
	require.NoError(t, json.Unmarshal(body, &tok))

	code, body = h.call(t, http.MethodPost, "/api/v1/admin/users/1/topup", tok.AccessToken, map[string]int64{"amount": 5})
	require.Equal(t, http.StatusOK, code, string(body))
	bal, _ := h.ledger.Balance(context.Background(), 1)
	assert.Equal(t, int64(5), bal)

	code, _ = h.call(t, http.MethodGet, "/api/v1/predict", userToken, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestCallbackRequiresToken(t *testing.T) {
	h := newHarness(t)
	code, _ := h.call(t, http.MethodPost, "/api/v1/predictions/result", "", map[string]any{"job_id": 1})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = h.call(t, http.MethodPost, "/api/v1/predictions/result", "wrong", map[string]any{"job_id": 1})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = h.call(t, http.MethodPost, "/api/v1/predictions/result", callbackToken, map[string]any{"job_id": 1})
	assert.Equal(t, http.StatusBadRequest, code)
}
