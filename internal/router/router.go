package router

import (
	"encoding/json"
	"net/http"

	"github.com/sentimeter/backend/internal/auth"
	"github.com/sentimeter/backend/internal/dashboard"
	"github.com/sentimeter/backend/internal/history"
	"github.com/sentimeter/backend/internal/jobs"
	"github.com/sentimeter/backend/internal/middleware"
)

type Handlers struct {
	Auth      *auth.Handler
	Jobs      *jobs.Handler
	History   *history.Handler
	Dashboard *dashboard.Handler
}

// New returns an http.Handler that serves the API under /api/v1 plus
// /health. Bearer tokens are checked by tokens; the worker callback is
// guarded by callbackToken instead.
func New(h Handlers, tokens middleware.TokenValidator, callbackToken string) http.Handler {
	mux := http.NewServeMux()
	const base = "/api/v1"

	user := middleware.BearerAuth(tokens)
	admin := func(next http.Handler) http.Handler { return user(middleware.RequireAdmin(next)) }
	callback := middleware.CallbackAuth(callbackToken)

	mux.HandleFunc("GET /health", health)

	mux.HandleFunc("POST "+base+"/auth/signup", h.Auth.Signup)
	mux.HandleFunc("POST "+base+"/auth/signin", h.Auth.Signin)

	mux.Handle("GET "+base+"/account/me", user(http.HandlerFunc(h.Dashboard.GetMe)))
	mux.Handle("POST "+base+"/account/topup", user(http.HandlerFunc(h.Dashboard.TopUp)))
	mux.Handle("GET "+base+"/account/transactions", user(http.HandlerFunc(h.Dashboard.ListTransactions)))
	mux.Handle("POST "+base+"/admin/users/{id}/topup", admin(http.HandlerFunc(h.Dashboard.AdminTopUp)))

	mux.Handle("POST "+base+"/predict", user(http.HandlerFunc(h.Jobs.Predict)))
	mux.Handle("GET "+base+"/jobs", user(http.HandlerFunc(h.Jobs.ListPending)))

	mux.Handle("GET "+base+"/predictions", user(http.HandlerFunc(h.History.List)))
	mux.Handle("POST "+base+"/predictions/result", callback(http.HandlerFunc(h.History.Ingest)))

	return mux
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
