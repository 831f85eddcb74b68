// Package dashboard serves the signed-in user's account views and the admin
// top-up.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sentimeter/backend/internal/ledger"
	"github.com/sentimeter/backend/internal/middleware"
	"github.com/sentimeter/backend/internal/models"
)

// maxTopUp caps a single self-service top-up.
const maxTopUp = 10_000

type UserLookup interface {
	Me(ctx context.Context, userID int64) (*models.User, error)
}

type Handler struct {
	users  UserLookup
	ledger ledger.Service
	log    *slog.Logger
}

func NewHandler(users UserLookup, l ledger.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{users: users, ledger: l, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type topUpRequest struct {
	Amount int64 `json:"amount"`
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	u, err := h.users.Me(r.Context(), p.UserID)
	if err != nil {
		h.log.Error("get user failed", "user_id", p.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if u == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// POST /api/v1/account/topup
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Amount > maxTopUp {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount exceeds top-up limit of " + strconv.Itoa(maxTopUp)})
		return
	}
	h.credit(w, r, p.UserID, req.Amount, "Top up")
}

// POST /api/v1/admin/users/{id}/topup
func (h *Handler) AdminTopUp(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || userID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	admin := middleware.PrincipalFromCtx(r.Context())
	if admin == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	h.log.Info("admin top-up", "admin_id", admin.UserID, "user_id", userID, "amount", req.Amount)
	h.credit(w, r, userID, req.Amount, "Admin top up")
}

func (h *Handler) credit(w http.ResponseWriter, r *http.Request, userID, amount int64, desc string) {
	txn, err := h.ledger.Credit(r.Context(), userID, amount, ledger.Entry{Description: desc})
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case err != nil:
		h.log.Error("credit failed", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"balance": txn.BalanceAfter, "transaction": txn})
	}
}

// GET /api/v1/account/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	list, err := h.ledger.History(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		h.log.Error("list transactions failed", "user_id", p.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if list == nil {
		list = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, list)
}
