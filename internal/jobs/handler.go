package jobs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sentimeter/backend/internal/ledger"
	"github.com/sentimeter/backend/internal/middleware"
)

type PredictRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Predict handles POST /api/v1/predict. It answers 202 as soon as the job is
// queued; the result shows up in history later.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	receipt, err := h.svc.Submit(r.Context(), p.UserID, req.Text, req.Model)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ledger.ErrInsufficientBalance):
			writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
		case errors.Is(err, ledger.ErrUserNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		default:
			h.log.Error("submit prediction failed", "user_id", p.UserID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "submission failed"})
		}
		return
	}
	h.log.Info("prediction queued", "user_id", p.UserID, "job_id", receipt.JobID, "request_id", receipt.RequestID, "cost", receipt.Cost)
	writeJSON(w, http.StatusAccepted, receipt)
}

// ListPending handles GET /api/v1/jobs.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	list, err := h.svc.ListPending(r.Context(), p.UserID)
	if err != nil {
		h.log.Error("list jobs failed", "user_id", p.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list jobs failed"})
		return
	}
	writeJSON(w, http.StatusOK, list)
}
