package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sentimeter/backend/internal/middleware"
	"github.com/sentimeter/backend/internal/models"
	"github.com/sentimeter/backend/internal/services"
)

const maxCallbackBody = 1 << 20

type Handler struct {
	svc       *Service
	validator *services.Validator
	log       *slog.Logger
}

func NewHandler(svc *Service, v *services.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: v, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Ingest handles POST /api/v1/predictions/result, the worker callback.
// 201 when stored, 200 when the job was already recorded.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot read body"})
		return
	}
	if len(body) > maxCallbackBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return
	}
	if err := h.validator.ValidateResult(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var rep models.PredictionReport
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&rep); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	created, err := h.svc.Record(r.Context(), rep.Prediction())
	switch {
	case errors.Is(err, ErrInvalidRecord):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, ErrUnknownUser):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	case err != nil:
		h.log.Error("record prediction failed", "job_id", rep.JobID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
		h.log.Info("duplicate prediction report ignored", "job_id", rep.JobID)
	}
	writeJSON(w, status, map[string]any{"job_id": rep.JobID, "created": created})
}

// List handles GET /api/v1/predictions?limit=N for the caller.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	list, err := h.svc.List(r.Context(), p.UserID, limit)
	if err != nil {
		h.log.Error("list predictions failed", "user_id", p.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, list)
}
