package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/maraichr/eomat/internal/engine"
	"github.com/maraichr/eomat/pkg/apierr"
)

// OpsHandler triggers engine passes on demand.
type OpsHandler struct {
	logger *slog.Logger
	engine *engine.Engine
}

func NewOpsHandler(logger *slog.Logger, e *engine.Engine) *OpsHandler {
	return &OpsHandler{logger: logger, engine: e}
}

func (h *OpsHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeAPIError(w, h.logger, apierr.InvalidParameter("limit", "must be a positive integer"))
			return
		}
		limit = n
	}
	res, err := h.engine.Sweep(r.Context(), limit)
	if err != nil {
		writeAPIError(w, h.logger, apierr.SweepFailed(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type reconcileRequest struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"required,datetime=2006-01-02"`
}

func (h *OpsHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if aerr := decodeBody(r, &req); aerr != nil {
		writeAPIError(w, h.logger, aerr)
		return
	}
	from, _ := time.Parse(time.DateOnly, req.From)
	to, _ := time.Parse(time.DateOnly, req.To)
	if to.Before(from) {
		writeAPIError(w, h.logger, apierr.InvalidParameter("to", "must not be before from"))
		return
	}
	res, err := h.engine.Reconcile(r.Context(), from, to)
	if err != nil {
		writeAPIError(w, h.logger, apierr.ReconcileFailed(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
