package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maraichr/eomat/internal/artifact"
	"github.com/maraichr/eomat/internal/engine"
	"github.com/maraichr/eomat/internal/ledger"
	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/apierr"
	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

type ProductHandler struct {
	logger    *slog.Logger
	ledger    *ledger.Ledger
	engine    *engine.Engine
	artifacts artifact.Store
}

func NewProductHandler(logger *slog.Logger, l *ledger.Ledger, e *engine.Engine, arts artifact.Store) *ProductHandler {
	return &ProductHandler{logger: logger, ledger: l, engine: e, artifacts: arts}
}

func productID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		writeAPIError(w, nil, apierr.InvalidID("product"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	f := store.ProductFilter{
		Group:  r.URL.Query().Get("group"),
		State:  models.ProductState(r.URL.Query().Get("state")),
		Limit:  limit,
		Offset: offset,
	}
	if f.State != "" && !f.State.Valid() {
		writeAPIError(w, h.logger, apierr.InvalidParameter("state", "unknown product state"))
		return
	}
	var aerr *apierr.Error
	if f.From, aerr = dateParam(r, "from"); aerr != nil {
		writeAPIError(w, h.logger, aerr)
		return
	}
	if f.To, aerr = dateParam(r, "to"); aerr != nil {
		writeAPIError(w, h.logger, aerr)
		return
	}

	products, err := h.ledger.QueryProducts(r.Context(), f)
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"products": products,
		"total":    len(products),
	})
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	p, err := h.ledger.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, apierr.ProductNotFound())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Completeness reports the per-input counts behind the product's state.
func (h *ProductHandler) Completeness(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	shortfalls, err := h.engine.Completeness(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, apierr.ProductNotFound())
		return
	}
	complete := true
	for _, s := range shortfalls {
		complete = complete && s.Complete
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"complete": complete,
		"inputs":   shortfalls,
	})
}

func (h *ProductHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	p, err := h.engine.Retry(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, apierr.ProductNotFound())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductHandler) Ignore(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var p models.Product
	err := h.ledger.Update(r.Context(), func(tx *ledger.Tx) error {
		var err error
		p, err = tx.IgnoreProduct(r.Context(), id)
		return err
	})
	if err != nil {
		writeError(w, h.logger, err, apierr.ProductNotFound())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var res ledger.Deletion
	err := h.ledger.Update(r.Context(), func(tx *ledger.Tx) error {
		var err error
		res, err = tx.DeleteProduct(r.Context(), id, h.artifacts)
		return err
	})
	if err != nil {
		writeError(w, h.logger, err, apierr.ProductNotFound())
		return
	}
	h.logger.Info("product deleted",
		slog.String("product_id", id.String()),
		slog.Bool("ignored", res.Ignored),
		slog.Bool("artifact_removed", res.ArtifactRemoved))
	writeJSON(w, http.StatusOK, res)
}

// Artifact streams the file of a READY product.
func (h *ProductHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	p, err := h.ledger.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, apierr.ProductNotFound())
		return
	}
	if p.State != models.ProductReady {
		writeError(w, h.logger, fault.InvalidTransition("product", p.State, "download"), nil)
		return
	}
	rc, err := h.artifacts.Open(r.Context(), p.Filename)
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(p.Filename))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("artifact stream interrupted",
			slog.String("product_id", id.String()),
			slog.String("error", err.Error()))
	}
}
