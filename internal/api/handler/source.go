package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maraichr/eomat/internal/discovery"
	"github.com/maraichr/eomat/internal/download"
	"github.com/maraichr/eomat/internal/ledger"
	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/apierr"
	"github.com/maraichr/eomat/pkg/models"
)

type SourceHandler struct {
	logger    *slog.Logger
	ledger    *ledger.Ledger
	downloads *download.Downloader
	discovery *discovery.Discoverer
}

func NewSourceHandler(logger *slog.Logger, l *ledger.Ledger, d *download.Downloader, disc *discovery.Discoverer) *SourceHandler {
	return &SourceHandler{logger: logger, ledger: l, downloads: d, discovery: disc}
}

func sourceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		writeAPIError(w, nil, apierr.InvalidID("source"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	f := store.SourceFilter{
		Group:  r.URL.Query().Get("group"),
		State:  models.SourceState(r.URL.Query().Get("state")),
		Limit:  limit,
		Offset: offset,
	}
	if f.State != "" && !f.State.Valid() {
		writeAPIError(w, h.logger, apierr.InvalidParameter("state", "unknown source state"))
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

	sources, err := h.ledger.QuerySources(r.Context(), f)
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	if sources == nil {
		sources = []models.Source{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sources": sources,
		"total":   len(sources),
	})
}

func (h *SourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	src, err := h.ledger.GetSource(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, apierr.SourceNotFound())
		return
	}
	writeJSON(w, http.StatusOK, src)
}

type registerSourceRequest struct {
	Filename      string   `json:"filename" validate:"required,excludesall=/\\"`
	Groups        []string `json:"groups" validate:"required,min=1,dive,required"`
	URL           string   `json:"url" validate:"required,url"`
	Credentials   *string  `json:"credentials"`
	SizeReported  int64    `json:"size_reported"`
	ReferenceDate string   `json:"reference_date" validate:"omitempty,datetime=2006-01-02"`
	Download      bool     `json:"download"`
}

// Register records a remote source. It answers 201 for a new row and 200
// when the filename was already registered.
func (h *SourceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerSourceRequest
	if aerr := decodeBody(r, &req); aerr != nil {
		writeAPIError(w, h.logger, aerr)
		return
	}
	var date time.Time
	if req.ReferenceDate != "" {
		date, _ = time.Parse(time.DateOnly, req.ReferenceDate)
	}

	var src models.Source
	var created bool
	err := h.ledger.Update(r.Context(), func(tx *ledger.Tx) error {
		var err error
		src, created, err = tx.RegisterSource(r.Context(), ledger.RegisterSourceParams{
			Filename:      req.Filename,
			Groups:        req.Groups,
			URL:           req.URL,
			Credentials:   req.Credentials,
			SizeReported:  req.SizeReported,
			ReferenceDate: date,
		})
		return err
	})
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	if created {
		h.logger.Info("source registered",
			slog.String("source_id", src.ID.String()),
			slog.String("filename", src.Filename))
	}
	if req.Download && src.State == models.SourceAvailableRemotely {
		if src, err = h.downloads.Schedule(r.Context(), src.ID); err != nil {
			writeError(w, h.logger, err, apierr.SourceNotFound())
			return
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, src)
}

func (h *SourceHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	src, err := h.downloads.Schedule(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, apierr.SourceNotFound())
		return
	}
	writeJSON(w, http.StatusAccepted, src)
}

func (h *SourceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	src, err := h.downloads.Revoke(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, apierr.SourceNotFound())
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// Delete purges the source row and its local file.
func (h *SourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	if _, err := h.downloads.Purge(r.Context(), id); err != nil {
		writeError(w, h.logger, err, apierr.SourceNotFound())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SourceHandler) Discover(w http.ResponseWriter, r *http.Request) {
	res, err := h.discovery.Discover(r.Context(), chi.URLParam(r, "group"))
	if err != nil {
		aerr := apierr.From(err, nil)
		if aerr.Code() == apierr.CodeInternalError {
			aerr = apierr.DiscoveryFailed(err)
		}
		writeAPIError(w, h.logger, aerr)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
