package handler

import (
	"net/http"

	"github.com/maraichr/eomat/internal/catalog"
	"github.com/maraichr/eomat/pkg/models"
)

// CatalogHandler exposes the loaded groups and pipelines.
type CatalogHandler struct {
	catalog *catalog.Catalog
}

func NewCatalogHandler(cat *catalog.Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: cat}
}

type groupView struct {
	Name          string           `json:"name"`
	Kind          models.GroupKind `json:"kind"`
	DatePattern   string           `json:"date_pattern,omitempty"`
	Discovery     string           `json:"discovery,omitempty"`
	Location      string           `json:"location,omitempty"`
	AutoDownload  bool             `json:"auto_download"`
	ExpectedCount int              `json:"expected_count"`
}

type pipelineView struct {
	Name               string            `json:"name"`
	Inputs             []string          `json:"inputs"`
	Output             string            `json:"output"`
	Function           string            `json:"function"`
	Kwargs             map[string]string `json:"kwargs,omitempty"`
	Template           string            `json:"template"`
	Enabled            bool              `json:"enabled"`
	Window             string            `json:"window,omitempty"`
	RegenerateOnUpdate bool              `json:"regenerate_on_update"`
}

func (h *CatalogHandler) Groups(w http.ResponseWriter, r *http.Request) {
	out := make([]groupView, 0, len(h.catalog.Groups()))
	for _, g := range h.catalog.Groups() {
		out = append(out, groupView{
			Name:          g.Name,
			Kind:          g.Kind,
			DatePattern:   g.DatePattern,
			Discovery:     g.Discovery,
			Location:      g.Location,
			AutoDownload:  g.AutoDownload,
			ExpectedCount: h.catalog.ExpectedCount(g.Name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": out, "total": len(out)})
}

func (h *CatalogHandler) Pipelines(w http.ResponseWriter, r *http.Request) {
	out := make([]pipelineView, 0, len(h.catalog.Pipelines()))
	for _, p := range h.catalog.Pipelines() {
		v := pipelineView{
			Name:               p.Name,
			Inputs:             p.Inputs,
			Output:             p.Output,
			Function:           p.Function,
			Kwargs:             p.Kwargs,
			Template:           p.Template.String(),
			Enabled:            p.Enabled,
			RegenerateOnUpdate: p.RegenerateOnUpdate,
		}
		if p.Window != nil {
			v.Window = p.Window.String()
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": out, "total": len(out)})
}
