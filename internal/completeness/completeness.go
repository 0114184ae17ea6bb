// Package completeness decides whether a pipeline has every input it needs
// for a reference date. Counts are always read fresh from the store.
package completeness

import (
	"context"
	"fmt"
	"time"

	"github.com/maraichr/eomat/internal/catalog"
	"github.com/maraichr/eomat/pkg/models"
)

// Counter is the subset of store.Querier the evaluator reads.
type Counter interface {
	CountSources(ctx context.Context, group string, date time.Time, state models.SourceState) (int, error)
	CountProducts(ctx context.Context, group string, date time.Time, state models.ProductState) (int, error)
}

// Shortfall is the present/expected count of one input group.
type Shortfall struct {
	Group    string           `json:"group"`
	Kind     models.GroupKind `json:"kind"`
	Have     int              `json:"have"`
	Want     int              `json:"want"`
	Complete bool             `json:"complete"`
}

type Evaluator struct {
	catalog *catalog.Catalog
	observe func(time.Duration)
}

func New(cat *catalog.Catalog) *Evaluator {
	return &Evaluator{catalog: cat}
}

// WithObserver records the latency of every evaluation.
func (e *Evaluator) WithObserver(fn func(time.Duration)) *Evaluator {
	e.observe = fn
	return e
}

// IsComplete reports whether every input group of p has at least its
// expected count of present rows for date. Source rows count when
// AVAILABLE_LOCALLY, product rows when READY.
func (e *Evaluator) IsComplete(ctx context.Context, q Counter, p *catalog.Pipeline, date time.Time) (bool, error) {
	shortfalls, err := e.Shortfalls(ctx, q, p, date)
	if err != nil {
		return false, err
	}
	for _, s := range shortfalls {
		if !s.Complete {
			return false, nil
		}
	}
	return true, nil
}

// Shortfalls returns the per-group counts behind IsComplete, in input order.
func (e *Evaluator) Shortfalls(ctx context.Context, q Counter, p *catalog.Pipeline, date time.Time) ([]Shortfall, error) {
	if e.observe != nil {
		start := time.Now()
		defer func() { e.observe(time.Since(start)) }()
	}
	date = models.DateOnly(date)
	out := make([]Shortfall, 0, len(p.Inputs))
	for _, in := range p.Inputs {
		kind, err := e.catalog.KindOf(in)
		if err != nil {
			return nil, err
		}
		var have int
		switch kind {
		case models.GroupKindSource:
			have, err = q.CountSources(ctx, in, date, models.SourceAvailableLocally)
		case models.GroupKindProduct:
			have, err = q.CountProducts(ctx, in, date, models.ProductReady)
		}
		if err != nil {
			return nil, fmt.Errorf("count %s on %s: %w", in, models.FormatDate(date), err)
		}
		want := e.catalog.ExpectedCount(in)
		out = append(out, Shortfall{
			Group:    in,
			Kind:     kind,
			Have:     have,
			Want:     want,
			Complete: have >= want,
		})
	}
	return out, nil
}
