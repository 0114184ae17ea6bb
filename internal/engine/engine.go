// Package engine turns ledger events into product state. It creates and
// re-evaluates products when their inputs change, claims eligible products
// for processing and applies job callbacks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/maraichr/eomat/internal/catalog"
	"github.com/maraichr/eomat/internal/completeness"
	"github.com/maraichr/eomat/internal/dispatch"
	"github.com/maraichr/eomat/internal/events"
	"github.com/maraichr/eomat/internal/ledger"
	"github.com/maraichr/eomat/internal/metrics"
	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/models"
)

type Engine struct {
	ledger  *ledger.Ledger
	catalog *catalog.Catalog
	eval    *completeness.Evaluator
	queue   dispatch.Queue
	limiter *rate.Limiter
	logger  *slog.Logger
}

type Option func(*Engine)

// WithRateLimit bounds how fast the sweep submits jobs.
func WithRateLimit(l *rate.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

func New(l *ledger.Ledger, eval *completeness.Evaluator, q dispatch.Queue, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		ledger:  l,
		catalog: l.Catalog(),
		eval:    eval,
		queue:   q,
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Subscribe registers the engine's handlers on bus.
func (e *Engine) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.SourceBecameLocal, func(ctx context.Context, ev events.Event) error {
		return e.OnSourceBecameLocal(ctx, ev.EntityID)
	})
	bus.Subscribe(events.ProductBecameReady, func(ctx context.Context, ev events.Event) error {
		return e.OnProductBecameReady(ctx, ev.EntityID)
	})
	bus.Subscribe(events.InputWithdrawn, func(ctx context.Context, ev events.Event) error {
		return e.OnInputWithdrawn(ctx, ev.Group, ev.ReferenceDate)
	})
}

// trigger selects how an existing READY product reacts to a new input.
type trigger int

const (
	// triggerUpdate may reset READY products of regenerate_on_update pipelines.
	triggerUpdate trigger = iota
	// triggerReplay never touches READY products.
	triggerReplay
)

// OnSourceBecameLocal materializes every enabled pipeline consuming a group
// of the source for its reference date.
func (e *Engine) OnSourceBecameLocal(ctx context.Context, sourceID uuid.UUID) error {
	src, err := e.ledger.GetSource(ctx, sourceID)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("source vanished before materialization", slog.String("source_id", sourceID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load source %s: %w", sourceID, err)
	}
	if src.State != models.SourceAvailableLocally {
		return nil
	}
	return e.materializeFor(ctx, src.Groups, src.ReferenceDate, triggerUpdate)
}

// OnProductBecameReady materializes every enabled pipeline consuming the
// product's group, subject to each pipeline's gating window.
func (e *Engine) OnProductBecameReady(ctx context.Context, productID uuid.UUID) error {
	p, err := e.ledger.GetProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load product %s: %w", productID, err)
	}
	if p.State != models.ProductReady {
		return nil
	}
	return e.materializeFor(ctx, []string{p.Group}, p.ReferenceDate, triggerUpdate)
}

// OnInputWithdrawn re-evaluates existing consumer products of group on date.
// No product is created.
func (e *Engine) OnInputWithdrawn(ctx context.Context, group string, date time.Time) error {
	var errs []error
	for _, p := range e.catalog.Consumers(group) {
		err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
			prod, err := tx.ProductAt(ctx, p.Output, date)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			return e.reevaluate(ctx, tx, p, prod)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("pipeline %s: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

// materializeFor runs each consuming pipeline in its own transaction so one
// failing pipeline does not block the others.
func (e *Engine) materializeFor(ctx context.Context, groups []string, date time.Time, tr trigger) error {
	seen := make(map[string]bool)
	var errs []error
	for _, g := range groups {
		for _, p := range e.catalog.Consumers(g) {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
				_, err := e.materialize(ctx, tx, p, date, tr)
				return err
			})
			if err != nil {
				e.logger.Error("materialize failed",
					slog.String("pipeline", p.Name),
					slog.String("reference_date", models.FormatDate(date)),
					slog.String("error", err.Error()))
				errs = append(errs, fmt.Errorf("pipeline %s: %w", p.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// materialize gets or creates the pipeline's product for date and sets it
// AVAILABLE or MISSING_SOURCE from a fresh completeness count. Products
// owned by a job, failed or ignored are left alone. It returns false when the
// gating window suppressed the pipeline.
func (e *Engine) materialize(ctx context.Context, tx *ledger.Tx, p *catalog.Pipeline, date time.Time, tr trigger) (bool, error) {
	if !p.Admits(date) {
		e.logger.Debug("gating window suppressed materialization",
			slog.String("pipeline", p.Name),
			slog.String("reference_date", models.FormatDate(date)))
		return false, nil
	}
	// prod is locked, so its state cannot change under us until commit.
	prod, created, err := tx.GetOrCreateProduct(ctx, p.OutputFilename(date), p.Output, date)
	if err != nil {
		return true, err
	}
	if created {
		e.logger.Info("product created",
			slog.String("product_id", prod.ID.String()),
			slog.String("filename", prod.Filename),
			slog.String("pipeline", p.Name))
	}
	if prod.State == models.ProductReady {
		if tr != triggerUpdate || !p.RegenerateOnUpdate {
			return true, nil
		}
		complete, err := e.eval.IsComplete(ctx, tx.Querier(), p, date)
		if err != nil || !complete {
			return true, err
		}
		if _, err := tx.TransitionProduct(ctx, prod.ID, models.ProductAvailable, ledger.ProductDetails{}); err != nil {
			return true, err
		}
		metrics.Materialized(p.Name, string(models.ProductAvailable))
		return true, nil
	}
	return true, e.reevaluate(ctx, tx, p, prod)
}

// reevaluate recomputes an AVAILABLE or MISSING_SOURCE product.
func (e *Engine) reevaluate(ctx context.Context, tx *ledger.Tx, p *catalog.Pipeline, prod models.Product) error {
	if prod.State != models.ProductAvailable && prod.State != models.ProductMissingSource {
		return nil
	}
	complete, err := e.eval.IsComplete(ctx, tx.Querier(), p, prod.ReferenceDate)
	if err != nil {
		return err
	}
	target := models.ProductMissingSource
	if complete {
		target = models.ProductAvailable
	}
	metrics.Materialized(p.Name, string(target))
	if prod.State == target {
		return nil
	}
	_, err = tx.TransitionProduct(ctx, prod.ID, target, ledger.ProductDetails{})
	return err
}

// Completeness reports the per-input counts behind a product's state.
func (e *Engine) Completeness(ctx context.Context, productID uuid.UUID) ([]completeness.Shortfall, error) {
	var out []completeness.Shortfall
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		prod, err := tx.Product(ctx, productID)
		if err != nil {
			return err
		}
		p, ok := e.catalog.Producer(prod.Group)
		if !ok {
			return fmt.Errorf("no pipeline produces %s", prod.Group)
		}
		out, err = e.eval.Shortfalls(ctx, tx.Querier(), p, prod.ReferenceDate)
		return err
	})
	return out, err
}
