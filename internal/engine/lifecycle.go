package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/maraichr/eomat/internal/dispatch"
	"github.com/maraichr/eomat/internal/ledger"
	"github.com/maraichr/eomat/internal/metrics"
	"github.com/maraichr/eomat/pkg/models"
)

// ProcessLifecycle applies processing job callbacks to products. A callback
// whose job handle no longer matches the product is ignored.
type ProcessLifecycle struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

func (e *Engine) Lifecycle() *ProcessLifecycle {
	return &ProcessLifecycle{ledger: e.ledger, logger: e.logger}
}

func owns(p models.Product, job dispatch.Job) bool {
	return p.JobID != nil && *p.JobID == job.ID
}

// OnStart moves a SCHEDULED product to GENERATING. A redelivered job finding
// its product already GENERATING resumes.
func (l *ProcessLifecycle) OnStart(ctx context.Context, job dispatch.Job, target uuid.UUID) error {
	return l.ledger.Update(ctx, func(tx *ledger.Tx) error {
		p, err := tx.Product(ctx, target)
		if err != nil {
			return err
		}
		if !owns(p, job) {
			l.stale(job, p)
			return dispatch.ErrStaleJob
		}
		switch p.State {
		case models.ProductGenerating:
			return nil
		case models.ProductScheduled:
			_, err = tx.TransitionProduct(ctx, p.ID, models.ProductGenerating, ledger.ProductDetails{})
			return err
		default:
			l.stale(job, p)
			return dispatch.ErrStaleJob
		}
	})
}

func (l *ProcessLifecycle) OnSuccess(ctx context.Context, job dispatch.Job, target uuid.UUID) error {
	metrics.JobFinished(string(job.Kind), "success")
	return l.ledger.Update(ctx, func(tx *ledger.Tx) error {
		p, err := tx.Product(ctx, target)
		if err != nil {
			return err
		}
		if !owns(p, job) || p.State != models.ProductGenerating {
			l.stale(job, p)
			return nil
		}
		_, err = tx.TransitionProduct(ctx, p.ID, models.ProductReady, ledger.ProductDetails{})
		if err == nil {
			l.logger.Info("product ready", slog.String("product_id", p.ID.String()), slog.String("filename", p.Filename))
		}
		return err
	})
}

// OnFailure records the cause on the product. Processing failures are not
// retried automatically.
func (l *ProcessLifecycle) OnFailure(ctx context.Context, job dispatch.Job, target uuid.UUID, cause error) error {
	metrics.JobFinished(string(job.Kind), "failure")
	l.logger.Error("processing failed",
		slog.String("product_id", target.String()),
		slog.String("job_id", job.ID),
		slog.String("error", cause.Error()))
	return l.ledger.Update(ctx, func(tx *ledger.Tx) error {
		p, err := tx.Product(ctx, target)
		if err != nil {
			return err
		}
		if !owns(p, job) || !p.State.InFlight() {
			l.stale(job, p)
			return nil
		}
		_, err = tx.TransitionProduct(ctx, p.ID, models.ProductFailed, ledger.ProductDetails{Error: cause.Error()})
		return err
	})
}

func (l *ProcessLifecycle) stale(job dispatch.Job, p models.Product) {
	l.logger.Warn("ignoring stale job callback",
		slog.String("job_id", job.ID),
		slog.String("product_id", p.ID.String()),
		slog.String("state", string(p.State)))
}
