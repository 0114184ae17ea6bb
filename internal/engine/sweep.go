package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/maraichr/eomat/internal/dispatch"
	"github.com/maraichr/eomat/internal/ledger"
	"github.com/maraichr/eomat/internal/metrics"
	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

// SweepResult summarizes one scheduling sweep.
type SweepResult struct {
	Claimed    int `json:"claimed"`
	Dispatched int `json:"dispatched"`
	RolledBack int `json:"rolled_back"`
}

// Sweep claims up to limit AVAILABLE products and submits one processing job
// for each. The claim commits before any submission, so a product is never
// handed out twice. A product whose submission fails is returned to
// AVAILABLE.
func (e *Engine) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	var res SweepResult
	var claimed []models.Product
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		var err error
		claimed, err = tx.Claim(ctx, limit)
		return err
	})
	if err != nil {
		return res, err
	}
	res.Claimed = len(claimed)
	metrics.SweepClaimed(len(claimed))

	for _, prod := range claimed {
		if err := e.limiter.Wait(ctx); err != nil {
			e.release(context.WithoutCancel(ctx), prod, err)
			res.RolledBack++
			continue
		}
		if err := e.submit(ctx, prod); err != nil {
			e.logger.Error("dispatch failed",
				slog.String("product_id", prod.ID.String()),
				slog.String("error", err.Error()))
			metrics.SweepDispatched("error")
			e.release(ctx, prod, err)
			res.RolledBack++
			continue
		}
		metrics.SweepDispatched("ok")
		res.Dispatched++
	}
	if res.Claimed > 0 {
		e.logger.Info("sweep finished",
			slog.Int("claimed", res.Claimed),
			slog.Int("dispatched", res.Dispatched),
			slog.Int("rolled_back", res.RolledBack))
	}
	return res, nil
}

func (e *Engine) submit(ctx context.Context, prod models.Product) error {
	p, ok := e.catalog.Producer(prod.Group)
	if !ok {
		return fault.Misconfigured("no pipeline produces group %q", prod.Group)
	}
	if prod.JobID == nil {
		return fmt.Errorf("product %s claimed without a job handle", prod.ID)
	}
	_, err := e.queue.Submit(ctx, dispatch.Job{
		ID:       *prod.JobID,
		Kind:     dispatch.KindProcess,
		Function: p.Function,
		TargetID: prod.ID,
		Kwargs:   p.Kwargs,
	})
	return err
}

// release undoes a claim whose job never reached the queue.
func (e *Engine) release(ctx context.Context, prod models.Product, cause error) {
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		cur, err := tx.Product(ctx, prod.ID)
		if err != nil {
			return err
		}
		if cur.State != models.ProductScheduled || !sameJob(cur.JobID, prod.JobID) {
			return nil
		}
		_, err = tx.TransitionProduct(ctx, cur.ID, models.ProductAvailable, ledger.ProductDetails{
			Error: "dispatch: " + cause.Error(),
		})
		return err
	})
	if err != nil {
		e.logger.Error("release claim failed",
			slog.String("product_id", prod.ID.String()),
			slog.String("error", err.Error()))
	}
}

func sameJob(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

// Retry resets a FAILED product to AVAILABLE, or to MISSING_SOURCE when its
// inputs have been withdrawn since.
func (e *Engine) Retry(ctx context.Context, productID uuid.UUID) (models.Product, error) {
	var out models.Product
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		prod, err := tx.Product(ctx, productID)
		if err != nil {
			return err
		}
		if prod.State != models.ProductFailed {
			return fault.InvalidTransition("product", prod.State, models.ProductAvailable)
		}
		prod, err = tx.TransitionProduct(ctx, prod.ID, models.ProductAvailable, ledger.ProductDetails{})
		if err != nil {
			return err
		}
		if p, ok := e.catalog.Producer(prod.Group); ok {
			if err := e.reevaluate(ctx, tx, p, prod); err != nil {
				return err
			}
		}
		out, err = tx.Product(ctx, prod.ID)
		return err
	})
	return out, err
}
