package engine

import (
	"context"
	"errors"
	"time"

	"github.com/maraichr/eomat/internal/ledger"
	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/models"
)

const reconcilePage = 500

// ReconcileResult counts what a reconcile pass replayed.
type ReconcileResult struct {
	Sources     int `json:"sources"`
	Products    int `json:"products"`
	Reevaluated int `json:"reevaluated"`
}

// Reconcile replays materialization for every local source and ready
// product with a reference date in [from, to], then re-evaluates pending
// products there. It recovers from lost events and backfills new pipelines.
// READY products are never reset.
func (e *Engine) Reconcile(ctx context.Context, from, to time.Time) (ReconcileResult, error) {
	var res ReconcileResult
	var errs []error
	from, to = models.DateOnly(from), models.DateOnly(to)

	for offset := 0; ; offset += reconcilePage {
		srcs, err := e.ledger.QuerySources(ctx, store.SourceFilter{
			State: models.SourceAvailableLocally, From: &from, To: &to,
			Limit: reconcilePage, Offset: offset,
		})
		if err != nil {
			return res, err
		}
		for _, s := range srcs {
			if err := e.materializeFor(ctx, s.Groups, s.ReferenceDate, triggerReplay); err != nil {
				errs = append(errs, err)
			}
			res.Sources++
		}
		if len(srcs) < reconcilePage {
			break
		}
	}

	for offset := 0; ; offset += reconcilePage {
		prods, err := e.ledger.QueryProducts(ctx, store.ProductFilter{
			State: models.ProductReady, From: &from, To: &to,
			Limit: reconcilePage, Offset: offset,
		})
		if err != nil {
			return res, err
		}
		for _, p := range prods {
			if err := e.materializeFor(ctx, []string{p.Group}, p.ReferenceDate, triggerReplay); err != nil {
				errs = append(errs, err)
			}
			res.Products++
		}
		if len(prods) < reconcilePage {
			break
		}
	}

	for _, state := range []models.ProductState{models.ProductAvailable, models.ProductMissingSource} {
		prods, err := e.ledger.QueryProducts(ctx, store.ProductFilter{State: state, From: &from, To: &to})
		if err != nil {
			return res, err
		}
		for _, prod := range prods {
			p, ok := e.catalog.Producer(prod.Group)
			if !ok {
				continue
			}
			err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
				cur, err := tx.Product(ctx, prod.ID)
				if err != nil {
					return err
				}
				return e.reevaluate(ctx, tx, p, cur)
			})
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				errs = append(errs, err)
			}
			res.Reevaluated++
		}
	}
	return res, errors.Join(errs...)
}
