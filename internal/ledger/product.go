package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/eomat/internal/events"
	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

const (
	eventSourceBecameLocal  = events.SourceBecameLocal
	eventProductBecameReady = events.ProductBecameReady
	eventInputWithdrawn     = events.InputWithdrawn
)

// ProductDetails carries the optional columns written alongside a product
// transition.
type ProductDetails struct {
	// JobID replaces the stored job handle when set.
	JobID *string
	Error string
}

// GetOrCreateProduct returns the product for (group, date), creating it in
// MISSING_SOURCE when absent. The returned row is locked for the rest of the
// transaction. It never decides readiness.
func (tx *Tx) GetOrCreateProduct(ctx context.Context, filename, group string, date time.Time) (models.Product, bool, error) {
	kind, err := tx.l.catalog.KindOf(group)
	if err != nil {
		return models.Product{}, false, err
	}
	if kind != models.GroupKindProduct {
		return models.Product{}, false, fmt.Errorf("%w: %q is a source group", fault.ErrUnknownGroup, group)
	}
	p, created, err := tx.q.CreateProduct(ctx, store.CreateProductParams{
		Filename:      filename,
		Group:         group,
		ReferenceDate: models.DateOnly(date),
		State:         models.ProductMissingSource,
	})
	if err != nil {
		return models.Product{}, false, fmt.Errorf("get or create product %s: %w", filename, err)
	}
	locked, err := tx.q.LockProduct(ctx, p.ID)
	if err != nil {
		return models.Product{}, false, fmt.Errorf("lock product %s: %w", p.ID, err)
	}
	return locked, created, nil
}

// Product reads a product and locks it for the rest of the transaction.
func (tx *Tx) Product(ctx context.Context, id uuid.UUID) (models.Product, error) {
	return tx.q.LockProduct(ctx, id)
}

// ProductAt returns the product of group for date, or store.ErrNotFound.
func (tx *Tx) ProductAt(ctx context.Context, group string, date time.Time) (models.Product, error) {
	p, err := tx.q.GetProductByGroupDate(ctx, group, date)
	if err != nil {
		return models.Product{}, err
	}
	return tx.q.LockProduct(ctx, p.ID)
}

// TransitionProduct moves a product along the product state machine.
// Entering READY emits ProductBecameReady. Returning to AVAILABLE or
// MISSING_SOURCE clears the job handle.
func (tx *Tx) TransitionProduct(ctx context.Context, id uuid.UUID, to models.ProductState, d ProductDetails) (models.Product, error) {
	p, err := tx.q.LockProduct(ctx, id)
	if err != nil {
		return models.Product{}, fmt.Errorf("lock product %s: %w", id, err)
	}
	return tx.transitionLocked(ctx, p, to, d)
}

func (tx *Tx) transitionLocked(ctx context.Context, p models.Product, to models.ProductState, d ProductDetails) (models.Product, error) {
	if !CanTransitionProduct(p.State, to) {
		return p, fault.InvalidTransition("product", p.State, to)
	}
	arg := store.UpdateProductParams{
		ID:           p.ID,
		State:        to,
		JobID:        p.JobID,
		ErrorMessage: optString(d.Error),
	}
	if d.JobID != nil {
		arg.JobID = d.JobID
	}
	if to == models.ProductAvailable || to == models.ProductMissingSource {
		arg.JobID = nil
	}
	updated, err := tx.q.UpdateProduct(ctx, arg)
	if err != nil {
		return models.Product{}, fmt.Errorf("update product %s: %w", p.ID, err)
	}
	if to == models.ProductReady {
		tx.emit(eventProductBecameReady, updated.ID, updated.Group, updated.ReferenceDate)
	}
	return updated, nil
}

// IgnoreProduct marks a product IGNORE and withdraws it from consumers.
func (tx *Tx) IgnoreProduct(ctx context.Context, id uuid.UUID) (models.Product, error) {
	p, err := tx.TransitionProduct(ctx, id, models.ProductIgnore, ProductDetails{})
	if err != nil {
		return p, err
	}
	tx.emit(eventInputWithdrawn, p.ID, p.Group, p.ReferenceDate)
	return p, nil
}

// Deletion reports how DeleteProduct disposed of a product.
type Deletion struct {
	Product models.Product `json:"product"`
	// Ignored is true when the row was kept as IGNORE because a consumer
	// product still references it.
	Ignored bool `json:"ignored"`
	// ArtifactRemoved is true when a READY product's artifact is deleted
	// once the row change commits.
	ArtifactRemoved bool `json:"artifact_removed"`
}

// DeleteProduct removes a product following the deletion rules:
// in-flight products and in-flight consumers block with fault.ErrFileInUse;
// a READY product whose artifact is missing fails with fault.ErrFileNotFound;
// the row is kept as IGNORE while a consumer row references it and
// hard-deleted otherwise; a READY product's artifact is removed after commit.
func (tx *Tx) DeleteProduct(ctx context.Context, id uuid.UUID, arts Artifacts) (Deletion, error) {
	p, err := tx.q.LockProduct(ctx, id)
	if err != nil {
		return Deletion{}, fmt.Errorf("lock product %s: %w", id, err)
	}
	if p.State.InFlight() {
		return Deletion{Product: p}, fault.InUse("product %s is %s", p.Filename, p.State)
	}

	referenced := false
	for _, pl := range tx.l.catalog.Downstream(p.Group) {
		c, err := tx.q.GetProductByGroupDate(ctx, pl.Output, p.ReferenceDate)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return Deletion{Product: p}, fmt.Errorf("check consumer %s: %w", pl.Output, err)
		}
		if c.State.InFlight() {
			return Deletion{Product: p}, fault.InUse("consumer %s (%s) is %s", c.Filename, c.ID, c.State)
		}
		if c.State != models.ProductIgnore {
			referenced = true
		}
	}

	res := Deletion{Product: p}
	if p.State == models.ProductReady {
		ok, err := arts.Exists(ctx, p.Filename)
		if err != nil {
			return res, fmt.Errorf("stat artifact %s: %w", p.Filename, err)
		}
		if !ok {
			return res, fmt.Errorf("%w: artifact %s", fault.ErrFileNotFound, p.Filename)
		}
	}

	if referenced {
		if p.State != models.ProductIgnore {
			updated, err := tx.transitionLocked(ctx, p, models.ProductIgnore, ProductDetails{})
			if err != nil {
				return res, err
			}
			res.Product = updated
		}
		res.Ignored = true
	} else if err := tx.q.DeleteProduct(ctx, p.ID); err != nil {
		return res, fmt.Errorf("delete product %s: %w", p.ID, err)
	}
	if p.State == models.ProductReady {
		name := p.Filename
		tx.onCommit(func(ctx context.Context) {
			if err := arts.Remove(ctx, name); err != nil {
				tx.l.logger.Error("remove artifact",
					slog.String("filename", name),
					slog.String("error", err.Error()))
			}
		})
		res.ArtifactRemoved = true
	}
	tx.emit(eventInputWithdrawn, p.ID, p.Group, p.ReferenceDate)
	return res, nil
}

// Claim moves up to limit AVAILABLE products to SCHEDULED and assigns each
// a fresh job handle, so the handle is durable before the job is submitted.
func (tx *Tx) Claim(ctx context.Context, limit int) ([]models.Product, error) {
	claimed, err := tx.q.ClaimProducts(ctx, models.ProductAvailable, models.ProductScheduled, limit)
	if err != nil {
		return nil, fmt.Errorf("claim products: %w", err)
	}
	out := make([]models.Product, 0, len(claimed))
	for _, p := range claimed {
		jobID := uuid.NewString()
		updated, err := tx.q.UpdateProduct(ctx, store.UpdateProductParams{
			ID:    p.ID,
			State: models.ProductScheduled,
			JobID: &jobID,
		})
		if err != nil {
			return nil, fmt.Errorf("assign job to %s: %w", p.ID, err)
		}
		out = append(out, updated)
	}
	return out, nil
}
