// Package ledger owns every state change of sources and products. Each
// change runs inside one store transaction; the domain events it produces
// are published only after that transaction commits.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/eomat/internal/catalog"
	"github.com/maraichr/eomat/internal/events"
	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/models"
)

// Artifacts is the slice of the artifact store product deletion needs.
type Artifacts interface {
	Exists(ctx context.Context, name string) (bool, error)
	Remove(ctx context.Context, name string) error
}

type Ledger struct {
	store     store.Store
	catalog   *catalog.Catalog
	publisher events.Publisher
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Ledger)

// WithClock replaces the wall clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(st store.Store, cat *catalog.Catalog, pub events.Publisher, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:     st,
		catalog:   cat,
		publisher: pub,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) Catalog() *catalog.Catalog { return l.catalog }

// Update runs fn in a single transaction. Events recorded through the Tx are
// published after commit and discarded on rollback, as are the Tx's
// post-commit hooks. A publish failure is logged but not returned because
// the state change is already durable; Engine.Reconcile replays lost events.
func (l *Ledger) Update(ctx context.Context, fn func(*Tx) error) error {
	var (
		pending []events.Event
		after   []func(context.Context)
	)
	err := l.store.WithTx(ctx, func(q store.Querier) error {
		tx := &Tx{q: q, l: l}
		if err := fn(tx); err != nil {
			return err
		}
		pending, after = tx.pending, tx.afterCommit
		return nil
	})
	if err != nil {
		return err
	}
	for _, hook := range after {
		hook(ctx)
	}
	if len(pending) == 0 || l.publisher == nil {
		return nil
	}
	if err := l.publisher.Publish(ctx, pending...); err != nil {
		l.logger.Error("publish ledger events",
			slog.Int("count", len(pending)),
			slog.String("error", err.Error()))
	}
	return nil
}

func (l *Ledger) GetSource(ctx context.Context, id uuid.UUID) (models.Source, error) {
	return l.store.GetSource(ctx, id)
}

func (l *Ledger) GetSourceByFilename(ctx context.Context, filename string) (models.Source, error) {
	return l.store.GetSourceByFilename(ctx, filename)
}

// QuerySources lists sources matching f. An unknown group in the filter is
// reported as fault.ErrUnknownGroup.
func (l *Ledger) QuerySources(ctx context.Context, f store.SourceFilter) ([]models.Source, error) {
	if f.Group != "" {
		if _, err := l.catalog.Resolve(f.Group); err != nil {
			return nil, err
		}
	}
	return l.store.ListSources(ctx, f)
}

func (l *Ledger) GetProduct(ctx context.Context, id uuid.UUID) (models.Product, error) {
	return l.store.GetProduct(ctx, id)
}

func (l *Ledger) QueryProducts(ctx context.Context, f store.ProductFilter) ([]models.Product, error) {
	if f.Group != "" {
		if _, err := l.catalog.Resolve(f.Group); err != nil {
			return nil, err
		}
	}
	return l.store.ListProducts(ctx, f)
}

// Tx is the transactional view handed to Update callbacks.
type Tx struct {
	q           store.Querier
	l           *Ledger
	pending     []events.Event
	afterCommit []func(context.Context)
}

// Querier exposes the underlying transaction for read-only counting.
func (tx *Tx) Querier() store.Querier { return tx.q }

func (tx *Tx) Catalog() *catalog.Catalog { return tx.l.catalog }

func (tx *Tx) emit(kind events.Kind, entity uuid.UUID, group string, date time.Time) {
	tx.pending = append(tx.pending, events.Event{
		ID:            uuid.New(),
		Kind:          kind,
		EntityID:      entity,
		Group:         group,
		ReferenceDate: models.DateOnly(date),
		OccurredAt:    tx.l.now(),
	})
}

// onCommit defers fn until the transaction has committed.
func (tx *Tx) onCommit(fn func(context.Context)) {
	tx.afterCommit = append(tx.afterCommit, fn)
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
