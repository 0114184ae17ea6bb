// Package events carries ledger domain events from the committing
// transaction to the materialization engine. Events hold identifiers only;
// handlers re-read ledger state.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	SourceBecameLocal  Kind = "source_became_local"
	ProductBecameReady Kind = "product_became_ready"
	// InputWithdrawn is emitted when a product is deleted or ignored so that
	// consumers of (Group, ReferenceDate) are re-evaluated.
	InputWithdrawn Kind = "input_withdrawn"
)

type Event struct {
	ID            uuid.UUID `json:"id"`
	Kind          Kind      `json:"kind"`
	EntityID      uuid.UUID `json:"entity_id"`
	Group         string    `json:"group,omitempty"`
	ReferenceDate time.Time `json:"reference_date"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind, e.EntityID)
}

// Publisher delivers committed events.
type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
}

type Handler func(ctx context.Context, ev Event) error

// Bus delivers events synchronously to in-process subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{handlers: make(map[Kind][]Handler), logger: logger}
}

func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish runs every subscriber for each event in order. A failing handler
// does not stop delivery to the others; all failures are returned joined.
func (b *Bus) Publish(ctx context.Context, evs ...Event) error {
	var errs []error
	for _, ev := range evs {
		b.mu.RLock()
		hs := append([]Handler(nil), b.handlers[ev.Kind]...)
		b.mu.RUnlock()
		for _, h := range hs {
			if err := h(ctx, ev); err != nil {
				b.logger.Error("event handler failed",
					slog.String("kind", string(ev.Kind)),
					slog.String("entity_id", ev.EntityID.String()),
					slog.String("error", err.Error()))
				errs = append(errs, fmt.Errorf("%s: %w", ev, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evs ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Fanout publishes to several publishers in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evs ...Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, evs...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
