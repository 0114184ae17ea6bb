// Package memory is an in-process store.Store. Transactions serialize on a
// single mutex and roll back by restoring a snapshot, which gives the same
// isolation the ledger relies on from Postgres row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/models"
)

type state struct {
	sources   map[uuid.UUID]models.Source
	products  map[uuid.UUID]models.Product
	groups    map[string]store.GroupRow
	pipelines map[string]store.PipelineRow
}

func (s *state) clone() *state {
	c := &state{
		sources:   make(map[uuid.UUID]models.Source, len(s.sources)),
		products:  make(map[uuid.UUID]models.Product, len(s.products)),
		groups:    make(map[string]store.GroupRow, len(s.groups)),
		pipelines: make(map[string]store.PipelineRow, len(s.pipelines)),
	}
	for k, v := range s.sources {
		v.Groups = append([]string(nil), v.Groups...)
		c.sources[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.groups {
		c.groups[k] = v
	}
	for k, v := range s.pipelines {
		c.pipelines[k] = v
	}
	return c
}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func New() *Store {
	return &Store{
		st: &state{
			sources:   make(map[uuid.UUID]models.Source),
			products:  make(map[uuid.UUID]models.Product),
			groups:    make(map[string]store.GroupRow),
			pipelines: make(map[string]store.PipelineRow),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (m *Store) Ping(context.Context) error { return nil }

func (m *Store) WithTx(ctx context.Context, fn func(store.Querier) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.st.clone()
	if err := fn(&tx{st: m.st, now: m.now}); err != nil {
		m.st = snapshot
		return err
	}
	return ctx.Err()
}

// run executes a single statement outside an explicit transaction.
func (m *Store) run(fn func(*tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&tx{st: m.st, now: m.now})
}

func (m *Store) CreateSource(ctx context.Context, arg store.CreateSourceParams) (src models.Source, created bool, err error) {
	err = m.run(func(t *tx) error { src, created, err = t.CreateSource(ctx, arg); return err })
	return
}

func (m *Store) GetSource(ctx context.Context, id uuid.UUID) (src models.Source, err error) {
	err = m.run(func(t *tx) error { src, err = t.GetSource(ctx, id); return err })
	return
}

func (m *Store) GetSourceByFilename(ctx context.Context, filename string) (src models.Source, err error) {
	err = m.run(func(t *tx) error { src, err = t.GetSourceByFilename(ctx, filename); return err })
	return
}

func (m *Store) LockSource(ctx context.Context, id uuid.UUID) (models.Source, error) {
	return m.GetSource(ctx, id)
}

func (m *Store) ListSources(ctx context.Context, f store.SourceFilter) (out []models.Source, err error) {
	err = m.run(func(t *tx) error { out, err = t.ListSources(ctx, f); return err })
	return
}

func (m *Store) UpdateSource(ctx context.Context, arg store.UpdateSourceParams) (src models.Source, err error) {
	err = m.run(func(t *tx) error { src, err = t.UpdateSource(ctx, arg); return err })
	return
}

func (m *Store) DeleteSource(ctx context.Context, id uuid.UUID) error {
	return m.run(func(t *tx) error { return t.DeleteSource(ctx, id) })
}

func (m *Store) CountSources(ctx context.Context, group string, date time.Time, st models.SourceState) (n int, err error) {
	err = m.run(func(t *tx) error { n, err = t.CountSources(ctx, group, date, st); return err })
	return
}

func (m *Store) CreateProduct(ctx context.Context, arg store.CreateProductParams) (p models.Product, created bool, err error) {
	err = m.run(func(t *tx) error { p, created, err = t.CreateProduct(ctx, arg); return err })
	return
}

func (m *Store) GetProduct(ctx context.Context, id uuid.UUID) (p models.Product, err error) {
	err = m.run(func(t *tx) error { p, err = t.GetProduct(ctx, id); return err })
	return
}

func (m *Store) LockProduct(ctx context.Context, id uuid.UUID) (models.Product, error) {
	return m.GetProduct(ctx, id)
}

func (m *Store) GetProductByGroupDate(ctx context.Context, group string, date time.Time) (p models.Product, err error) {
	err = m.run(func(t *tx) error { p, err = t.GetProductByGroupDate(ctx, group, date); return err })
	return
}

func (m *Store) ListProducts(ctx context.Context, f store.ProductFilter) (out []models.Product, err error) {
	err = m.run(func(t *tx) error { out, err = t.ListProducts(ctx, f); return err })
	return
}

func (m *Store) UpdateProduct(ctx context.Context, arg store.UpdateProductParams) (p models.Product, err error) {
	err = m.run(func(t *tx) error { p, err = t.UpdateProduct(ctx, arg); return err })
	return
}

func (m *Store) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return m.run(func(t *tx) error { return t.DeleteProduct(ctx, id) })
}

func (m *Store) CountProducts(ctx context.Context, group string, date time.Time, st models.ProductState) (n int, err error) {
	err = m.run(func(t *tx) error { n, err = t.CountProducts(ctx, group, date, st); return err })
	return
}

func (m *Store) ClaimProducts(ctx context.Context, from, to models.ProductState, limit int) (out []models.Product, err error) {
	err = m.run(func(t *tx) error { out, err = t.ClaimProducts(ctx, from, to, limit); return err })
	return
}

func (m *Store) UpsertGroup(ctx context.Context, arg store.GroupRow) error {
	return m.run(func(t *tx) error { return t.UpsertGroup(ctx, arg) })
}

func (m *Store) UpsertPipeline(ctx context.Context, arg store.PipelineRow) error {
	return m.run(func(t *tx) error { return t.UpsertPipeline(ctx, arg) })
}

// Pipelines returns synced pipeline rows sorted by name.
func (m *Store) Pipelines() []store.PipelineRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.PipelineRow, 0, len(m.st.pipelines))
	for _, p := range m.st.pipelines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
