package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/eomat/internal/catalog"
	"github.com/maraichr/eomat/internal/completeness"
	"github.com/maraichr/eomat/internal/dispatch"
	"github.com/maraichr/eomat/internal/events"
	"github.com/maraichr/eomat/internal/ledger"
	"github.com/maraichr/eomat/internal/processing"
	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/internal/store/memory"
	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

const engineCatalog = `
groups:
  - name: tiles
    kind: SOURCE
  - name: rain
    kind: SOURCE
  - name: mosaic
    kind: PRODUCT
  - name: summer
    kind: PRODUCT
  - name: daily
    kind: PRODUCT
pipelines:
  - name: mosaic
    inputs: [tiles]
    output: mosaic
    function: bundle
    template: 'mosaic_{YYYYMMDD}.zip'
  - name: summer
    inputs: [mosaic]
    output: summer
    function: passthrough
    template: 'summer_{YYYYDOY}.tif'
    window:
      from: "06-01"
      to: "08-31"
  - name: daily
    inputs: [rain]
    output: daily
    function: manifest
    template: 'daily_{YYYYMMDD}.json'
    regenerate_on_update: true
expected_counts:
  tiles: 7
`

var (
	jan1  = time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)
	july1 = time.Date(2021, time.July, 1, 0, 0, 0, 0, time.UTC)
)

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   *memory.Store
	ledger  *ledger.Ledger
	engine  *Engine
	queue   *dispatch.MemoryQueue
	runner  *dispatch.Runner
	process func(ctx context.Context, job dispatch.Job) error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, func(st *memory.Store) store.Store { return st })
}

// newHarnessOn builds a harness whose ledger writes through wrap(memory store).
func newHarnessOn(t *testing.T, wrap func(*memory.Store) store.Store) *harness {
	t.Helper()
	cat, err := catalog.Parse([]byte(engineCatalog), processing.Builtin())
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	bus := events.NewBus(logger)
	l := ledger.New(wrap(st), cat, bus, logger)
	if err := l.SyncCatalog(context.Background()); err != nil {
		t.Fatalf("sync catalog: %v", err)
	}
	q := dispatch.NewMemoryQueue()
	e := New(l, completeness.New(cat), q, logger)
	e.Subscribe(bus)

	h := &harness{t: t, ctx: context.Background(), store: st, ledger: l, engine: e, queue: q}
	h.runner = dispatch.NewRunner(logger)
	h.runner.Register(dispatch.KindProcess, e.Lifecycle(), func(ctx context.Context, job dispatch.Job) error {
		if h.process != nil {
			return h.process(ctx, job)
		}
		return nil
	})
	return h
}

// localSource registers a source and walks it to AVAILABLE_LOCALLY.
func (h *harness) localSource(filename, group string, date time.Time) models.Source {
	h.t.Helper()
	var src models.Source
	err := h.ledger.Update(h.ctx, func(tx *ledger.Tx) error {
		var err error
		src, _, err = tx.RegisterSource(h.ctx, ledger.RegisterSourceParams{
			Filename: filename, Groups: []string{group}, ReferenceDate: date,
			URL: "https://example.org/" + filename,
		})
		return err
	})
	if err != nil {
		h.t.Fatalf("register %s: %v", filename, err)
	}
	h.moveSource(src.ID, models.SourceScheduledForDownload, models.SourceDownloading, models.SourceAvailableLocally)
	return src
}

func (h *harness) moveSource(id uuid.UUID, states ...models.SourceState) {
	h.t.Helper()
	for _, s := range states {
		err := h.ledger.Update(h.ctx, func(tx *ledger.Tx) error {
			_, err := tx.TransitionSource(h.ctx, id, s, ledger.SourceDetails{})
			return err
		})
		if err != nil {
			h.t.Fatalf("transition source to %s: %v", s, err)
		}
	}
}

func (h *harness) productAt(group string, date time.Time) (models.Product, bool) {
	h.t.Helper()
	p, err := h.store.GetProductByGroupDate(h.ctx, group, date)
	if errors.Is(err, store.ErrNotFound) {
		return models.Product{}, false
	}
	if err != nil {
		h.t.Fatalf("get product %s: %v", group, err)
	}
	return p, true
}

func (h *harness) mustProduct(group string, date time.Time) models.Product {
	h.t.Helper()
	p, ok := h.productAt(group, date)
	if !ok {
		h.t.Fatalf("no %s product for %s", group, models.FormatDate(date))
	}
	return p
}

func (h *harness) countProducts(group string) int {
	h.t.Helper()
	ps, err := h.store.ListProducts(h.ctx, store.ProductFilter{Group: group})
	if err != nil {
		h.t.Fatal(err)
	}
	return len(ps)
}

// runJobs drains the memory queue through the runner.
func (h *harness) runJobs() {
	h.t.Helper()
	for {
		job, ok := h.queue.Next()
		if !ok {
			return
		}
		if err := h.runner.Run(h.ctx, job); err != nil {
			h.t.Fatalf("run job %s: %v", job.ID, err)
		}
	}
}

// generate sweeps and runs jobs until no product is AVAILABLE.
func (h *harness) generate() {
	h.t.Helper()
	for i := 0; i < 10; i++ {
		res, err := h.engine.Sweep(h.ctx, 100)
		if err != nil {
			h.t.Fatalf("sweep: %v", err)
		}
		if res.Claimed == 0 {
			return
		}
		h.runJobs()
	}
}

func TestScenarioA_SingleInputCreatesAvailableProduct(t *testing.T) {
	h := newHarness(t)
	h.localSource("rain_20210101.tif", "rain", jan1)

	if n := h.countProducts("daily"); n != 1 {
		t.Fatalf("daily products = %d, want 1", n)
	}
	p := h.mustProduct("daily", jan1)
	if p.State != models.ProductAvailable {
		t.Errorf("state = %s, want AVAILABLE", p.State)
	}
	if p.Filename != "daily_20210101.json" {
		t.Errorf("filename = %q, want daily_20210101.json", p.Filename)
	}
}

func TestMaterialization_Idempotent(t *testing.T) {
	h := newHarness(t)
	src := h.localSource("rain_20210101.tif", "rain", jan1)
	first := h.mustProduct("daily", jan1)

	for i := 0; i < 3; i++ {
		if err := h.engine.OnSourceBecameLocal(h.ctx, src.ID); err != nil {
			t.Fatalf("OnSourceBecameLocal: %v", err)
		}
	}
	if n := h.countProducts("daily"); n != 1 {
		t.Errorf("daily products = %d, want 1", n)
	}
	again := h.mustProduct("daily", jan1)
	if again.ID != first.ID || again.State != models.ProductAvailable {
		t.Errorf("product = %s/%s, want %s/AVAILABLE", again.ID, again.State, first.ID)
	}
}

func TestScenarioB_BatchCompleteness(t *testing.T) {
	h := newHarness(t)
	var names []string
	for i := 0; i < 8; i++ {
		names = append(names, "tile_20210101_"+string(rune('a'+i))+".hdf")
	}

	for _, n := range names[:6] {
		h.localSource(n, "tiles", jan1)
	}
	if p := h.mustProduct("mosaic", jan1); p.State != models.ProductMissingSource {
		t.Fatalf("after 6 of 7: state = %s, want MISSING_SOURCE", p.State)
	}

	h.localSource(names[6], "tiles", jan1)
	if p := h.mustProduct("mosaic", jan1); p.State != models.ProductAvailable {
		t.Fatalf("after 7 of 7: state = %s, want AVAILABLE", p.State)
	}

	h.localSource(names[7], "tiles", jan1)
	if p := h.mustProduct("mosaic", jan1); p.State != models.ProductAvailable {
		t.Errorf("after an 8th tile: state = %s, want AVAILABLE", p.State)
	}
	if n := h.countProducts("mosaic"); n != 1 {
		t.Errorf("mosaic products = %d, want 1", n)
	}
}

func TestCompleteness_RegressesOnWithdrawal(t *testing.T) {
	h := newHarness(t)
	var last models.Source
	for i := 0; i < 7; i++ {
		last = h.localSource("tile_20210101_"+string(rune('a'+i))+".hdf", "tiles", jan1)
	}
	if p := h.mustProduct("mosaic", jan1); p.State != models.ProductAvailable {
		t.Fatalf("state = %s, want AVAILABLE", p.State)
	}

	err := h.ledger.Update(h.ctx, func(tx *ledger.Tx) error {
		_, err := tx.PurgeSource(h.ctx, last.ID)
		return err
	})
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if p := h.mustProduct("mosaic", jan1); p.State != models.ProductMissingSource {
		t.Errorf("after withdrawal: state = %s, want MISSING_SOURCE", p.State)
	}
}

func sevenTiles(h *harness, date time.Time) {
	h.t.Helper()
	for i := 0; i < 7; i++ {
		h.localSource("tile_"+models.FormatDate(date)+"_"+string(rune('a'+i))+".hdf", "tiles", date)
	}
}

func TestScenarioC_SuccessCascadesToConsumers(t *testing.T) {
	h := newHarness(t)
	sevenTiles(h, july1)

	res, err := h.engine.Sweep(h.ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Claimed != 1 || res.Dispatched != 1 {
		t.Fatalf("sweep = %+v, want 1 claimed and dispatched", res)
	}
	mosaic := h.mustProduct("mosaic", july1)
	if mosaic.State != models.ProductScheduled || mosaic.JobID == nil {
		t.Fatalf("mosaic = %s job=%v, want SCHEDULED with job", mosaic.State, mosaic.JobID)
	}

	h.runJobs()

	if got := h.mustProduct("mosaic", july1).State; got != models.ProductReady {
		t.Fatalf("mosaic state = %s, want READY", got)
	}
	summer, ok := h.productAt("summer", july1)
	if !ok {
		t.Fatal("consumer product was not created")
	}
	if summer.State != models.ProductAvailable {
		t.Errorf("summer state = %s, want AVAILABLE", summer.State)
	}
	if summer.Filename != "summer_2021182.tif" {
		t.Errorf("summer filename = %q", summer.Filename)
	}
}

func TestGatingWindow_SuppressesOutOfSeasonDates(t *testing.T) {
	h := newHarness(t)
	sevenTiles(h, jan1)
	h.generate()

	if got := h.mustProduct("mosaic", jan1).State; got != models.ProductReady {
		t.Fatalf("mosaic state = %s, want READY", got)
	}
	if _, ok := h.productAt("summer", jan1); ok {
		t.Error("summer product created outside its window")
	}
}

func TestProcessingFailure_RetainsErrorAndRetries(t *testing.T) {
	h := newHarness(t)
	h.localSource("rain_20210101.tif", "rain", jan1)
	h.process = func(context.Context, dispatch.Job) error { return errors.New("gdal exploded") }

	h.generate()
	p := h.mustProduct("daily", jan1)
	if p.State != models.ProductFailed {
		t.Fatalf("state = %s, want FAILED", p.State)
	}
	if p.ErrorMessage == nil || *p.ErrorMessage != "gdal exploded" {
		t.Errorf("error message = %v, want gdal exploded", p.ErrorMessage)
	}

	if _, err := h.engine.Sweep(h.ctx, 10); err != nil {
		t.Fatal(err)
	}
	if h.queue.Len() != 0 {
		t.Error("failed product was swept without a retry")
	}

	h.process = nil
	retried, err := h.engine.Retry(h.ctx, p.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.State != models.ProductAvailable {
		t.Errorf("after retry: state = %s, want AVAILABLE", retried.State)
	}
	h.generate()
	if got := h.mustProduct("daily", jan1).State; got != models.ProductReady {
		t.Errorf("after regeneration: state = %s, want READY", got)
	}
}

func TestRetry_RejectsNonFailedProducts(t *testing.T) {
	h := newHarness(t)
	h.localSource("rain_20210101.tif", "rain", jan1)
	p := h.mustProduct("daily", jan1)
	if _, err := h.engine.Retry(h.ctx, p.ID); !errors.Is(err, fault.ErrInvalidTransition) {
		t.Errorf("Retry(AVAILABLE) err = %v, want ErrInvalidTransition", err)
	}
}

func TestSweep_ConcurrentSweepsDispatchOnce(t *testing.T) {
	h := newHarness(t)
	h.localSource("rain_20210101.tif", "rain", jan1)

	var wg sync.WaitGroup
	results := make([]SweepResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.engine.Sweep(h.ctx, 10)
			if err != nil {
				t.Errorf("sweep %d: %v", i, err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	dispatched := 0
	for _, r := range results {
		dispatched += r.Dispatched
	}
	if dispatched != 1 {
		t.Errorf("dispatched = %d, want 1", dispatched)
	}
	if n := h.queue.Submits(); n != 1 {
		t.Errorf("submitted jobs = %d, want 1", n)
	}
	if got := h.mustProduct("daily", jan1).State; got != models.ProductScheduled {
		t.Errorf("state = %s, want SCHEDULED", got)
	}
}

func TestSweep_SubmitFailureReleasesClaim(t *testing.T) {
	h := newHarness(t)
	h.localSource("rain_20210101.tif", "rain", jan1)
	h.queue.FailSubmit = errors.New("valkey down")

	res, err := h.engine.Sweep(h.ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.RolledBack != 1 || res.Dispatched != 0 {
		t.Errorf("sweep = %+v, want one rollback", res)
	}
	p := h.mustProduct("daily", jan1)
	if p.State != models.ProductAvailable || p.JobID != nil {
		t.Errorf("product = %s job=%v, want AVAILABLE without job", p.State, p.JobID)
	}
}

func TestLifecycle_StaleJobIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.localSource("rain_20210101.tif", "rain", jan1)
	if _, err := h.engine.Sweep(h.ctx, 10); err != nil {
		t.Fatal(err)
	}
	p := h.mustProduct("daily", jan1)
	err := h.ledger.Update(h.ctx, func(tx *ledger.Tx) error {
		_, err := tx.IgnoreProduct(h.ctx, p.ID)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	called := false
	h.process = func(context.Context, dispatch.Job) error { called = true; return nil }
	h.runJobs()

	if called {
		t.Error("processing ran for a stale job")
	}
	if got := h.mustProduct("daily", jan1).State; got != models.ProductIgnore {
		t.Errorf("state = %s, want IGNORE", got)
	}
}

func TestScenarioE_DeleteDuringGenerationIsBlocked(t *testing.T) {
	h := newHarness(t)
	h.localSource("rain_20210101.tif", "rain", jan1)

	var deleteErr error
	h.process = func(ctx context.Context, job dispatch.Job) error {
		deleteErr = h.ledger.Update(ctx, func(tx *ledger.Tx) error {
			_, err := tx.DeleteProduct(ctx, job.TargetID, nil)
			return err
		})
		p, _ := h.ledger.GetProduct(ctx, job.TargetID)
		if p.State != models.ProductGenerating {
			t.Errorf("state during generation = %s, want GENERATING", p.State)
		}
		return nil
	}
	h.generate()

	if !errors.Is(deleteErr, fault.ErrFileInUse) {
		t.Errorf("delete err = %v, want ErrFileInUse", deleteErr)
	}
	if got := h.mustProduct("daily", jan1).State; got != models.ProductReady {
		t.Errorf("final state = %s, want READY", got)
	}
}

func TestRedownload_RegeneratesOnlyWhenPipelineOptsIn(t *testing.T) {
	h := newHarness(t)
	rain := h.localSource("rain_20210701.tif", "rain", july1)
	sevenTiles(h, july1)
	h.generate()

	if got := h.mustProduct("daily", july1).State; got != models.ProductReady {
		t.Fatalf("daily = %s, want READY", got)
	}
	if got := h.mustProduct("mosaic", july1).State; got != models.ProductReady {
		t.Fatalf("mosaic = %s, want READY", got)
	}

	h.moveSource(rain.ID, models.SourceScheduledForDownload, models.SourceDownloading, models.SourceAvailableLocally)
	if got := h.mustProduct("daily", july1).State; got != models.ProductAvailable {
		t.Errorf("daily after re-download = %s, want AVAILABLE", got)
	}

	tiles, _ := h.store.ListSources(h.ctx, store.SourceFilter{Group: "tiles"})
	h.moveSource(tiles[0].ID, models.SourceScheduledForDownload, models.SourceDownloading, models.SourceAvailableLocally)
	if got := h.mustProduct("mosaic", july1).State; got != models.ProductReady {
		t.Errorf("mosaic after re-download = %s, want READY", got)
	}
}

func TestReconcile_RecoversLostEvents(t *testing.T) {
	h := newHarness(t)
	var src models.Source
	err := h.ledger.Update(h.ctx, func(tx *ledger.Tx) error {
		var err error
		src, _, err = tx.RegisterSource(h.ctx, ledger.RegisterSourceParams{
			Filename: "rain_20210101.tif", Groups: []string{"rain"}, ReferenceDate: jan1,
		})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	// Write the state directly so no event is published.
	path := "/data/rain_20210101.tif"
	if _, err := h.store.UpdateSource(h.ctx, store.UpdateSourceParams{
		ID: src.ID, State: models.SourceAvailableLocally, LocalPath: &path,
	}); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.productAt("daily", jan1); ok {
		t.Fatal("product exists before reconcile")
	}

	res, err := h.engine.Reconcile(h.ctx, jan1, jan1)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Sources != 1 {
		t.Errorf("reconciled sources = %d, want 1", res.Sources)
	}
	if got := h.mustProduct("daily", jan1).State; got != models.ProductAvailable {
		t.Errorf("state = %s, want AVAILABLE", got)
	}
}

func TestCompleteness_ReportsShortfalls(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.localSource("tile_2021-01-01_"+string(rune('a'+i))+".hdf", "tiles", jan1)
	}
	p := h.mustProduct("mosaic", jan1)
	got, err := h.engine.Completeness(h.ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Have != 3 || got[0].Want != 7 || got[0].Complete {
		t.Errorf("shortfalls = %+v, want tiles 3/7 incomplete", got)
	}
}

// racingStore lets another writer commit to a product between the
// get-or-create read and the row lock.
type racingStore struct {
	store.Store
	interleave func(ctx context.Context, q store.Querier, p models.Product) models.Product
}

func (s *racingStore) WithTx(ctx context.Context, fn func(store.Querier) error) error {
	return s.Store.WithTx(ctx, func(q store.Querier) error {
		return fn(&racingQuerier{Querier: q, s: s})
	})
}

type racingQuerier struct {
	store.Querier
	s *racingStore
}

func (q *racingQuerier) CreateProduct(ctx context.Context, arg store.CreateProductParams) (models.Product, bool, error) {
	p, created, err := q.Querier.CreateProduct(ctx, arg)
	if err != nil || q.s.interleave == nil {
		return p, created, err
	}
	return q.s.interleave(ctx, q.Querier, p), created, nil
}

func TestMaterialize_DecidesFromLockedRow(t *testing.T) {
	tests := []struct {
		name      string
		committed models.ProductState
		jobID     *string
	}{
		{"duplicate event after product became available", models.ProductAvailable, nil},
		{"product claimed by a sweep", models.ProductScheduled, ptr("job-1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := &racingStore{}
			h := newHarnessOn(t, func(st *memory.Store) store.Store {
				rs.Store = st
				return rs
			})
			src := h.localSource("rain_20210101.tif", "rain", jan1)
			prod := h.mustProduct("daily", jan1)

			rs.interleave = func(ctx context.Context, q store.Querier, p models.Product) models.Product {
				if _, err := q.UpdateProduct(ctx, store.UpdateProductParams{ID: p.ID, State: tt.committed, JobID: tt.jobID}); err != nil {
					t.Fatalf("concurrent update: %v", err)
				}
				p.State = models.ProductMissingSource
				p.JobID = nil
				return p
			}
			if err := h.engine.OnSourceBecameLocal(h.ctx, src.ID); err != nil {
				t.Fatalf("OnSourceBecameLocal: %v", err)
			}
			rs.interleave = nil

			got := h.mustProduct("daily", jan1)
			if got.ID != prod.ID {
				t.Fatalf("product replaced: %s, want %s", got.ID, prod.ID)
			}
			if got.State != tt.committed {
				t.Errorf("state = %s, want %s", got.State, tt.committed)
			}
			if (got.JobID == nil) != (tt.jobID == nil) || (got.JobID != nil && *got.JobID != *tt.jobID) {
				t.Errorf("job id = %v, want %v", got.JobID, tt.jobID)
			}
		})
	}
}

func ptr(s string) *string { return &s }
