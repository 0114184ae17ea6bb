package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/eomat/internal/catalog"
	"github.com/maraichr/eomat/internal/events"
	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/internal/store/memory"
	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

const testCatalog = `
groups:
  - name: tiles
    kind: SOURCE
    date_pattern: 'T(?P<year>\d{4})(?P<month>\d{2})(?P<day>\d{2})'
  - name: mosaic
    kind: PRODUCT
  - name: summary
    kind: PRODUCT
pipelines:
  - name: mosaic
    inputs: [tiles]
    output: mosaic
    function: bundle
    template: 'mosaic_{YYYYMMDD}.zip'
  - name: summary
    inputs: [mosaic]
    output: summary
    function: manifest
    template: 'summary_{YYYYMMDD}.json'
`

type fnSet map[string]bool

func (f fnSet) Has(name string) bool { return f[name] }

var day = time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)

type fakeArtifacts map[string]bool

func (f fakeArtifacts) Exists(_ context.Context, name string) (bool, error) { return f[name], nil }
func (f fakeArtifacts) Remove(_ context.Context, name string) error {
	delete(f, name)
	return nil
}

func newTestLedger(t *testing.T) (*Ledger, *memory.Store, *events.Recorder) {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog), fnSet{"bundle": true, "manifest": true})
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	st := memory.New()
	rec := &events.Recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := New(st, cat, rec, logger)
	if err := l.SyncCatalog(context.Background()); err != nil {
		t.Fatalf("sync catalog: %v", err)
	}
	return l, st, rec
}

func register(t *testing.T, l *Ledger, filename string) models.Source {
	t.Helper()
	var src models.Source
	err := l.Update(context.Background(), func(tx *Tx) error {
		var err error
		src, _, err = tx.RegisterSource(context.Background(), RegisterSourceParams{
			Filename: filename,
			Groups:   []string{"tiles"},
			URL:      "https://example.org/" + filename,
		})
		return err
	})
	if err != nil {
		t.Fatalf("register %s: %v", filename, err)
	}
	return src
}

func moveSource(t *testing.T, l *Ledger, id uuid.UUID, states ...models.SourceState) {
	t.Helper()
	for _, s := range states {
		err := l.Update(context.Background(), func(tx *Tx) error {
			_, err := tx.TransitionSource(context.Background(), id, s, SourceDetails{})
			return err
		})
		if err != nil {
			t.Fatalf("transition source to %s: %v", s, err)
		}
	}
}

func product(t *testing.T, l *Ledger, group string, states ...models.ProductState) models.Product {
	t.Helper()
	ctx := context.Background()
	var p models.Product
	err := l.Update(ctx, func(tx *Tx) error {
		var err error
		p, _, err = tx.GetOrCreateProduct(ctx, group+"_20210101", group, day)
		return err
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	for _, s := range states {
		err := l.Update(ctx, func(tx *Tx) error {
			var err error
			p, err = tx.TransitionProduct(ctx, p.ID, s, ProductDetails{})
			return err
		})
		if err != nil {
			t.Fatalf("transition product to %s: %v", s, err)
		}
	}
	return p
}

func TestCanTransitionSource(t *testing.T) {
	tests := []struct {
		from, to models.SourceState
		want     bool
	}{
		{models.SourceAvailableRemotely, models.SourceScheduledForDownload, true},
		{models.SourceAvailableRemotely, models.SourceDownloading, false},
		{models.SourceScheduledForDownload, models.SourceDownloading, true},
		{models.SourceDownloading, models.SourceAvailableLocally, true},
		{models.SourceDownloading, models.SourceDeferred, true},
		{models.SourceDeferred, models.SourceDownloading, true},
		{models.SourceDeferred, models.SourceAvailableLocally, false},
		{models.SourceDownloadFailed, models.SourceScheduledForDownload, true},
		{models.SourceAvailableLocally, models.SourceAvailableLocally, true},
		{models.SourceAvailableLocally, models.SourceIgnore, false},
		{models.SourceIgnore, models.SourceScheduledForDownload, false},
	}
	for _, tt := range tests {
		if got := CanTransitionSource(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionSource(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanTransitionProduct(t *testing.T) {
	tests := []struct {
		from, to models.ProductState
		want     bool
	}{
		{models.ProductMissingSource, models.ProductAvailable, true},
		{models.ProductMissingSource, models.ProductScheduled, false},
		{models.ProductAvailable, models.ProductScheduled, true},
		{models.ProductScheduled, models.ProductGenerating, true},
		{models.ProductAvailable, models.ProductGenerating, false},
		{models.ProductGenerating, models.ProductReady, true},
		{models.ProductGenerating, models.ProductAvailable, false},
		{models.ProductFailed, models.ProductAvailable, true},
		{models.ProductReady, models.ProductIgnore, true},
		{models.ProductIgnore, models.ProductAvailable, false},
	}
	for _, tt := range tests {
		if got := CanTransitionProduct(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionProduct(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRegisterSource_IdempotentOnFilename(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	first := register(t, l, "T20210101_h01v01.hdf")
	if first.State != models.SourceAvailableRemotely {
		t.Errorf("state = %s, want AVAILABLE_REMOTELY", first.State)
	}
	if !first.ReferenceDate.Equal(day) {
		t.Errorf("reference date = %v, want %v", first.ReferenceDate, day)
	}
	if first.Domain != "example.org" {
		t.Errorf("domain = %q, want example.org", first.Domain)
	}

	var created bool
	var again models.Source
	err := l.Update(ctx, func(tx *Tx) error {
		var err error
		again, created, err = tx.RegisterSource(ctx, RegisterSourceParams{Filename: "T20210101_h01v01.hdf", Groups: []string{"tiles"}})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if created || again.ID != first.ID {
		t.Errorf("second register created=%v id=%s, want existing %s", created, again.ID, first.ID)
	}
}

func TestRegisterSource_RejectsNonSourceGroups(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	for _, group := range []string{"nope", "mosaic"} {
		err := l.Update(ctx, func(tx *Tx) error {
			_, _, err := tx.RegisterSource(ctx, RegisterSourceParams{
				Filename: "T20210101.hdf", Groups: []string{group}, ReferenceDate: day,
			})
			return err
		})
		if !errors.Is(err, fault.ErrUnknownGroup) {
			t.Errorf("register into %q: err = %v, want ErrUnknownGroup", group, err)
		}
	}
}

func TestRegisterSource_RejectsPathFilenames(t *testing.T) {
	l, st, _ := newTestLedger(t)
	ctx := context.Background()
	for _, name := range []string{"../../T20210101.hdf", "sub/T20210101.hdf", `..\T20210101.hdf`, "..", "."} {
		err := l.Update(ctx, func(tx *Tx) error {
			_, _, err := tx.RegisterSource(ctx, RegisterSourceParams{
				Filename: name, Groups: []string{"tiles"}, ReferenceDate: day,
			})
			return err
		})
		if !errors.Is(err, fault.ErrInvalidFilename) {
			t.Errorf("register %q: err = %v, want ErrInvalidFilename", name, err)
		}
	}
	srcs, err := st.ListSources(ctx, store.SourceFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(srcs) != 0 {
		t.Errorf("sources = %d, want 0", len(srcs))
	}
}

func TestTransitionSource_EmitsAfterCommitOnly(t *testing.T) {
	l, _, rec := newTestLedger(t)
	ctx := context.Background()
	src := register(t, l, "T20210101_a.hdf")

	moveSource(t, l, src.ID, models.SourceScheduledForDownload, models.SourceDownloading)

	boom := errors.New("boom")
	err := l.Update(ctx, func(tx *Tx) error {
		if _, err := tx.TransitionSource(ctx, src.ID, models.SourceAvailableLocally, SourceDetails{}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if n := len(rec.Events()); n != 0 {
		t.Errorf("events after rollback = %d, want 0", n)
	}
	got, _ := l.GetSource(ctx, src.ID)
	if got.State != models.SourceDownloading {
		t.Errorf("state after rollback = %s, want DOWNLOADING", got.State)
	}

	moveSource(t, l, src.ID, models.SourceAvailableLocally, models.SourceAvailableLocally)
	evs := rec.Events()
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2 (entry and re-entry)", len(evs))
	}
	for _, ev := range evs {
		if ev.Kind != events.SourceBecameLocal || ev.EntityID != src.ID {
			t.Errorf("event = %+v, want SourceBecameLocal for %s", ev, src.ID)
		}
	}
}

func TestTransitionSource_RejectsInvalidEdge(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	src := register(t, l, "T20210101_b.hdf")
	moveSource(t, l, src.ID, models.SourceIgnore)

	err := l.Update(ctx, func(tx *Tx) error {
		_, err := tx.TransitionSource(ctx, src.ID, models.SourceScheduledForDownload, SourceDetails{})
		return err
	})
	if !errors.Is(err, fault.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestGetOrCreateProduct_SameRowForSameGroupDate(t *testing.T) {
	l, st, _ := newTestLedger(t)
	ctx := context.Background()

	var a, b models.Product
	var createdA, createdB bool
	err := l.Update(ctx, func(tx *Tx) error {
		var err error
		if a, createdA, err = tx.GetOrCreateProduct(ctx, "mosaic_20210101.zip", "mosaic", day); err != nil {
			return err
		}
		b, createdB, err = tx.GetOrCreateProduct(ctx, "mosaic_20210101.zip", "mosaic", day.Add(13*time.Hour))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if !createdA || createdB {
		t.Errorf("created = %v, %v; want true, false", createdA, createdB)
	}
	if a.ID != b.ID {
		t.Errorf("ids differ: %s vs %s", a.ID, b.ID)
	}
	all, _ := st.ListProducts(ctx, store.ProductFilter{})
	if len(all) != 1 {
		t.Errorf("products = %d, want 1", len(all))
	}
	if a.State != models.ProductMissingSource {
		t.Errorf("initial state = %s, want MISSING_SOURCE", a.State)
	}
}

func TestTransitionProduct_ReadyEmitsEvent(t *testing.T) {
	l, _, rec := newTestLedger(t)
	p := product(t, l, "mosaic",
		models.ProductAvailable, models.ProductScheduled, models.ProductGenerating, models.ProductReady)

	evs := rec.Events()
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	if evs[0].Kind != events.ProductBecameReady || evs[0].EntityID != p.ID || evs[0].Group != "mosaic" {
		t.Errorf("event = %+v", evs[0])
	}
}

func TestDeleteProduct(t *testing.T) {
	ctx := context.Background()

	t.Run("in flight product is in use", func(t *testing.T) {
		l, _, rec := newTestLedger(t)
		p := product(t, l, "mosaic", models.ProductAvailable, models.ProductScheduled, models.ProductGenerating)
		err := l.Update(ctx, func(tx *Tx) error {
			_, err := tx.DeleteProduct(ctx, p.ID, fakeArtifacts{})
			return err
		})
		if !errors.Is(err, fault.ErrFileInUse) {
			t.Fatalf("err = %v, want ErrFileInUse", err)
		}
		got, _ := l.GetProduct(ctx, p.ID)
		if got.State != models.ProductGenerating {
			t.Errorf("state = %s, want GENERATING", got.State)
		}
		if n := len(rec.Events()); n != 0 {
			t.Errorf("events = %d, want 0", n)
		}
	})

	t.Run("in flight consumer blocks delete", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		p := product(t, l, "mosaic", models.ProductAvailable)
		product(t, l, "summary", models.ProductAvailable, models.ProductScheduled)
		err := l.Update(ctx, func(tx *Tx) error {
			_, err := tx.DeleteProduct(ctx, p.ID, fakeArtifacts{})
			return err
		})
		if !errors.Is(err, fault.ErrFileInUse) {
			t.Errorf("err = %v, want ErrFileInUse", err)
		}
	})

	t.Run("ready without artifact is not found", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		p := product(t, l, "mosaic", models.ProductAvailable, models.ProductScheduled, models.ProductGenerating, models.ProductReady)
		err := l.Update(ctx, func(tx *Tx) error {
			_, err := tx.DeleteProduct(ctx, p.ID, fakeArtifacts{})
			return err
		})
		if !errors.Is(err, fault.ErrFileNotFound) {
			t.Errorf("err = %v, want ErrFileNotFound", err)
		}
	})

	t.Run("referenced product is ignored", func(t *testing.T) {
		l, _, rec := newTestLedger(t)
		p := product(t, l, "mosaic", models.ProductAvailable, models.ProductScheduled, models.ProductGenerating, models.ProductReady)
		product(t, l, "summary")
		arts := fakeArtifacts{p.Filename: true}
		var res Deletion
		err := l.Update(ctx, func(tx *Tx) error {
			var err error
			res, err = tx.DeleteProduct(ctx, p.ID, arts)
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
		if !res.Ignored || !res.ArtifactRemoved {
			t.Errorf("deletion = %+v, want ignored with artifact removed", res)
		}
		if arts[p.Filename] {
			t.Error("artifact still present")
		}
		got, err := l.GetProduct(ctx, p.ID)
		if err != nil || got.State != models.ProductIgnore {
			t.Errorf("product = %s, %v; want IGNORE", got.State, err)
		}
		evs := rec.Events()
		last := evs[len(evs)-1]
		if last.Kind != events.InputWithdrawn || last.Group != "mosaic" || !last.ReferenceDate.Equal(day) {
			t.Errorf("last event = %+v, want InputWithdrawn(mosaic, %v)", last, day)
		}
	})

	t.Run("artifact kept when the transaction rolls back", func(t *testing.T) {
		l, _, rec := newTestLedger(t)
		p := product(t, l, "mosaic", models.ProductAvailable, models.ProductScheduled, models.ProductGenerating, models.ProductReady)
		before := len(rec.Events())
		arts := fakeArtifacts{p.Filename: true}
		boom := errors.New("commit failed")
		err := l.Update(ctx, func(tx *Tx) error {
			if _, err := tx.DeleteProduct(ctx, p.ID, arts); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want %v", err, boom)
		}
		if !arts[p.Filename] {
			t.Error("artifact removed although the deletion rolled back")
		}
		got, err := l.GetProduct(ctx, p.ID)
		if err != nil || got.State != models.ProductReady {
			t.Errorf("product = %s, %v; want READY", got.State, err)
		}
		if n := len(rec.Events()); n != before {
			t.Errorf("events = %d, want %d", n, before)
		}
	})

	t.Run("unreferenced product is hard deleted", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		p := product(t, l, "mosaic", models.ProductAvailable)
		err := l.Update(ctx, func(tx *Tx) error {
			res, err := tx.DeleteProduct(ctx, p.ID, fakeArtifacts{})
			if err == nil && res.Ignored {
				t.Error("unreferenced product was ignored")
			}
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := l.GetProduct(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetProduct err = %v, want ErrNotFound", err)
		}
	})
}

func TestPurgeSource_BlockedByInFlightProduct(t *testing.T) {
	l, _, rec := newTestLedger(t)
	ctx := context.Background()
	src := register(t, l, "T20210101_c.hdf")
	moveSource(t, l, src.ID, models.SourceScheduledForDownload, models.SourceDownloading, models.SourceAvailableLocally)
	p := product(t, l, "mosaic", models.ProductAvailable, models.ProductScheduled)

	err := l.Update(ctx, func(tx *Tx) error {
		_, err := tx.PurgeSource(ctx, src.ID)
		return err
	})
	if !errors.Is(err, fault.ErrFileInUse) {
		t.Fatalf("err = %v, want ErrFileInUse", err)
	}

	err = l.Update(ctx, func(tx *Tx) error {
		_, err := tx.TransitionProduct(ctx, p.ID, models.ProductAvailable, ProductDetails{})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	before := len(rec.Events())
	err = l.Update(ctx, func(tx *Tx) error {
		_, err := tx.PurgeSource(ctx, src.ID)
		return err
	})
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	evs := rec.Events()[before:]
	if len(evs) != 1 || evs[0].Kind != events.InputWithdrawn || evs[0].Group != "tiles" {
		t.Errorf("events = %+v, want one InputWithdrawn(tiles)", evs)
	}
	if _, err := l.GetSource(ctx, src.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSource err = %v, want ErrNotFound", err)
	}
}

func TestClaim_AssignsJobHandles(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	product(t, l, "mosaic", models.ProductAvailable)

	var first, second []models.Product
	err := l.Update(ctx, func(tx *Tx) error {
		var err error
		first, err = tx.Claim(ctx, 10)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	err = l.Update(ctx, func(tx *Tx) error {
		var err error
		second, err = tx.Claim(ctx, 10)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("claims = %d, %d; want 1, 0", len(first), len(second))
	}
	if first[0].State != models.ProductScheduled || first[0].JobID == nil {
		t.Errorf("claimed = %+v, want SCHEDULED with job handle", first[0])
	}
}

func TestSyncCatalog(t *testing.T) {
	_, st, _ := newTestLedger(t)
	rows := st.Pipelines()
	if len(rows) != 2 {
		t.Fatalf("pipelines = %d, want 2", len(rows))
	}
	if rows[0].Name != "mosaic" || rows[0].Template != "mosaic_{YYYYMMDD}.zip" || !rows[0].Enabled {
		t.Errorf("row = %+v", rows[0])
	}
}
