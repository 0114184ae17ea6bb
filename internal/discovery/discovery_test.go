package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maraichr/eomat/internal/catalog"
	"github.com/maraichr/eomat/internal/events"
	"github.com/maraichr/eomat/internal/ledger"
	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/internal/store/memory"
	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

type fnSet map[string]bool

func (f fnSet) Has(name string) bool { return f[name] }

type staticCrawler []Listing

func (c staticCrawler) List(context.Context, string) ([]Listing, error) { return c, nil }

func newLedger(t *testing.T, location string) *ledger.Ledger {
	t.Helper()
	yml := fmt.Sprintf(`
groups:
  - name: chirps
    kind: SOURCE
    date_pattern: 'chirps-v2\.0\.(?P<year>\d{4})\.(?P<month>\d{2})\.(?P<day>\d{2})'
    discovery: http_index
    location: %q
  - name: rainfall
    kind: PRODUCT
pipelines:
  - name: rainfall
    inputs: [chirps]
    output: rainfall
    function: passthrough
    template: 'rainfall_{YYYYMMDD}.tif'
`, location)
	cat, err := catalog.Parse([]byte(yml), fnSet{"passthrough": true})
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	l := ledger.New(memory.New(), cat, &events.Recorder{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := l.SyncCatalog(context.Background()); err != nil {
		t.Fatal(err)
	}
	return l
}

const index = `<html><body><h1>Index of /chirps/</h1>
<a href="../">Parent</a>
<a href="?C=M;O=A">Sort</a>
<a href="2021/">2021/</a>
<a href="chirps-v2.0.2021.01.01.tif">chirps-v2.0.2021.01.01.tif</a>
<a href="chirps-v2.0.2021.01.02.tif">chirps-v2.0.2021.01.02.tif</a>
<a href="chirps-v2.0.2021.01.02.tif">duplicate</a>
<a href="README.txt">README.txt</a>
<a href="https://elsewhere.example.com/chirps-v2.0.2021.01.03.tif">mirror</a>
</body></html>`

func TestHTTPIndexCrawler_List(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, index)
	}))
	defer srv.Close()

	got, err := NewHTTPIndexCrawler(srv.Client()).List(context.Background(), srv.URL+"/chirps/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"chirps-v2.0.2021.01.01.tif", "chirps-v2.0.2021.01.02.tif", "README.txt"}
	if len(got) != len(want) {
		t.Fatalf("listings = %+v, want %v", got, want)
	}
	for i, w := range want {
		if got[i].Name != w {
			t.Errorf("listing[%d] = %q, want %q", i, got[i].Name, w)
		}
	}
	if got[0].URL != srv.URL+"/chirps/chirps-v2.0.2021.01.01.tif" {
		t.Errorf("url = %q", got[0].URL)
	}
}

func TestHTTPIndexCrawler_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := NewHTTPIndexCrawler(nil).List(context.Background(), srv.URL+"/x/"); err == nil {
		t.Error("expected error for 404 index")
	}
}

func TestDiscover_RegistersMatchingFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, index)
	}))
	defer srv.Close()
	l := newLedger(t, srv.URL+"/chirps/")
	d := New(l, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.Register("http_index", NewHTTPIndexCrawler(srv.Client()))

	res, err := d.Discover(context.Background(), "chirps")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if res.Listed != 3 || res.Registered != 2 || res.Unmatched != 1 {
		t.Errorf("result = %+v, want 3 listed, 2 registered, 1 unmatched", res)
	}

	again, err := d.Discover(context.Background(), "chirps")
	if err != nil {
		t.Fatal(err)
	}
	if again.Registered != 0 || again.Existing != 2 {
		t.Errorf("second run = %+v, want 2 existing", again)
	}

	srcs, err := l.QuerySources(context.Background(), store.SourceFilter{Group: "chirps"})
	if err != nil {
		t.Fatal(err)
	}
	if len(srcs) != 2 {
		t.Fatalf("sources = %d, want 2", len(srcs))
	}
	for _, s := range srcs {
		if s.State != models.SourceAvailableRemotely {
			t.Errorf("%s state = %s, want AVAILABLE_REMOTELY", s.Filename, s.State)
		}
		if s.Domain == "" {
			t.Errorf("%s has no domain", s.Filename)
		}
	}
}

func TestDiscover_Errors(t *testing.T) {
	l := newLedger(t, "http://example.org/chirps/")
	d := New(l, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := d.Discover(context.Background(), "chirps"); !errors.Is(err, fault.ErrMisconfiguration) {
		t.Errorf("no crawler: err = %v, want ErrMisconfiguration", err)
	}
	d.Register("http_index", staticCrawler{{Name: "chirps-v2.0.2021.02.30.tif"}})
	res, err := d.Discover(context.Background(), "chirps")
	if err != nil {
		t.Fatal(err)
	}
	if res.Unmatched != 1 {
		t.Errorf("invalid calendar date: unmatched = %d, want 1", res.Unmatched)
	}
	if _, err := d.Discover(context.Background(), "rainfall"); !errors.Is(err, fault.ErrUnknownGroup) {
		t.Errorf("product group: err = %v, want ErrUnknownGroup", err)
	}
	if _, err := d.Discover(context.Background(), "nope"); !errors.Is(err, fault.ErrUnknownGroup) {
		t.Errorf("unknown group: err = %v, want ErrUnknownGroup", err)
	}
}
