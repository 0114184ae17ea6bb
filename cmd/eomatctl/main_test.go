package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/eomat/pkg/apierr"
	"github.com/maraichr/eomat/pkg/models"
)

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--api", srv.URL}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestSourcesList(t *testing.T) {
	id := uuid.New()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sources" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{"sources": []models.Source{{
			ID:            id,
			Filename:      "rain_20210105.tif",
			Groups:        []string{"rain"},
			ReferenceDate: time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC),
			State:         models.SourceAvailableLocally,
		}}})
	}))
	defer srv.Close()

	out, err := run(t, srv, "sources", "list", "--group", "rain", "--limit", "5")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotQuery, "group=rain") || !strings.Contains(gotQuery, "limit=5") {
		t.Errorf("query = %q", gotQuery)
	}
	for _, want := range []string{"FILENAME", id.String(), "2021-01-05", "AVAILABLE_LOCALLY"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSourcesRegisterBody(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.Source{ID: uuid.New(), Filename: "a.tif", State: models.SourceScheduledForDownload})
	}))
	defer srv.Close()

	if _, err := run(t, srv, "sources", "register", "a.tif", "--group", "rain", "--url", "https://x/a.tif", "--date", "2021-01-05", "--download"); err != nil {
		t.Fatal(err)
	}
	if body["filename"] != "a.tif" || body["reference_date"] != "2021-01-05" || body["download"] != true {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["size_reported"]; ok {
		t.Error("size_reported sent without --size")
	}
}

func TestAPIErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(apierr.FileInUse(errors.New("product daily_20210105.tif is GENERATING")).Response())
	}))
	defer srv.Close()

	_, err := run(t, srv, "products", "delete", uuid.NewString())
	var ae *apiError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *apiError", err)
	}
	if ae.Status != http.StatusConflict || ae.Body.Code != apierr.CodeFileInUse {
		t.Errorf("apiError = %+v", ae)
	}
	if !strings.Contains(err.Error(), "GENERATING") {
		t.Errorf("error %q lacks detail", err)
	}
}

func TestSweepAndFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/sweep":
			if r.URL.Query().Get("limit") != "7" {
				t.Errorf("limit = %s", r.URL.Query().Get("limit"))
			}
			w.Write([]byte(`{"claimed":3,"dispatched":2,"rolled_back":1}`))
		case strings.HasSuffix(r.URL.Path, "/artifact"):
			w.Write([]byte("GTIFF"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := run(t, srv, "sweep", "--limit", "7")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "claimed 3, dispatched 2, rolled back 1") {
		t.Errorf("sweep output = %q", out)
	}

	out, err = run(t, srv, "products", "fetch", uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}
	if out != "GTIFF" {
		t.Errorf("fetch output = %q, want GTIFF", out)
	}
}

func TestReconcileRequiresRange(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := run(t, srv, "reconcile", "--from", "2021-01-01"); err == nil {
		t.Error("reconcile without --to succeeded")
	}
}
