package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(materializations.WithLabelValues("ndvi", "AVAILABLE"))
	Materialized("ndvi", "AVAILABLE")
	Materialized("ndvi", "AVAILABLE")
	if got := testutil.ToFloat64(materializations.WithLabelValues("ndvi", "AVAILABLE")) - before; got != 2 {
		t.Errorf("materializations delta = %v, want 2", got)
	}

	before = testutil.ToFloat64(sweepClaimed)
	SweepClaimed(5)
	SweepClaimed(0)
	if got := testutil.ToFloat64(sweepClaimed) - before; got != 5 {
		t.Errorf("sweep claimed delta = %v, want 5", got)
	}

	before = testutil.ToFloat64(discovered.WithLabelValues("chirps"))
	Discovered("chirps", 3)
	if got := testutil.ToFloat64(discovered.WithLabelValues("chirps")) - before; got != 3 {
		t.Errorf("discovered delta = %v, want 3", got)
	}

	before = testutil.ToFloat64(downloadBytes)
	DownloadCompleted(1024)
	if got := testutil.ToFloat64(downloadBytes) - before; got != 1024 {
		t.Errorf("download bytes delta = %v, want 1024", got)
	}
}

func TestCompletenessHistogram(t *testing.T) {
	ObserveCompleteness(3 * time.Millisecond)
	if n := testutil.CollectAndCount(completenessDuration); n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}
