package metrics_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"flux/internal/fault"
	"flux/internal/metrics"
)

func TestRecorderCounts(t *testing.T) {
	rec := metrics.New("")
	rec.ObserveSave(nil, 4<<20, 150*time.Millisecond)
	rec.ObserveSave(fault.Wrap(fault.ErrPersistenceWriteFailed, "vault", "put", "", errors.New("disk full")), 0, 0)
	rec.ObserveTrim("precise", "fallback")
	rec.ObserveView()
	rec.ObserveView()

	expected := `
# HELP flux_saves_total Save attempts by outcome (succeeded, failed).
# TYPE flux_saves_total counter
flux_saves_total{outcome="failed"} 1
flux_saves_total{outcome="succeeded"} 1
# HELP flux_views_total Playback sessions started.
# TYPE flux_views_total counter
flux_views_total 2
# HELP flux_failures_total Pipeline failures by error kind.
# TYPE flux_failures_total counter
flux_failures_total{kind="persistence_write_failed"} 1
`
	if err := testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected),
		"flux_saves_total", "flux_views_total", "flux_failures_total"); err != nil {
		t.Fatal(err)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *metrics.Recorder
	rec.ObserveSave(nil, 1, time.Second)
	rec.ObserveTrim("heuristic", "applied")
	rec.ObserveView()
	rec.ObserveCompletion()
	if err := rec.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestFlushWritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector", "flux.prom")
	rec := metrics.New(path)
	rec.ObserveView()
	if err := rec.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), "flux_views_total 1") {
		t.Fatalf("textfile missing views counter:\n%s", data)
	}
}
