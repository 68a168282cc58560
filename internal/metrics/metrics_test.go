package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tdu-cpslab/volp/internal/fault"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.CycleSucceeded()
	m.CycleSucceeded()
	if got := testutil.ToFloat64(m.cycles.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 successful cycles, got %f", got)
	}

	m.CycleFailed(fault.MissingObjectID)
	if got := testutil.ToFloat64(m.cycles.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected 1 failed cycle, got %f", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("MissingObjectId")); got != 1 {
		t.Fatalf("expected 1 MissingObjectId failure, got %f", got)
	}

	m.ObserveCapture(132300, 3, 264644)
	if got := testutil.ToFloat64(m.capturedSamples); got != 132300 {
		t.Fatalf("expected 132300 samples, got %f", got)
	}
	if got := testutil.ToFloat64(m.droppedFrames); got != 3 {
		t.Fatalf("expected 3 dropped frames, got %f", got)
	}
	if got := testutil.ToFloat64(m.artifactBytes); got != 264644 {
		t.Fatalf("expected artifact gauge 264644, got %f", got)
	}

	m.ObserveStage(StageStore, 1500*time.Millisecond)
	m.ObserveStage(StagePublish, 200*time.Millisecond)
	if samples := testutil.CollectAndCount(m.stageSeconds); samples != 2 {
		t.Fatalf("expected 2 stage series, got %d", samples)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.CycleSucceeded()
	m.CycleFailed(fault.IOFailure)
	m.ObserveCapture(1, 1, 1)
	m.ObserveStage(StageCapture, time.Second)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.CycleSucceeded()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `volp_cycles_total{outcome="ok"} 1`) {
		t.Errorf("expected cycle counter in exposition, got:\n%s", body)
	}
}
