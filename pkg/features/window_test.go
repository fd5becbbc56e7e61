package features

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"
)

var testMetrics = []string{"cpu_usage", "memory_usage", "request_count"}

func testParams(t *testing.T) *Params {
	t.Helper()
	params, err := NewParams(map[string]MetricParams{
		"cpu_usage":     {Mean: 0.5, Scale: 0.25},
		"memory_usage":  {Mean: 1024, Scale: 512},
		"request_count": {Mean: 10, Scale: 5},
	}, testMetrics)
	if err != nil {
		t.Fatalf("NewParams() error = %v", err)
	}
	return params
}

func newTestWindow(t *testing.T) *Window {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWindow(testMetrics, testParams(t), logger)
}

func TestWindow_LatestVector_NotReady(t *testing.T) {
	w := newTestWindow(t)

	_, err := w.LatestVector("node-1")
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("LatestVector() error = %v, want ErrNotReady", err)
	}
}

func TestWindow_LatestVector_Complete(t *testing.T) {
	w := newTestWindow(t)
	at := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	w.Ingest("node-1", "cpu_usage", 0.75, at)
	w.Ingest("node-1", "memory_usage", 1536, at)
	w.Ingest("node-1", "request_count", 20, at)

	vec, err := w.LatestVector("node-1")
	if err != nil {
		t.Fatalf("LatestVector() error = %v", err)
	}

	if vec.Degraded {
		t.Error("vector should not be degraded")
	}
	want := []float64{1.0, 1.0, 2.0}
	if !reflect.DeepEqual(vec.Values, want) {
		t.Errorf("Values = %v, want %v", vec.Values, want)
	}
	if !vec.AsOf.Equal(at) {
		t.Errorf("AsOf = %v, want %v", vec.AsOf, at)
	}
	if len(vec.Values) != len(testMetrics) {
		t.Errorf("len(Values) = %d, want %d", len(vec.Values), len(testMetrics))
	}
}

func TestWindow_LatestVector_ForwardFill(t *testing.T) {
	w := newTestWindow(t)
	t1 := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	w.Ingest("node-1", "cpu_usage", 0.75, t1)
	w.Ingest("node-1", "memory_usage", 1536, t1)
	w.Ingest("node-1", "request_count", 20, t1)

	// Next cycle cpu_usage is missing; only the other two update.
	w.Ingest("node-1", "memory_usage", 2048, t2)
	w.Ingest("node-1", "request_count", 25, t2)

	vec, err := w.LatestVector("node-1")
	if err != nil {
		t.Fatalf("LatestVector() error = %v", err)
	}

	if vec.Degraded {
		t.Error("forward-filled vector should not be degraded")
	}
	// cpu_usage carries the t1 value.
	if vec.Values[0] != 1.0 {
		t.Errorf("cpu_usage = %v, want 1.0 (forward-filled)", vec.Values[0])
	}
	if vec.Values[1] != 2.0 {
		t.Errorf("memory_usage = %v, want 2.0", vec.Values[1])
	}
	if !vec.AsOf.Equal(t2) {
		t.Errorf("AsOf = %v, want %v", vec.AsOf, t2)
	}
}

func TestWindow_LatestVector_NeverSeenMetricDegrades(t *testing.T) {
	w := newTestWindow(t)
	at := time.Now()

	w.Ingest("node-1", "cpu_usage", 0.75, at)

	vec, err := w.LatestVector("node-1")
	if err != nil {
		t.Fatalf("LatestVector() error = %v", err)
	}

	if !vec.Degraded {
		t.Error("vector with never-seen metrics should be degraded")
	}
	// Never-seen metrics are substituted with the normalized zero.
	if got, want := vec.Values[1], (0.0-1024.0)/512.0; got != want {
		t.Errorf("memory_usage = %v, want %v", got, want)
	}
	if got, want := vec.Values[2], (0.0-10.0)/5.0; got != want {
		t.Errorf("request_count = %v, want %v", got, want)
	}
}

func TestWindow_LastObserved(t *testing.T) {
	w := newTestWindow(t)

	if _, ok := w.LastObserved("node-1", "request_count"); ok {
		t.Error("LastObserved() should report false before ingest")
	}

	w.Ingest("node-1", "request_count", 20, time.Now())
	w.Ingest("node-1", "request_count", 25, time.Now())

	got, ok := w.LastObserved("node-1", "request_count")
	if !ok || got != 25 {
		t.Errorf("LastObserved() = %v, %v, want 25, true", got, ok)
	}

	if _, ok := w.LastObserved("node-1", "cpu_usage"); ok {
		t.Error("LastObserved() should report false for never-seen metric")
	}
}

func TestWindow_Instances_Sorted(t *testing.T) {
	w := newTestWindow(t)
	at := time.Now()

	w.Ingest("node-3", "cpu_usage", 0.1, at)
	w.Ingest("node-1", "cpu_usage", 0.2, at)
	w.Ingest("node-2", "cpu_usage", 0.3, at)

	got := w.Instances()
	want := []string{"node-1", "node-2", "node-3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Instances() = %v, want %v", got, want)
	}
}
