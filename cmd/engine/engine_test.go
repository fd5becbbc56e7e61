package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HatiCode/scalecast/pkg/collector"
	"github.com/HatiCode/scalecast/pkg/features"
	"github.com/HatiCode/scalecast/pkg/forecast"
	"github.com/HatiCode/scalecast/pkg/signal"
)

// stubSource serves canned samples per expression and can be flipped into
// a failing state.
type stubSource struct {
	samples map[string][]collector.InstantSample
	fail    atomic.Bool
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Query(ctx context.Context, expr string) ([]collector.InstantSample, error) {
	if s.fail.Load() {
		return nil, errors.New("source down")
	}
	return s.samples[expr], nil
}

var engineTestMetrics = []string{"cpu_usage", "memory_usage", "network_io", "request_count"}

func engineTestParams(t *testing.T) *features.Params {
	t.Helper()
	params, err := features.NewParams(map[string]features.MetricParams{
		"cpu_usage":     {Mean: 0.5, Scale: 0.25},
		"memory_usage":  {Mean: 1024, Scale: 512},
		"network_io":    {Mean: 400, Scale: 200},
		"request_count": {Mean: 10, Scale: 5},
	}, engineTestMetrics)
	if err != nil {
		t.Fatalf("NewParams() error = %v", err)
	}
	return params
}

// newTestEngine wires a full engine over a stub source and a predictor
// handler, with a memory-backed signal cache.
func newTestEngine(t *testing.T, src *stubSource, predictor http.HandlerFunc, maxStaleness, ceiling time.Duration) (*Engine, *signal.Cache) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	queries := map[string]string{
		"cpu_usage":     "q_cpu",
		"memory_usage":  "q_mem",
		"network_io":    "q_net",
		"request_count": "q_req",
	}
	coll, err := collector.NewCollector(src, engineTestMetrics, queries, time.Second, logger)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	window := features.NewWindow(engineTestMetrics, engineTestParams(t), logger)

	server := httptest.NewServer(predictor)
	t.Cleanup(server.Close)

	client, err := forecast.NewClient(server.URL, 500*time.Millisecond, 5*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	cache, err := signal.NewCache(signal.NewMemoryStore(), maxStaleness, ceiling, 1.0, logger)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	return NewEngine(coll, window, client, cache, "request_count", 10*time.Millisecond, logger, nil), cache
}

func nodeSamples(value float64) map[string][]collector.InstantSample {
	return map[string][]collector.InstantSample{
		"q_cpu": {{Instance: "node-1", Value: 0.8}},
		"q_mem": {{Instance: "node-1", Value: 1024}},
		"q_net": {{Instance: "node-1", Value: 500}},
		"q_req": {{Instance: "node-1", Value: value}},
	}
}

func staticPredictor(value float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]float64{"prediction": {value}})
	}
}

func TestEngine_Tick_PublishesFreshSignal(t *testing.T) {
	src := &stubSource{samples: nodeSamples(10)}
	engine, cache := newTestEngine(t, src, staticPredictor(12.0), 2*time.Minute, 10*time.Minute)

	if err := engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	f, err := cache.Read(context.Background(), "node-1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if f.Source != forecast.SourceFresh {
		t.Errorf("Source = %s, want fresh", f.Source)
	}
	if f.PredictedValue != 12.0 {
		t.Errorf("PredictedValue = %v, want 12.0", f.PredictedValue)
	}
}

func TestEngine_Tick_CollectionFailureSkipsCycle(t *testing.T) {
	src := &stubSource{samples: nodeSamples(10)}
	engine, cache := newTestEngine(t, src, staticPredictor(12.0), 2*time.Minute, 10*time.Minute)

	if err := engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	// Every query fails: the cycle errors out and the cache is untouched.
	src.fail.Store(true)
	if err := engine.Tick(context.Background()); err == nil {
		t.Fatal("Tick() expected error when all queries fail")
	}

	f, err := cache.Read(context.Background(), "node-1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if f.PredictedValue != 12.0 || f.Source != forecast.SourceFresh {
		t.Errorf("signal = %+v, want previous fresh 12.0", f)
	}
}

func TestEngine_Tick_ForecastFailureKeepsCachedSignal(t *testing.T) {
	var predictorUp atomic.Bool
	predictorUp.Store(true)
	predictor := func(w http.ResponseWriter, r *http.Request) {
		if !predictorUp.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string][]float64{"prediction": {12.0}})
	}

	src := &stubSource{samples: nodeSamples(10)}
	engine, cache := newTestEngine(t, src, predictor, 50*time.Millisecond, time.Minute)

	if err := engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	predictorUp.Store(false)
	time.Sleep(60 * time.Millisecond)

	// The failed cycle must not error and must not erase the entry.
	if err := engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	f, err := cache.Read(context.Background(), "node-1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if f.Source != forecast.SourceCached {
		t.Errorf("Source = %s, want cached", f.Source)
	}
	if f.PredictedValue != 12.0 {
		t.Errorf("PredictedValue = %v, want retained 12.0", f.PredictedValue)
	}
}

func TestEngine_Tick_FallbackWithoutAnyForecast(t *testing.T) {
	// Predictor never succeeds, so only observed demand backs the signal.
	src := &stubSource{samples: nodeSamples(7)}
	engine, cache := newTestEngine(t, src, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}, 2*time.Minute, 10*time.Minute)

	if err := engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	f, err := cache.Read(context.Background(), "node-1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if f.Source != forecast.SourceFallback {
		t.Errorf("Source = %s, want fallback", f.Source)
	}
	if f.PredictedValue != 7.0 {
		t.Errorf("PredictedValue = %v, want last observed demand 7.0", f.PredictedValue)
	}
}

func TestEngine_Tick_PartialCollectionForwardFills(t *testing.T) {
	src := &stubSource{samples: nodeSamples(10)}

	var gotFeatures [][]float64
	predictor := func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Features []float64 `json:"features"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotFeatures = append(gotFeatures, req.Features)
		json.NewEncoder(w).Encode(map[string][]float64{"prediction": {12.0}})
	}

	engine, _ := newTestEngine(t, src, predictor, 2*time.Minute, 10*time.Minute)

	if err := engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	// Second cycle loses the cpu query; its last value carries forward.
	src.samples = map[string][]collector.InstantSample{
		"q_mem": {{Instance: "node-1", Value: 2048}},
		"q_net": {{Instance: "node-1", Value: 500}},
		"q_req": {{Instance: "node-1", Value: 20}},
	}
	if err := engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(gotFeatures) != 2 {
		t.Fatalf("predictor calls = %d, want 2", len(gotFeatures))
	}
	// cpu_usage (index 0) is identical across cycles despite the gap.
	if gotFeatures[1][0] != gotFeatures[0][0] {
		t.Errorf("cpu feature = %v, want forward-filled %v", gotFeatures[1][0], gotFeatures[0][0])
	}
	// memory_usage (index 1) reflects the new sample.
	if gotFeatures[1][1] == gotFeatures[0][1] {
		t.Error("memory feature should have changed")
	}
}

func TestEngine_Run_StopsOnContextCancel(t *testing.T) {
	src := &stubSource{samples: nodeSamples(10)}
	engine, _ := newTestEngine(t, src, staticPredictor(12.0), 2*time.Minute, 10*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- engine.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after context cancellation")
	}
}
