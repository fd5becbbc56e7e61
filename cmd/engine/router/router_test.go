package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HatiCode/scalecast/pkg/forecast"
	"github.com/HatiCode/scalecast/pkg/signal"
)

func newTestRouter(t *testing.T) (*http.ServeMux, *signal.Cache) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cache, err := signal.NewCache(signal.NewMemoryStore(), 2*time.Minute, 10*time.Minute, 1.0, logger)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	signalReg := prometheus.NewRegistry()
	signalReg.MustRegister(signal.NewPublisher(cache, "scalecast_predicted_demand", logger))
	opsReg := prometheus.NewRegistry()

	return SetupRoutes(cache, signalReg, opsReg, logger), cache
}

func TestHealthz(t *testing.T) {
	mux, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestSignalEndpoint(t *testing.T) {
	mux, cache := newTestRouter(t)

	cache.Update(context.Background(), forecast.Forecast{Instance: "node-1", PredictedValue: 12.0})
	cache.Update(context.Background(), forecast.Forecast{Instance: "node-2", PredictedValue: 5.5})

	req := httptest.NewRequest(http.MethodGet, "/signal", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `scalecast_predicted_demand{instance="node-1",source="fresh"} 12`) {
		t.Errorf("signal output missing node-1 line:\n%s", body)
	}
	if !strings.Contains(body, `scalecast_predicted_demand{instance="node-2",source="fresh"} 5.5`) {
		t.Errorf("signal output missing node-2 line:\n%s", body)
	}
}

func TestForecastCurrent(t *testing.T) {
	mux, cache := newTestRouter(t)

	cache.Update(context.Background(), forecast.Forecast{Instance: "node-1", PredictedValue: 12.0})

	req := httptest.NewRequest(http.MethodGet, "/forecast/current?instance=node-1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Scalecast-Stale") != "" {
		t.Error("fresh forecast should not carry the stale header")
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["instance"] != "node-1" || resp["predictedValue"] != 12.0 {
		t.Errorf("response = %v", resp)
	}
	if resp["source"] != "fresh" {
		t.Errorf("source = %v, want fresh", resp["source"])
	}
}

func TestForecastCurrent_FallbackIsStale(t *testing.T) {
	mux, _ := newTestRouter(t)

	// Unknown instance synthesizes a fallback, which is not fresh.
	req := httptest.NewRequest(http.MethodGet, "/forecast/current?instance=node-9", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Scalecast-Stale") != "true" {
		t.Error("fallback forecast should carry the stale header")
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["source"] != "fallback" {
		t.Errorf("source = %v, want fallback", resp["source"])
	}
	if resp["predictedValue"] == 0.0 {
		t.Error("fallback value must not be zero")
	}
}

func TestForecastCurrent_BadRequests(t *testing.T) {
	mux, _ := newTestRouter(t)

	tests := []struct {
		name string
		url  string
	}{
		{"missing instance", "/forecast/current"},
		{"invalid key characters", "/forecast/current?instance=node%2F1"},
		{"leading dash", "/forecast/current?instance=-node"},
		{"uppercase", "/forecast/current?instance=Node-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
