// Package router configures HTTP routes for the engine's HTTP API.
//
// The engine exposes one HTTP server providing the published scaling
// signal, a JSON forecast endpoint, health checks, and operational metrics:
//
//   - GET /signal - Published signal in Prometheus text format, one line
//     per instance; this is what the external autoscaler polls
//   - GET /forecast/current?instance=<key> - Latest forecast as JSON
//   - GET /healthz - Health check endpoint (returns 200 OK)
//   - GET /metrics - Engine operational metrics
//
// The signal and operational metrics are served from two separate
// registries so the autoscaler's scrape never mixes with the engine's own
// telemetry. Forecasts whose provenance is no longer fresh include an
// X-Scalecast-Stale header on the JSON endpoint.
package router

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/scalecast/pkg/forecast"
	"github.com/HatiCode/scalecast/pkg/httpx"
	"github.com/HatiCode/scalecast/pkg/signal"
)

var instanceKeyRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]{0,251}[a-z0-9])?$`)

// SetupRoutes configures HTTP endpoints for the engine.
func SetupRoutes(cache *signal.Cache, signalReg, opsReg *prometheus.Registry, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.Handle("/healthz", httpx.HealthHandler())

	// Published scaling signal, pulled by the external autoscaler
	mux.Handle("/signal", promhttp.HandlerFor(signalReg, promhttp.HandlerOpts{}))

	// Forecast JSON endpoint
	mux.HandleFunc("/forecast/current", handleGetForecast(cache, logger))

	// Engine operational metrics
	mux.Handle("/metrics", promhttp.HandlerFor(opsReg, promhttp.HandlerOpts{}))

	return mux
}

// handleGetForecast returns a handler for GET /forecast/current?instance=<key>.
func handleGetForecast(cache *signal.Cache, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instance := r.URL.Query().Get("instance")
		if instance == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "instance parameter required")
			return
		}

		if !instanceKeyRegex.MatchString(instance) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid instance key format")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		f, err := cache.Read(ctx, instance)
		if err != nil {
			logger.Error("failed to read signal", "instance", instance, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if f.Source != forecast.SourceFresh {
			w.Header().Set("X-Scalecast-Stale", "true")
		}

		resp := map[string]any{
			"instance":       f.Instance,
			"predictedValue": f.PredictedValue,
			"asOf":           f.AsOf.Format(time.RFC3339),
			"source":         f.Source,
			"degraded":       f.Degraded,
		}

		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}
