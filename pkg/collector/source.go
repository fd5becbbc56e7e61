// Package collector retrieves per-instance telemetry from a metrics source
// and normalizes heterogeneous query results into typed samples.
//
// Each source implements the Source interface and can be plugged into the
// scalecast engine. Available sources include:
//   - PrometheusSource      — instant queries via the Prometheus HTTP API
//   - VictoriaMetricsSource — instant queries via the VictoriaMetrics Prometheus-compatible API
//   - HTTPSource            — generic source for any REST API with JSON responses
//
// Sources are intentionally lightweight. They evaluate a single expression
// at "now", return (instance, value) pairs, and leave windowing and feature
// building to the upper layers.
package collector

import (
	"context"
	"strings"
)

// InstantSample is a single (instance, value) observation returned by a
// source for one expression at the current time.
type InstantSample struct {
	Instance string
	Value    float64
}

// Source is the interface all scalecast metrics sources implement.
//
// Query evaluates the expression at the current time and returns one sample
// per instance. It must respect context cancellation and deadlines, handle
// transient errors gracefully, and never panic.
type Source interface {
	Query(ctx context.Context, expr string) ([]InstantSample, error)

	// Name returns a short, unique identifier for the source.
	// Example: "prometheus", "victoria-metrics", "http".
	Name() string
}

// CanonicalInstance normalizes an instance label into the canonical key
// used across the engine. Different queries may return differing label
// forms for the same physical instance ("Node-1:9100" vs "node-1"); keys
// are lowercased, trimmed, and stripped of a trailing port so they
// converge.
func CanonicalInstance(label string) string {
	key := strings.ToLower(strings.TrimSpace(label))
	if i := strings.LastIndex(key, ":"); i > 0 {
		port := key[i+1:]
		if port != "" && isDigits(port) {
			key = key[:i]
		}
	}
	return key
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
