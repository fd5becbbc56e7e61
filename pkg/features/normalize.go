// Package features maintains per-instance telemetry windows and turns them
// into fixed-order, normalized feature vectors for the prediction service.
package features

import (
	"encoding/json"
	"fmt"
	"os"
)

// MetricParams holds the offline-computed scaling parameters for one metric.
type MetricParams struct {
	Mean  float64 `json:"mean"`
	Scale float64 `json:"scale"`
}

// Params holds normalization parameters per metric. They are computed once
// offline, loaded read-only at startup, and never mutated at runtime.
type Params struct {
	byMetric map[string]MetricParams
}

// LoadParams reads normalization parameters from a JSON file of the form
//
//	{"cpu_usage": {"mean": 0.4, "scale": 0.2}, ...}
//
// and validates them against the configured metric set. A missing metric or
// a zero scale is a configuration error raised here, not at request time.
func LoadParams(path string, metrics []string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read normalization params: %w", err)
	}

	var byMetric map[string]MetricParams
	if err := json.Unmarshal(data, &byMetric); err != nil {
		return nil, fmt.Errorf("parse normalization params: %w", err)
	}

	return NewParams(byMetric, metrics)
}

// NewParams validates parameters for the configured metrics.
func NewParams(byMetric map[string]MetricParams, metrics []string) (*Params, error) {
	for _, m := range metrics {
		p, ok := byMetric[m]
		if !ok {
			return nil, fmt.Errorf("normalization params missing for metric %q", m)
		}
		if p.Scale == 0 {
			return nil, fmt.Errorf("normalization scale for metric %q is zero", m)
		}
	}

	return &Params{byMetric: byMetric}, nil
}

// Normalize applies (raw - mean) / scale for the given metric.
func (p *Params) Normalize(metric string, raw float64) float64 {
	mp := p.byMetric[metric]
	return (raw - mp.Mean) / mp.Scale
}

// Denormalize inverts Normalize: normalized * scale + mean.
func (p *Params) Denormalize(metric string, normalized float64) float64 {
	mp := p.byMetric[metric]
	return normalized*mp.Scale + mp.Mean
}
