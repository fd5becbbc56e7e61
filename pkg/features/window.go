package features

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrNotReady is returned by LatestVector before the very first sample for
// an instance has arrived.
var ErrNotReady = errors.New("no samples observed for instance yet")

// Vector is the fixed-order numeric representation of an instance's recent
// telemetry. Values follow the configured metric order and are normalized.
// Degraded marks vectors where a metric was never observed and 0.0 was
// substituted; callers may still use such vectors, but the flag propagates
// into the forecast's provenance.
type Vector struct {
	Instance string
	Values   []float64
	AsOf     time.Time
	Degraded bool
}

// last holds the most recent raw observation of one metric for an instance.
type last struct {
	value float64
	at    time.Time
	seen  bool
}

// Window maintains, per instance, the most recent value per metric and
// emits normalized feature vectors. Missing metrics are forward-filled
// from the last observed value; metrics never observed are filled with 0.0
// and mark the vector degraded.
//
// Window is safe for concurrent use, though in the engine it is written
// and read by the control loop only.
type Window struct {
	mu        sync.RWMutex
	metrics   []string
	params    *Params
	instances map[string]map[string]*last
	logger    *slog.Logger
}

// NewWindow creates a Window over the given metric order and normalization
// parameters.
func NewWindow(metrics []string, params *Params, logger *slog.Logger) *Window {
	if logger == nil {
		logger = slog.Default()
	}

	return &Window{
		metrics:   append([]string(nil), metrics...),
		params:    params,
		instances: make(map[string]map[string]*last),
		logger:    logger,
	}
}

// Ingest records a raw sample for an instance/metric pair.
func (w *Window) Ingest(instance, metric string, value float64, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	byMetric, ok := w.instances[instance]
	if !ok {
		byMetric = make(map[string]*last, len(w.metrics))
		w.instances[instance] = byMetric
	}

	l, ok := byMetric[metric]
	if !ok {
		l = &last{}
		byMetric[metric] = l
	}
	l.value = value
	l.at = at
	l.seen = true
}

// LatestVector returns the current normalized feature vector for an
// instance. The vector always has exactly one entry per configured metric:
// metrics missing this cycle carry the last observed value, metrics never
// observed carry 0.0 and mark the vector degraded. ErrNotReady is returned
// only before the first sample for the instance.
func (w *Window) LatestVector(instance string) (Vector, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	byMetric, ok := w.instances[instance]
	if !ok {
		return Vector{}, ErrNotReady
	}

	vec := Vector{
		Instance: instance,
		Values:   make([]float64, len(w.metrics)),
	}

	for i, metric := range w.metrics {
		l := byMetric[metric]
		if l == nil || !l.seen {
			vec.Values[i] = w.params.Normalize(metric, 0.0)
			vec.Degraded = true
			continue
		}
		vec.Values[i] = w.params.Normalize(metric, l.value)
		if l.at.After(vec.AsOf) {
			vec.AsOf = l.at
		}
	}

	if vec.Degraded {
		w.logger.Debug("degraded feature vector", "instance", instance)
	}

	return vec, nil
}

// LastObserved returns the most recent raw value for an instance/metric
// pair, if one was ever ingested.
func (w *Window) LastObserved(instance, metric string) (float64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	byMetric, ok := w.instances[instance]
	if !ok {
		return 0, false
	}
	l := byMetric[metric]
	if l == nil || !l.seen {
		return 0, false
	}
	return l.value, true
}

// Instances returns the sorted canonical keys of every instance that has
// ever produced a sample.
func (w *Window) Instances() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.instances))
	for k := range w.instances {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
