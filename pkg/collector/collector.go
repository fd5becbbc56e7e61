package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// ErrCollectionFailure is returned when every configured query failed and
// the cycle produced no samples at all.
var ErrCollectionFailure = errors.New("collection failed for all queries")

// MissingPair identifies a metric that produced no value for an instance
// in the current cycle.
type MissingPair struct {
	Instance string
	Metric   string
}

// KeyCollision records two raw instance labels that normalized to the same
// canonical key within one cycle. The first value wins; the collision is
// reported instead of silently dropping data.
type KeyCollision struct {
	Canonical string
	Kept      string
	Dropped   string
	Metric    string
}

// Batch is the result of one collection cycle: per-instance values keyed
// by canonical instance, plus everything that went wrong along the way.
type Batch struct {
	// Values maps canonical instance -> metric name -> value.
	Values map[string]map[string]float64
	// Missing lists (instance, metric) pairs with no value this cycle,
	// including every known instance of a query that failed outright.
	Missing []MissingPair
	// Collisions lists canonical-key conflicts observed this cycle.
	Collisions []KeyCollision
	// FailedQueries lists metrics whose query failed, with the cause.
	FailedQueries map[string]error
	ObservedAt    time.Time
}

// Partial reports whether the batch succeeded only partially.
func (b *Batch) Partial() bool {
	return len(b.Missing) > 0 || len(b.Collisions) > 0 || len(b.FailedQueries) > 0
}

// PartialFailure summarizes a batch's gaps as an error for logging. It is
// informational: callers proceed with the values that did arrive.
type PartialFailure struct {
	Missing    []MissingPair
	Collisions []KeyCollision
}

func (e *PartialFailure) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("%d missing metric/instance pairs", len(e.Missing)))
	}
	if len(e.Collisions) > 0 {
		parts = append(parts, fmt.Sprintf("%d instance key collisions", len(e.Collisions)))
	}
	return "partial collection: " + strings.Join(parts, ", ")
}

// Collector issues a fixed set of named queries against a metrics source
// and normalizes the results into per-instance samples. Each query may
// fail independently; collection continues with the remaining queries.
type Collector struct {
	source       Source
	metrics      []string
	queries      map[string]string
	queryTimeout time.Duration
	logger       *slog.Logger
}

// NewCollector creates a Collector over the given source. metrics fixes
// the metric order; queries maps each metric name to its expression.
func NewCollector(source Source, metrics []string, queries map[string]string, queryTimeout time.Duration, logger *slog.Logger) (*Collector, error) {
	if source == nil {
		return nil, errors.New("collector: source is required")
	}
	if len(metrics) == 0 {
		return nil, errors.New("collector: at least one metric is required")
	}
	for _, m := range metrics {
		if queries[m] == "" {
			return nil, fmt.Errorf("collector: no query configured for metric %q", m)
		}
	}
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Collector{
		source:       source,
		metrics:      append([]string(nil), metrics...),
		queries:      queries,
		queryTimeout: queryTimeout,
		logger:       logger,
	}, nil
}

// Metrics returns the configured metric names in feature order.
func (c *Collector) Metrics() []string {
	return append([]string(nil), c.metrics...)
}

// Collect runs every configured query once and returns the batch. A query
// failure marks that metric missing for all instances seen this cycle and
// collection continues; only when every query fails is ErrCollectionFailure
// returned.
func (c *Collector) Collect(ctx context.Context) (*Batch, error) {
	batch := &Batch{
		Values:        make(map[string]map[string]float64),
		FailedQueries: make(map[string]error),
		ObservedAt:    time.Now().UTC(),
	}

	for _, metric := range c.metrics {
		expr := c.queries[metric]

		qctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
		samples, err := c.source.Query(qctx, expr)
		cancel()

		if err != nil {
			batch.FailedQueries[metric] = err
			c.logger.Warn("query failed",
				"source", c.source.Name(),
				"metric", metric,
				"error", err,
			)
			continue
		}

		seen := make(map[string]string, len(samples))
		for _, s := range samples {
			key := CanonicalInstance(s.Instance)
			if key == "" {
				continue
			}
			if kept, dup := seen[key]; dup {
				batch.Collisions = append(batch.Collisions, KeyCollision{
					Canonical: key,
					Kept:      kept,
					Dropped:   s.Instance,
					Metric:    metric,
				})
				continue
			}
			seen[key] = s.Instance

			if batch.Values[key] == nil {
				batch.Values[key] = make(map[string]float64, len(c.metrics))
			}
			batch.Values[key][metric] = s.Value
		}
	}

	if len(batch.FailedQueries) == len(c.metrics) {
		return nil, fmt.Errorf("%w: %d queries", ErrCollectionFailure, len(c.metrics))
	}

	c.fillMissing(batch)

	return batch, nil
}

// fillMissing records every (instance, metric) pair that produced no value,
// so that the windowing layer can forward-fill instead of dropping cycles.
func (c *Collector) fillMissing(batch *Batch) {
	instances := make([]string, 0, len(batch.Values))
	for instance := range batch.Values {
		instances = append(instances, instance)
	}
	sort.Strings(instances)

	for _, instance := range instances {
		for _, metric := range c.metrics {
			if _, ok := batch.Values[instance][metric]; !ok {
				batch.Missing = append(batch.Missing, MissingPair{Instance: instance, Metric: metric})
			}
		}
	}
}
