// Package main implements the adaptive scaling decision engine.
//
// This file contains the Engine type which orchestrates the control loop:
//
//	collect → window → predict → cache
//
// The Engine runs continuously via Run(), executing Tick() at regular
// intervals. Each tick performs one complete cycle, refreshing the cached
// signal that the external autoscaler pulls via the /signal endpoint. The
// read path is independent: publishing never triggers collection or
// forecasting.
//
// Cycles never overlap: ticks are processed synchronously on one
// goroutine, so an overrunning cycle delays the next one instead of
// racing it. One instance's forecast failure never blocks another
// instance's update, and a failed cycle leaves the previous cache entries
// in place.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/scalecast/cmd/engine/metrics"
	"github.com/HatiCode/scalecast/pkg/collector"
	"github.com/HatiCode/scalecast/pkg/features"
	"github.com/HatiCode/scalecast/pkg/forecast"
	"github.com/HatiCode/scalecast/pkg/signal"
)

// Engine owns the control loop: collect → window → predict → cache.
type Engine struct {
	collector    *collector.Collector
	window       *features.Window
	client       *forecast.Client
	cache        *signal.Cache
	targetMetric string
	interval     time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewEngine creates a new Engine.
func NewEngine(
	coll *collector.Collector,
	window *features.Window,
	client *forecast.Client,
	cache *signal.Cache,
	targetMetric string,
	interval time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		collector:    coll,
		window:       window,
		client:       client,
		cache:        cache,
		targetMetric: targetMetric,
		interval:     interval,
		logger:       logger,
		metrics:      m,
	}
}

// Run executes the control loop at regular intervals.
// Blocks until context is canceled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting control loop", "interval", e.interval)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	if err := e.Tick(ctx); err != nil {
		e.logger.Error("initial cycle failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("control loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				e.logger.Error("cycle failed", "error", err)
			}
		}
	}
}

// Tick performs one cycle. A total collection failure skips the cycle and
// leaves the cache untouched; partial failures are recovered locally via
// forward-fill. Exported for testing purposes.
func (e *Engine) Tick(ctx context.Context) error {
	start := time.Now()
	e.logger.Debug("starting cycle")

	batch, collectDuration, err := e.collect(ctx)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordError("collector", "collect_failed")
		}
		return fmt.Errorf("collect: %w", err)
	}

	e.ingest(batch)

	instances := e.window.Instances()
	updated := e.forecastAll(ctx, instances)

	if e.metrics != nil {
		e.metrics.SetTrackedInstances(len(instances))
		e.metrics.RecordCycle(time.Since(start).Seconds(), float64(time.Now().Unix()))
	}

	e.logger.Info("cycle complete",
		"instances", len(instances),
		"updated", updated,
		"collect_ms", collectDuration.Milliseconds(),
		"total_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// collect retrieves the current batch from the metrics source.
func (e *Engine) collect(ctx context.Context) (*collector.Batch, time.Duration, error) {
	start := time.Now()

	batch, err := e.collector.Collect(ctx)
	if err != nil {
		return nil, 0, err
	}

	duration := time.Since(start)

	if e.metrics != nil {
		e.metrics.RecordCollect(duration.Seconds())
	}

	if batch.Partial() {
		if e.metrics != nil {
			e.metrics.RecordError("collector", "partial")
		}
		partial := &collector.PartialFailure{
			Missing:    batch.Missing,
			Collisions: batch.Collisions,
		}
		e.logger.Warn("partial collection",
			"error", partial,
			"failed_queries", len(batch.FailedQueries),
		)
	}

	e.logger.Debug("collected metrics",
		"instances", len(batch.Values),
		"duration_ms", duration.Milliseconds(),
	)

	return batch, duration, nil
}

// ingest feeds collected samples into the feature window and records
// observed demand for the fallback policy.
func (e *Engine) ingest(batch *collector.Batch) {
	for instance, byMetric := range batch.Values {
		for metric, value := range byMetric {
			e.window.Ingest(instance, metric, value, batch.ObservedAt)
		}
		if demand, ok := byMetric[e.targetMetric]; ok {
			e.cache.ObserveDemand(instance, demand)
		}
	}
}

// forecastAll obtains a forecast per instance and updates the cache.
// All failures here are per-instance: they are logged and counted, the
// remaining instances proceed, and the failing instance's previous cache
// entry stays in place.
func (e *Engine) forecastAll(ctx context.Context, instances []string) int {
	updated := 0

	for _, instance := range instances {
		if ctx.Err() != nil {
			e.logger.Info("cycle abandoned", "error", ctx.Err())
			return updated
		}

		vec, err := e.window.LatestVector(instance)
		if err != nil {
			if errors.Is(err, features.ErrNotReady) {
				continue
			}
			if e.metrics != nil {
				e.metrics.RecordError("features", "vector_failed")
			}
			e.logger.Warn("feature vector failed", "instance", instance, "error", err)
			continue
		}

		start := time.Now()
		f, err := e.client.Predict(ctx, vec)
		if e.metrics != nil {
			e.metrics.RecordPredict(time.Since(start).Seconds())
		}
		if err != nil {
			reason := "predict_failed"
			var unavailable *forecast.UnavailableError
			if errors.As(err, &unavailable) {
				reason = string(unavailable.Kind)
			}
			if e.metrics != nil {
				e.metrics.RecordError("forecast", reason)
			}
			e.logger.Warn("forecast unavailable, keeping cached signal",
				"instance", instance,
				"error", err,
			)
			continue
		}

		if err := e.cache.Update(ctx, f); err != nil {
			if e.metrics != nil {
				e.metrics.RecordError("signal", "update_failed")
			}
			e.logger.Error("signal update failed", "instance", instance, "error", err)
			continue
		}

		updated++
		e.logger.Debug("signal updated",
			"instance", instance,
			"predicted", f.PredictedValue,
			"degraded", f.Degraded,
		)
	}

	return updated
}
