package signal

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HatiCode/scalecast/pkg/forecast"
)

// Publisher exposes the cached forecasts in the pull model the external
// autoscaler expects. It is a pure read-side adapter over the Cache: it
// performs no I/O to the metrics source or the prediction service and
// never mutates state. Arbitrarily many readers may call it concurrently.
//
// Publisher implements prometheus.Collector so that registering it on the
// signal registry yields one text-format line per instance:
//
//	scalecast_predicted_demand{instance="node-1",source="fresh"} 12
//
// The registry is owned by the process and passed in at construction; the
// publisher never touches global registration state.
type Publisher struct {
	cache       *Cache
	desc        *prometheus.Desc
	readTimeout time.Duration
	logger      *slog.Logger
}

// NewPublisher creates a Publisher emitting the signal under metricName.
func NewPublisher(cache *Cache, metricName string, logger *slog.Logger) *Publisher {
	if metricName == "" {
		metricName = "scalecast_predicted_demand"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		cache: cache,
		desc: prometheus.NewDesc(
			metricName,
			"Predicted near-future demand per instance",
			[]string{"instance", "source"},
			nil,
		),
		readTimeout: 2 * time.Second,
		logger:      logger,
	}
}

// Snapshot returns the current signal for every known instance, ordered by
// instance key. Callable concurrently and cheaply.
func (p *Publisher) Snapshot(ctx context.Context) ([]forecast.Forecast, error) {
	return p.cache.Snapshot(ctx)
}

// Describe implements prometheus.Collector.
func (p *Publisher) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.desc
}

// Collect implements prometheus.Collector. Each scrape reads the cache
// once; a failing read yields no samples rather than a partial set.
func (p *Publisher) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), p.readTimeout)
	defer cancel()

	forecasts, err := p.cache.Snapshot(ctx)
	if err != nil {
		p.logger.Error("signal snapshot failed", "error", err)
		return
	}

	for _, f := range forecasts {
		ch <- prometheus.MustNewConstMetric(
			p.desc,
			prometheus.GaugeValue,
			f.PredictedValue,
			f.Instance,
			string(f.Source),
		)
	}
}
