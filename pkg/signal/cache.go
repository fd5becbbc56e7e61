package signal

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/HatiCode/scalecast/pkg/forecast"
)

// Cache applies the staleness policy over a Store. It is the fail-open
// core of the engine: a transient forecast-service outage degrades a
// signal's provenance (fresh -> cached -> fallback) instead of letting the
// published value collapse to zero or disappear, which would read as "no
// demand" to the downstream autoscaler.
type Cache struct {
	store           Store
	maxStaleness    time.Duration
	hardCeiling     time.Duration
	fallbackDefault float64
	logger          *slog.Logger

	// observed holds the last observed demand per instance, preferred over
	// the static default when synthesizing a fallback.
	mu       sync.RWMutex
	observed map[string]float64

	now func() time.Time
}

// NewCache creates a Cache over the given store.
//
// maxStaleness is the age up to which an entry still reads as fresh
// (typically a small multiple of the collection interval). hardCeiling is
// the age beyond which even a stale entry is abandoned for the fallback
// (typically 10x the interval). fallbackDefault is the value synthesized
// when no demand was ever observed for an instance; it should never be
// zero.
func NewCache(store Store, maxStaleness, hardCeiling time.Duration, fallbackDefault float64, logger *slog.Logger) (*Cache, error) {
	if store == nil {
		return nil, errors.New("signal: store is required")
	}
	if maxStaleness <= 0 {
		return nil, errors.New("signal: maxStaleness must be > 0")
	}
	if hardCeiling <= maxStaleness {
		return nil, errors.New("signal: hard staleness ceiling must exceed maxStaleness")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		store:           store,
		maxStaleness:    maxStaleness,
		hardCeiling:     hardCeiling,
		fallbackDefault: fallbackDefault,
		logger:          logger,
		observed:        make(map[string]float64),
		now:             time.Now,
	}, nil
}

// Update overwrites the cached entry for the forecast's instance, stamping
// it as fresh. On cycles where forecasting failed for an instance, Update
// is simply not called and the previous entry stays in place.
func (c *Cache) Update(ctx context.Context, f forecast.Forecast) error {
	f.Source = forecast.SourceFresh
	return c.store.Put(ctx, CachedSignal{
		Forecast: f,
		CachedAt: c.now().UTC(),
	})
}

// ObserveDemand records the latest observed demand for an instance. The
// value backs the fallback policy: an instance that has ever produced a
// sample never reads as zero demand.
func (c *Cache) ObserveDemand(instance string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed[instance] = value
}

// Read returns the signal for an instance, reclassifying provenance by age:
//
//	no entry            -> fallback (last observed demand, else default)
//	age <= maxStaleness -> fresh
//	age <= hardCeiling  -> cached, same value as last written
//	beyond the ceiling  -> fallback
func (c *Cache) Read(ctx context.Context, instance string) (forecast.Forecast, error) {
	sig, found, err := c.store.Get(ctx, instance)
	if err != nil {
		return forecast.Forecast{}, err
	}
	if !found {
		return c.fallback(instance), nil
	}

	return c.classify(sig, instance), nil
}

// Snapshot returns the current signal for every known instance, ordered by
// instance key. Instances that have produced samples but never a forecast
// appear with fallback provenance, so the published signal is never absent
// for them.
func (c *Cache) Snapshot(ctx context.Context) ([]forecast.Forecast, error) {
	entries, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]forecast.Forecast, 0, len(entries))
	cached := make(map[string]bool, len(entries))
	for _, sig := range entries {
		cached[sig.Forecast.Instance] = true
		out = append(out, c.classify(sig, sig.Forecast.Instance))
	}

	c.mu.RLock()
	for instance := range c.observed {
		if !cached[instance] {
			out = append(out, c.fallback(instance))
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Instance < out[j].Instance
	})
	return out, nil
}

// classify applies the staleness policy to a stored entry.
func (c *Cache) classify(sig CachedSignal, instance string) forecast.Forecast {
	f := sig.Forecast
	age := c.now().UTC().Sub(sig.CachedAt)

	switch {
	case age <= c.maxStaleness:
		f.Source = forecast.SourceFresh
	case age <= c.hardCeiling:
		f.Source = forecast.SourceCached
		c.logger.Debug("serving stale forecast",
			"instance", instance,
			"age", age,
			"max_staleness", c.maxStaleness,
		)
	default:
		c.logger.Warn("forecast past hard staleness ceiling, falling back",
			"instance", instance,
			"age", age,
			"ceiling", c.hardCeiling,
		)
		return c.fallback(instance)
	}

	return f
}

// fallback synthesizes a forecast from the last observed demand, or the
// configured default when the instance never reported the target metric.
func (c *Cache) fallback(instance string) forecast.Forecast {
	c.mu.RLock()
	value, ok := c.observed[instance]
	c.mu.RUnlock()
	if !ok {
		value = c.fallbackDefault
	}

	return forecast.Forecast{
		Instance:       instance,
		PredictedValue: value,
		AsOf:           c.now().UTC(),
		Source:         forecast.SourceFallback,
	}
}
