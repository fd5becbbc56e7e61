// Package signal holds the last-known-good forecast per instance and
// republishes it as the pull-able scaling signal.
//
// The cache decouples slow or failing forecasts from fast signal reads:
// the control loop writes at its own cadence, the publisher reads at the
// autoscaler's cadence, and a transient forecast outage degrades provenance
// instead of collapsing the published value.
package signal

import (
	"context"
	"time"

	"github.com/HatiCode/scalecast/pkg/forecast"
)

// CachedSignal is the persisted last-known-good forecast for one instance.
// It is overwritten each successful cycle, never appended.
type CachedSignal struct {
	Forecast forecast.Forecast `json:"forecast"`
	CachedAt time.Time         `json:"cachedAt"`
}

// Store persists cached signals, one entry per instance. MemoryStore is the
// default; RedisStore lets multiple engine replicas share last-known-good
// state.
type Store interface {
	Put(ctx context.Context, s CachedSignal) error
	Get(ctx context.Context, instance string) (CachedSignal, bool, error)
	List(ctx context.Context) ([]CachedSignal, error)
}
