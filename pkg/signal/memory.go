package signal

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore implements an in-memory store for cached signals.
// It is safe for concurrent use by multiple goroutines: entries are
// updated exclusively by the control loop and read concurrently by the
// publisher's readers.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]CachedSignal
}

// NewMemoryStore creates a new in-memory signal store. The store is ready
// to use immediately with no additional configuration.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]CachedSignal),
	}
}

// Put stores a signal for an instance, replacing any existing entry.
// The write is atomic per instance: readers never observe a half-written
// entry.
func (s *MemoryStore) Put(ctx context.Context, sig CachedSignal) error {
	if sig.Forecast.Instance == "" {
		return fmt.Errorf("signal instance cannot be empty")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[sig.Forecast.Instance] = sig
	return nil
}

// Get retrieves the cached signal for an instance.
//
// Returns:
//   - signal: The stored entry (zero value if not found)
//   - found: true if an entry exists for this instance, false otherwise
//   - error: Context error if context is canceled, nil otherwise
func (s *MemoryStore) Get(ctx context.Context, instance string) (CachedSignal, bool, error) {
	select {
	case <-ctx.Done():
		return CachedSignal{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, found := s.entries[instance]
	return sig, found, nil
}

// List returns every cached signal ordered by instance.
func (s *MemoryStore) List(ctx context.Context) ([]CachedSignal, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CachedSignal, 0, len(s.entries))
	for _, sig := range s.entries {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Forecast.Instance < out[j].Forecast.Instance
	})
	return out, nil
}

// Len returns the number of entries currently stored.
// This method is primarily useful for testing and metrics.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
