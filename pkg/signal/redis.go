package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "scalecast:signal:"

// RedisStore implements the Store interface using Redis as a backend.
// It enables multi-replica engine deployments by providing shared storage
// for last-known-good signals with TTL-based expiration.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.Mutex
}

// NewRedisStore creates a new Redis-backed store.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
//   - ttl: Entry expiration duration; pass the hard staleness ceiling so
//     entries outlive the cached window but not forever (0 uses 30 minutes)
//
// Returns an error if the connection to Redis fails or if parameters are invalid.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	if ttl == 0 {
		ttl = 30 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

// Put stores a cached signal in Redis with TTL-based expiration.
// The key format is "scalecast:signal:{instance}".
func (r *RedisStore) Put(ctx context.Context, sig CachedSignal) error {
	instance := sig.Forecast.Instance
	if instance == "" {
		return errors.New("signal instance required")
	}

	for _, c := range instance {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.') {
			return fmt.Errorf("invalid instance key %q: only alphanumeric, hyphens, underscores, and dots allowed", instance)
		}
	}

	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	if err := r.client.Set(ctx, redisKeyPrefix+instance, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store signal in redis: %w", err)
	}

	return nil
}

// Get retrieves the cached signal for an instance.
//
// Returns:
//   - signal: The cached entry (zero value if not found)
//   - found: true if entry exists, false if not found
//   - error: non-nil if an error occurred (excluding "not found")
func (r *RedisStore) Get(ctx context.Context, instance string) (CachedSignal, bool, error) {
	if instance == "" {
		return CachedSignal{}, false, errors.New("signal instance required")
	}

	data, err := r.client.Get(ctx, redisKeyPrefix+instance).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return CachedSignal{}, false, nil
		}
		return CachedSignal{}, false, fmt.Errorf("failed to get signal from redis: %w", err)
	}

	var sig CachedSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return CachedSignal{}, false, fmt.Errorf("failed to unmarshal signal: %w", err)
	}

	return sig, true, nil
}

// List returns every cached signal ordered by instance, scanning the key
// prefix so other keyspaces in the same database stay untouched.
func (r *RedisStore) List(ctx context.Context) ([]CachedSignal, error) {
	var out []CachedSignal

	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired between scan and get
			}
			return nil, fmt.Errorf("failed to get signal from redis: %w", err)
		}

		var sig CachedSignal
		if err := json.Unmarshal(data, &sig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signal: %w", err)
		}
		out = append(out, sig)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan signals: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Forecast.Instance < out[j].Forecast.Instance
	})
	return out, nil
}

// Close closes the Redis client connection.
// It is safe to call multiple times (idempotent).
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}

	return err
}

// Ping checks the Redis connection health.
// Returns an error if the connection is unavailable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
