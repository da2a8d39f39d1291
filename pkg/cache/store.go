// Package cache provides the distributed TTL cache that shields the KIS
// OpenAPI, together with the key/TTL strategy that decides how aggressively
// to shield it depending on market hours.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned by all store operations invoked while the
// backend is disconnected. Reconnection is not attempted mid-call; callers
// should treat this as a cache miss and fall through to upstream.
var ErrUnavailable = errors.New("cache unavailable")

// Stats is a snapshot of backend health counters.
type Stats struct {
	UsedMemory  int64 `json:"used_memory"`
	MaxMemory   int64 `json:"max_memory"`
	HitCount    int64 `json:"hit_count"`
	MissCount   int64 `json:"miss_count"`
	ClientCount int   `json:"client_count"`
}

// Store is the key-value cache abstraction with TTL and pattern-based bulk
// invalidation. All operations are safe for concurrent use; all suspend on
// network I/O via ctx.
type Store interface {
	// Get returns the stored value, or nil on miss. Decode failures are
	// logged and reported as a miss, never raised.
	Get(ctx context.Context, key string) (any, error)

	// Set stores a value with the given TTL. Serialization or backend
	// failures return false rather than an error, keeping cache writes
	// non-fatal to the calling tool.
	Set(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)

	// Delete removes a key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether a key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// MGet returns values positionally, nil per missing key.
	MGet(ctx context.Context, keys ...string) ([]any, error)

	// MSet stores multiple values with a shared TTL.
	MSet(ctx context.Context, entries map[string]any, ttl time.Duration) (bool, error)

	// Scan returns keys matching a glob pattern ("*" wildcard).
	// Used for bulk invalidation only, never on hot paths.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// DeletePattern scans then deletes matching keys individually.
	// Not atomic: a key written between scan and delete may survive.
	DeletePattern(ctx context.Context, pattern string) (int, error)

	// Ping reports backend reachability.
	Ping(ctx context.Context) bool

	// Stats returns backend health counters.
	Stats(ctx context.Context) (Stats, error)

	// Close tears the connection down. Operations after Close return
	// ErrUnavailable.
	Close() error
}

// encodeValue serializes a value for storage: structured values (maps,
// slices, structs) as JSON text, scalars as their string form.
func encodeValue(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", fmt.Errorf("cannot cache nil value")
	case string:
		return v, nil
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal cache value: %w", err)
		}
		return string(data), nil
	}
}

// decodeValue deserializes a stored string: JSON when it parses, the raw
// string otherwise.
func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
