package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// memoryEntry holds a serialized value and its absolute expiry.
type memoryEntry struct {
	raw       string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store backend. It shares the serialization
// codec with the Redis backend so values round-trip identically, which
// makes it a drop-in stand-in for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	closed  bool

	hits   int64
	misses int64

	logger zerolog.Logger
	now    func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		logger:  logger,
		now:     time.Now,
	}
}

// Get retrieves and decodes a value, or nil on miss. A read after expiry
// returns absent, never a stale value.
func (s *MemoryStore) Get(_ context.Context, key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrUnavailable
	}

	entry, ok := s.entries[key]
	if !ok || entry.expired(s.now()) {
		if ok {
			delete(s.entries, key)
		}
		s.misses++
		CacheMisses.Inc()
		return nil, nil
	}

	s.hits++
	CacheHits.WithLabelValues("memory").Inc()
	return decodeValue(entry.raw), nil
}

// Set stores a value with TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrUnavailable
	}

	raw, err := encodeValue(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache value not serializable")
		return false, nil
	}

	entry := memoryEntry{raw: raw}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
	return true, nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrUnavailable
	}

	entry, ok := s.entries[key]
	if !ok || entry.expired(s.now()) {
		delete(s.entries, key)
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// Exists reports key presence.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrUnavailable
	}
	entry, ok := s.entries[key]
	return ok && !entry.expired(s.now()), nil
}

// MGet returns values positionally, nil per missing key.
func (s *MemoryStore) MGet(ctx context.Context, keys ...string) ([]any, error) {
	values := make([]any, len(keys))
	for i, key := range keys {
		v, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// MSet stores multiple values with a shared TTL.
func (s *MemoryStore) MSet(ctx context.Context, entries map[string]any, ttl time.Duration) (bool, error) {
	for key, value := range entries {
		ok, err := s.Set(ctx, key, value, ttl)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Scan returns keys matching a glob pattern.
func (s *MemoryStore) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrUnavailable
	}

	now := s.now()
	var keys []string
	for key, entry := range s.entries {
		if entry.expired(now) {
			continue
		}
		if matched, err := path.Match(pattern, key); err == nil && matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// DeletePattern scans then deletes matching keys individually.
func (s *MemoryStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := s.Scan(ctx, pattern)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, key := range keys {
		ok, err := s.Delete(ctx, key)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// Ping reports availability.
func (s *MemoryStore) Ping(_ context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Stats returns in-process counters. Memory sizes are approximated from
// stored payload bytes.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}, ErrUnavailable
	}

	var used int64
	for key, entry := range s.entries {
		used += int64(len(key) + len(entry.raw))
	}

	return Stats{
		UsedMemory:  used,
		HitCount:    s.hits,
		MissCount:   s.misses,
		ClientCount: 1,
	}, nil
}

// Close marks the store unavailable and drops its contents.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.entries = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
