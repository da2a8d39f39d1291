package cache

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore is the Redis-backed Store. The connection is established
// lazily on first use and torn down explicitly via Close.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger

	mu        sync.Mutex
	connected bool
	closed    bool
}

// NewRedisStore creates a store from a connection URL of the form
// redis://[password@]host:port/db-index.
func NewRedisStore(connURL string, logger zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(connURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return &RedisStore{
		client: redis.NewClient(opts),
		logger: logger,
	}, nil
}

// NewRedisStoreFromClient wraps an existing Redis client (for tests).
func NewRedisStoreFromClient(client *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// ensure establishes the connection on first use. After Close the store is
// permanently unavailable; no mid-call reconnection.
func (s *RedisStore) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrUnavailable
	}
	if s.connected {
		return nil
	}

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Error().Err(err).Msg("Redis connection failed")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.connected = true
	s.logger.Info().Msg("Connected to Redis")
	return nil
}

// Get retrieves and decodes a value, or nil on miss.
func (s *RedisStore) Get(ctx context.Context, key string) (any, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, nil
		}
		CacheErrors.WithLabelValues("get").Inc()
		s.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache get failed, treating as miss")
		return nil, nil
	}

	CacheHits.WithLabelValues("redis").Inc()
	return decodeValue(raw), nil
}

// Set stores a value with TTL. Failures return false, never an error,
// except when the store is unavailable.
func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if err := s.ensure(ctx); err != nil {
		return false, err
	}

	raw, err := encodeValue(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache value not serializable")
		return false, nil
	}

	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache set failed")
		return false, nil
	}
	return true, nil
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := s.ensure(ctx); err != nil {
		return false, err
	}

	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, nil
	}
	return n > 0, nil
}

// Exists reports key presence.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.ensure(ctx); err != nil {
		return false, err
	}

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		CacheErrors.WithLabelValues("exists").Inc()
		return false, nil
	}
	return n > 0, nil
}

// MGet returns values positionally, nil per missing key.
func (s *RedisStore) MGet(ctx context.Context, keys ...string) ([]any, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		CacheErrors.WithLabelValues("mget").Inc()
		return make([]any, len(keys)), nil
	}

	values := make([]any, len(raws))
	for i, raw := range raws {
		if raw == nil {
			CacheMisses.Inc()
			continue
		}
		if str, ok := raw.(string); ok {
			CacheHits.WithLabelValues("redis").Inc()
			values[i] = decodeValue(str)
		}
	}
	return values, nil
}

// MSet stores multiple values with a shared TTL via a pipeline.
func (s *RedisStore) MSet(ctx context.Context, entries map[string]any, ttl time.Duration) (bool, error) {
	if err := s.ensure(ctx); err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return true, nil
	}

	pipe := s.client.Pipeline()
	for key, value := range entries {
		raw, err := encodeValue(value)
		if err != nil {
			CacheErrors.WithLabelValues("mset").Inc()
			s.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache value not serializable")
			return false, nil
		}
		pipe.Set(ctx, key, raw, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("mset").Inc()
		return false, nil
	}
	return true, nil
}

// Scan returns keys matching a glob pattern.
func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("scan").Inc()
		return nil, nil
	}
	return keys, nil
}

// DeletePattern scans then deletes matching keys individually.
func (s *RedisStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
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

// Ping reports backend reachability.
func (s *RedisStore) Ping(ctx context.Context) bool {
	if err := s.ensure(ctx); err != nil {
		return false
	}
	return s.client.Ping(ctx).Err() == nil
}

// Stats parses the relevant INFO counters.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	if err := s.ensure(ctx); err != nil {
		return Stats{}, err
	}

	info, err := s.client.Info(ctx, "memory", "stats", "clients").Result()
	if err != nil {
		CacheErrors.WithLabelValues("stats").Inc()
		return Stats{}, fmt.Errorf("redis info: %w", err)
	}
	return parseRedisInfo(info), nil
}

// Close tears the connection down.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.connected = false
	s.logger.Info().Msg("Disconnected from Redis")
	return s.client.Close()
}

// parseRedisInfo extracts counters from an INFO response body.
func parseRedisInfo(info string) Stats {
	var st Stats
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := scanner.Text()
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}

		switch name {
		case "used_memory":
			st.UsedMemory = n
		case "maxmemory":
			st.MaxMemory = n
		case "keyspace_hits":
			st.HitCount = n
		case "keyspace_misses":
			st.MissCount = n
		case "connected_clients":
			st.ClientCount = int(n)
		}
	}
	return st
}

var _ Store = (*RedisStore)(nil)
