// Package ratelimit implements the outbound request gate for the KIS OpenAPI.
// Two constraints are enforced independently: a minimum spacing between
// consecutive admissions and a sliding 60-second admission ceiling.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limit gating.
var (
	kisAdmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kis_rate_limit_admissions_total",
		Help: "Total requests admitted through the rate limit gate",
	})

	kisWindowWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kis_rate_limit_window_waits_total",
		Help: "Total times a caller was suspended on the full sliding window",
	})

	kisWindowOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kis_rate_limit_window_occupancy",
		Help: "Admissions currently inside the trailing window",
	})
)

// Defaults for the KIS OpenAPI gate.
const (
	// DefaultRequestsPerInterval is N in the 1/N-second minimum spacing
	// between consecutive admissions. Deliberately conservative and
	// distinct from the per-minute ceiling.
	DefaultRequestsPerInterval = 3

	// DefaultWindowLimit is the maximum number of admissions in any
	// trailing window.
	DefaultWindowLimit = 50

	// DefaultWindow is the trailing window length.
	DefaultWindow = 60 * time.Second
)

// Config holds limiter configuration.
type Config struct {
	// RequestsPerInterval is N; consecutive admissions are spaced by at
	// least 1/N seconds.
	RequestsPerInterval int

	// WindowLimit is the maximum admissions per trailing Window.
	WindowLimit int

	// Window is the trailing window length.
	Window time.Duration
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerInterval: DefaultRequestsPerInterval,
		WindowLimit:         DefaultWindowLimit,
		Window:              DefaultWindow,
	}
}

// Limiter is a cooperative FIFO gate for outbound API requests.
// It does not prioritize or reorder callers.
type Limiter struct {
	spacing *rate.Limiter

	mu       sync.Mutex
	admitted []time.Time

	limit  int
	window time.Duration
	logger zerolog.Logger

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter. Zero config fields fall back to defaults.
func New(cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.RequestsPerInterval <= 0 {
		cfg.RequestsPerInterval = DefaultRequestsPerInterval
	}
	if cfg.WindowLimit <= 0 {
		cfg.WindowLimit = DefaultWindowLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	return &Limiter{
		spacing: rate.NewLimiter(rate.Limit(cfg.RequestsPerInterval), 1),
		limit:   cfg.WindowLimit,
		window:  cfg.Window,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Acquire suspends the caller until an admission is permitted or ctx is
// cancelled. The admission timestamp is recorded at admission, so a caller
// cancelled after Acquire returns cannot corrupt the window.
func (l *Limiter) Acquire(ctx context.Context) error {
	// Minimum spacing between consecutive admissions (1/N seconds).
	if err := l.spacing.Wait(ctx); err != nil {
		return err
	}

	for {
		wait, ok := l.tryAdmit()
		if ok {
			kisAdmissionsTotal.Inc()
			return nil
		}

		kisWindowWaitsTotal.Inc()
		l.logger.Warn().
			Dur("wait", wait).
			Int("window_limit", l.limit).
			Msg("Rate limit window full, suspending caller")

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAdmit prunes aged entries and admits if the window has room.
// Returns the wait until the oldest entry ages out when full.
func (l *Limiter) tryAdmit() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	// Lazy prune: drop entries older than the trailing window.
	kept := l.admitted[:0]
	for _, ts := range l.admitted {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.admitted = kept

	if len(l.admitted) < l.limit {
		l.admitted = append(l.admitted, now)
		kisWindowOccupancy.Set(float64(len(l.admitted)))
		return 0, true
	}

	wait := l.admitted[0].Add(l.window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, false
}

// WindowSize returns the number of admissions currently inside the window.
func (l *Limiter) WindowSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	n := 0
	for _, ts := range l.admitted {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// sleepContext waits for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
