// Package ratelimit provides fixed-window request limiting per client key.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// Requests is the number of requests allowed per window.
	Requests int `yaml:"requests"`
	// Window is the length of one counting window.
	Window time.Duration `yaml:"window"`
	// MaxKeys bounds the key table; expired windows are pruned past it.
	MaxKeys int `yaml:"max_keys"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		Requests: 100,
		Window:   time.Minute,
		MaxKeys:  10000,
		Enabled:  true,
	}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// Remaining is the quota left in the current window after this request.
	Remaining int
	// RetryAfter is set on rejections: the time until the window resets,
	// rounded up to whole seconds.
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter as the integer value of a
// Retry-After header.
func (d Decision) RetryAfterSeconds() int {
	return int(d.RetryAfter / time.Second)
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per key in fixed windows. Windows reset lazily on
// the first access after they expire.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	config  Config
	now     func() time.Time
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config) *Limiter {
	defaults := DefaultConfig()
	if config.Requests <= 0 {
		config.Requests = defaults.Requests
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.MaxKeys <= 0 {
		config.MaxKeys = defaults.MaxKeys
	}
	return &Limiter{
		windows: make(map[string]*window),
		config:  config,
		now:     time.Now,
	}
}

// Allow records a request for key and reports whether it fits the quota.
// Rejected requests do not count against the window.
func (l *Limiter) Allow(key string) Decision {
	if !l.config.Enabled {
		return Decision{Allowed: true, Remaining: l.config.Requests}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		if !ok && len(l.windows) >= l.config.MaxKeys {
			l.pruneLocked(now)
		}
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.config.Window)}
		return Decision{Allowed: true, Remaining: l.config.Requests - 1}
	}

	if w.count >= l.config.Requests {
		return Decision{Allowed: false, RetryAfter: ceilSeconds(w.resetAt.Sub(now))}
	}
	w.count++
	return Decision{Allowed: true, Remaining: l.config.Requests - w.count}
}

// reset clears the window for key.
func (l *Limiter) reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// pruneLocked drops expired windows (must be called with lock held).
func (l *Limiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}
