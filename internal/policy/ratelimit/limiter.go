// Package ratelimit paces outbound calls with one token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	holds        map[string]time.Time
	// OnDelay, when set, sees every wait longer than a millisecond.
	OnDelay func(host string, d time.Duration)
}

// Config holds rate limiter configuration.
type Config struct {
	// Interval is the minimum spacing between calls to one host; zero disables pacing.
	Interval time.Duration
	Burst    int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Inf
	if cfg.Interval > 0 {
		r = rate.Every(cfg.Interval)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		holds:        make(map[string]time.Time),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	l.mu.Lock()
	limiter := l.limiterFor(host)
	hold := l.holds[host]
	onDelay := l.OnDelay
	l.mu.Unlock()

	start := time.Now()
	if d := time.Until(hold); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond && onDelay != nil {
		onDelay(host, d)
	}
	return nil
}

// Penalize holds every call to the URL's host for d, used when the remote asks us to slow down.
func (l *Limiter) Penalize(rawURL string, d time.Duration) {
	host := hostOf(rawURL)
	l.mu.Lock()
	defer l.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(l.holds[host]) {
		l.holds[host] = until
	}
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Hostname()
	}
	return "unknown"
}
