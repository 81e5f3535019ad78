// Package sanity guards the run against transparent DNS interception.
package sanity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrInterceptionSuspected means the resolver collapses distinct hosts onto fewer addresses.
	ErrInterceptionSuspected = errors.New("dns interception suspected")
	// ErrLookupFailed means a panel host did not resolve. It fails the item, not the run.
	ErrLookupFailed = errors.New("sanity lookup failed")
)

// DefaultHosts is the panel of well-known names expected to resolve to distinct addresses.
var DefaultHosts = []string{
	"twitter.com",
	"facebook.com",
	"youtube.com",
	"microsoft.com",
	"icanhas.cheezburger.com",
	"archiveteam.org",
}

// DefaultInterval is the number of items skipped between full checks.
const DefaultInterval = 10

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Checker runs the DNS panel on a decaying counter shared by all worker loops.
type Checker struct {
	resolver Resolver
	hosts    []string
	interval int
	logger   *zap.Logger

	mu      sync.Mutex
	counter int
}

// Option configures a Checker.
type Option func(*Checker)

// WithResolver replaces the system resolver.
func WithResolver(r Resolver) Option {
	return func(c *Checker) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithHosts replaces the resolution panel.
func WithHosts(hosts []string) Option {
	return func(c *Checker) {
		if len(hosts) > 0 {
			c.hosts = append([]string(nil), hosts...)
		}
	}
}

// WithInterval sets how many items pass between checks.
func WithInterval(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.interval = n
		}
	}
}

// New returns a Checker that probes on its first call.
func New(logger *zap.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Checker{
		resolver: net.DefaultResolver,
		hosts:    DefaultHosts,
		interval: DefaultInterval,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check probes the panel when the counter has run down, then rearms or decrements it.
// A failed probe leaves the counter untouched so the next item probes again.
func (c *Checker) Check(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counter <= 0 {
		if err := c.probe(ctx); err != nil {
			return err
		}
	}
	if c.counter <= 0 {
		c.counter = c.interval
	} else {
		c.counter--
	}
	return nil
}

// Probe resolves the panel unconditionally.
func (c *Checker) Probe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probe(ctx)
}

func (c *Checker) probe(ctx context.Context) error {
	seen := make(map[string]struct{}, len(c.hosts))
	for _, host := range c.hosts {
		addrs, err := c.resolver.LookupHost(ctx, host)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("resolve %s: %w", host, ctx.Err())
			}
			c.logger.Warn("sanity lookup failed", zap.String("host", host), zap.Error(err))
			return fmt.Errorf("%w: resolve %s: %w", ErrLookupFailed, host, err)
		}
		if len(addrs) > 0 {
			seen[addrs[0]] = struct{}{}
		}
	}
	if len(seen) < len(c.hosts) {
		c.logger.Error("dns panel collapsed",
			zap.Int("distinct", len(seen)), zap.Int("hosts", len(c.hosts)))
		return fmt.Errorf("%w: %d distinct addresses for %d hosts",
			ErrInterceptionSuspected, len(seen), len(c.hosts))
	}
	c.logger.Debug("dns panel ok", zap.Int("distinct", len(seen)))
	return nil
}
