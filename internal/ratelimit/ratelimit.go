// Package ratelimit throttles request volume per identifier with a fixed
// window counter that restarts on the first request after expiry.
//
// Counters live in process memory. Under a multi-process deployment every
// process counts on its own, so the effective ceiling is max × processes;
// the limiter deters abuse and is not a global quota.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/clock"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/observability"
)

const (
	DefaultWindow        = 60 * time.Second
	DefaultTokenMax      = 100
	DefaultAddrMax       = 200
	DefaultSweepInterval = 5 * time.Minute
)

// Identifier classes. Token and address ceilings are independent policies.
const (
	ClassToken = "token"
	ClassAddr  = "addr"
)

type Config struct {
	Window        time.Duration
	TokenMax      int
	AddrMax       int
	SweepInterval time.Duration
	// Grace is how long past its window an idle entry survives a sweep.
	Grace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.TokenMax <= 0 {
		c.TokenMax = DefaultTokenMax
	}
	if c.AddrMax <= 0 {
		c.AddrMax = DefaultAddrMax
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Grace <= 0 {
		c.Grace = c.Window
	}
	return c
}

type entry struct {
	count   int
	resetAt time.Time
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter is constructed once per process and shared by handlers.
type Limiter struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Limiter {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		cfg:     cfg.withDefaults(),
		clock:   clk,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

func (l *Limiter) Config() Config { return l.cfg }

// Check counts one request for id and decides whether it is allowed.
func (l *Limiter) Check(id string, limit int) Decision {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		e = &entry{count: 1, resetAt: now.Add(l.cfg.Window)}
		l.entries[id] = e
		return Decision{Allowed: true, Count: 1, Limit: limit, ResetAt: e.resetAt}
	}
	if now.After(e.resetAt) {
		e.count = 1
		e.resetAt = now.Add(l.cfg.Window)
		return Decision{Allowed: true, Count: 1, Limit: limit, ResetAt: e.resetAt}
	}

	e.count++
	d := Decision{Allowed: e.count <= limit, Count: e.count, Limit: limit, ResetAt: e.resetAt}
	if !d.Allowed {
		d.RetryAfter = e.resetAt.Sub(now)
	}
	return d
}

// CheckToken applies the per-token ceiling.
func (l *Limiter) CheckToken(token string) Decision {
	d := l.Check(ClassToken+":"+token, l.cfg.TokenMax)
	if !d.Allowed {
		observability.RateLimitDenied.WithLabelValues(ClassToken).Inc()
	}
	return d
}

// CheckAddr applies the per-address ceiling for unauthenticated callers.
func (l *Limiter) CheckAddr(addr string) Decision {
	d := l.Check(ClassAddr+":"+addr, l.cfg.AddrMax)
	if !d.Allowed {
		observability.RateLimitDenied.WithLabelValues(ClassAddr).Inc()
	}
	return d
}

// Sweep drops entries whose window ended more than Grace ago.
func (l *Limiter) Sweep() int {
	cutoff := l.clock.Now().Add(-l.cfg.Grace)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, e := range l.entries {
		if e.resetAt.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	observability.RateLimitEntries.Set(float64(len(l.entries)))
	return removed
}

// Len returns the number of tracked identifiers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Run sweeps every SweepInterval until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	t := time.NewTicker(l.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("rate limit sweep", "removed", n)
			}
		}
	}
}
