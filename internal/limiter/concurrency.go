package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyConfig holds tuning knobs for the adaptive concurrency limiter.
type ConcurrencyConfig struct {
	MaxConcurrency int // Upper bound on in-flight requests (default: 4)
	MinConcurrency int // Floor the pool never shrinks below (default: 1)

	// RestoreThreshold is the consecutive-success run length required to
	// grow the pool by one after a reduction. Zero means "same as
	// MaxConcurrency", which makes restoration roughly one full pool
	// rotation of clean requests.
	RestoreThreshold int

	// ServerErrorThreshold is how many consecutive server errors are
	// tolerated before the pool shrinks. Single transient 5xx responses
	// should not cost capacity. Default: 3.
	ServerErrorThreshold int

	Rate RateLimiterConfig // Configuration for the wrapped rate limiter
}

// DefaultConcurrencyConfig returns the default concurrency configuration.
func DefaultConcurrencyConfig() ConcurrencyConfig {
	return ConcurrencyConfig{
		MaxConcurrency:       4,
		MinConcurrency:       1,
		ServerErrorThreshold: 3,
		Rate:                 DefaultRateLimiterConfig(),
	}
}

// ConcurrencyLimiter bounds the number of simultaneously in-flight requests
// and adapts that bound to the health signals reported by workers.
//
// Slots are backed by a weighted semaphore sized at MaxConcurrency. Shrinking
// the pool claims "ghost" permits that no worker can use; growing releases
// them. When every permit is busy at shrink time the reduction is recorded as
// debt and settled on the next Release, so activeTasks never exceeds the
// current bound for longer than the requests that were already in flight.
//
// A rate-limit or server-error report also pauses the limiter: no worker may
// acquire a new slot until the resume deadline passes. Workers already
// holding slots are unaffected.
type ConcurrencyLimiter struct {
	cfg  ConcurrencyConfig
	rate *RateLimiter
	sem  *semaphore.Weighted

	mu                      sync.Mutex
	currentConcurrency      int
	activeTasks             int
	pausedUntil             time.Time
	ghostPermits            int // Permits held to enforce a reduced bound
	shrinkDebt              int // Reductions waiting for a Release to settle
	consecutiveServerErrors int
	successesSinceReduction int
}

// NewConcurrencyLimiter creates a concurrency limiter with its own rate
// limiter built from cfg.Rate. Zero-valued fields fall back to defaults.
func NewConcurrencyLimiter(cfg ConcurrencyConfig) *ConcurrencyLimiter {
	return NewConcurrencyLimiterWithRate(cfg, nil)
}

// NewConcurrencyLimiterWithRate creates a concurrency limiter sharing the
// given rate limiter. Passing nil builds one from cfg.Rate.
func NewConcurrencyLimiterWithRate(cfg ConcurrencyConfig, rl *RateLimiter) *ConcurrencyLimiter {
	def := DefaultConcurrencyConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.MinConcurrency <= 0 {
		cfg.MinConcurrency = def.MinConcurrency
	}
	if cfg.MinConcurrency > cfg.MaxConcurrency {
		cfg.MinConcurrency = cfg.MaxConcurrency
	}
	if cfg.RestoreThreshold <= 0 {
		cfg.RestoreThreshold = cfg.MaxConcurrency
	}
	if cfg.ServerErrorThreshold <= 0 {
		cfg.ServerErrorThreshold = def.ServerErrorThreshold
	}
	if rl == nil {
		rl = NewRateLimiter(cfg.Rate)
	}

	return &ConcurrencyLimiter{
		cfg:                cfg,
		rate:               rl,
		sem:                semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		currentConcurrency: cfg.MaxConcurrency,
	}
}

// Acquire blocks until a slot is free and the limiter is not paused, or
// until ctx is cancelled. A cancelled caller never consumes a slot.
func (c *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	for {
		if err := c.waitForResume(ctx); err != nil {
			return err
		}
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}

		// A pause may have begun while we waited for the slot. Give the
		// permit back and wait out the pause rather than sneaking a
		// request through.
		c.mu.Lock()
		if time.Now().Before(c.pausedUntil) {
			c.mu.Unlock()
			c.sem.Release(1)
			continue
		}
		c.activeTasks++
		c.mu.Unlock()
		return nil
	}
}

// Release returns a slot. Must be called exactly once per successful
// Acquire, on every exit path including error and cancellation.
func (c *ConcurrencyLimiter) Release() {
	c.mu.Lock()
	c.activeTasks--
	if c.shrinkDebt > 0 {
		// Settle a pending reduction: the permit becomes a ghost
		// instead of returning to the pool.
		c.shrinkDebt--
		c.ghostPermits++
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.sem.Release(1)
}

// WaitIfNeeded delegates to the wrapped rate limiter's inter-request gate.
func (c *ConcurrencyLimiter) WaitIfNeeded(ctx context.Context) error {
	return c.rate.WaitIfNeeded(ctx)
}

// RecordSuccess reports a successful request. A sustained run of successes
// after a reduction grows the pool by one, up to the configured maximum.
func (c *ConcurrencyLimiter) RecordSuccess() {
	c.rate.RecordSuccess()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveServerErrors = 0
	c.successesSinceReduction++
	if c.currentConcurrency < c.cfg.MaxConcurrency &&
		c.successesSinceReduction >= c.cfg.RestoreThreshold {
		c.currentConcurrency++
		c.successesSinceReduction = 0
		if c.ghostPermits > 0 {
			c.ghostPermits--
			c.sem.Release(1)
		} else {
			// The reduction never settled; cancel the debt instead.
			c.shrinkDebt--
		}
	}
}

// RecordRateLimit reports a 429 from the API. The pool shrinks by one, all
// acquisition pauses for the computed wait, and the wait is returned so the
// caller can log it.
func (c *ConcurrencyLimiter) RecordRateLimit(retryAfter time.Duration) time.Duration {
	wait := c.rate.RecordFailure(retryAfter, false)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.shrinkLocked()
	c.pauseLocked(wait)
	return wait
}

// RecordServerError reports a 5xx from the API. Acquisition pauses for the
// computed wait, but the pool only shrinks once the consecutive server error
// count reaches the threshold.
func (c *ConcurrencyLimiter) RecordServerError() time.Duration {
	wait := c.rate.RecordFailure(0, true)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveServerErrors++
	if c.consecutiveServerErrors >= c.cfg.ServerErrorThreshold {
		c.shrinkLocked()
	}
	c.pauseLocked(wait)
	return wait
}

// ShouldGiveUp reports whether the shared failure streak has reached the
// global ceiling. This reflects batch-wide health, not any single item's
// retry budget.
func (c *ConcurrencyLimiter) ShouldGiveUp() bool {
	return c.rate.ShouldGiveUp()
}

// IsPaused reports whether acquisition is currently halted.
func (c *ConcurrencyLimiter) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.pausedUntil)
}

// CurrentConcurrency returns the current pool bound.
func (c *ConcurrencyLimiter) CurrentConcurrency() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentConcurrency
}

// ActiveTasks returns the number of slots currently held.
func (c *ConcurrencyLimiter) ActiveTasks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeTasks
}

// Rate exposes the wrapped rate limiter for inspection.
func (c *ConcurrencyLimiter) Rate() *RateLimiter {
	return c.rate
}

// shrinkLocked reduces the pool bound by one, floored at MinConcurrency.
// Caller must hold c.mu.
func (c *ConcurrencyLimiter) shrinkLocked() {
	if c.currentConcurrency <= c.cfg.MinConcurrency {
		return
	}
	c.currentConcurrency--
	c.successesSinceReduction = 0
	if c.sem.TryAcquire(1) {
		c.ghostPermits++
	} else {
		// Every permit is in flight; settle on the next Release.
		c.shrinkDebt++
	}
}

// pauseLocked extends the resume deadline. Caller must hold c.mu.
func (c *ConcurrencyLimiter) pauseLocked(wait time.Duration) {
	until := time.Now().Add(wait)
	if until.After(c.pausedUntil) {
		c.pausedUntil = until
	}
}

// waitForResume blocks until any active pause has elapsed. The deadline is
// re-read on wake because another worker may have extended it.
func (c *ConcurrencyLimiter) waitForResume(ctx context.Context) error {
	for {
		c.mu.Lock()
		remaining := time.Until(c.pausedUntil)
		c.mu.Unlock()

		if remaining <= 0 {
			return nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
