// Package limiter implements the adaptive rate and concurrency control for
// batch annotation runs.
//
// The two limiters are the only shared mutable state in a batch: every
// worker feeds request outcomes into them, and they decide how long to wait
// before the next request and how many requests may be in flight at once.
package limiter

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig holds tuning knobs for the adaptive rate limiter.
type RateLimiterConfig struct {
	MinDelay time.Duration // Minimum delay between requests (default: 1s)
	MaxDelay time.Duration // Maximum delay between requests (default: 5m)

	BaseBackoff        float64 // Base for exponential backoff (default: 2.0)
	MaxBackoffAttempts int     // Consecutive failures before giving up (default: 8)
	JitterFactor       float64 // Random jitter as fraction of the delay (default: 0.25)

	ErrorWindow    int     // Recent outcomes to track for adaptive throttling (default: 10)
	ErrorThreshold float64 // Error rate that triggers extra throttling (default: 0.3)
}

// DefaultRateLimiterConfig returns the default rate limiter configuration.
// The 1-second floor between requests follows the API provider's guidance.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MinDelay:           1 * time.Second,
		MaxDelay:           5 * time.Minute,
		BaseBackoff:        2.0,
		MaxBackoffAttempts: 8,
		JitterFactor:       0.25,
		ErrorWindow:        10,
		ErrorThreshold:     0.3,
	}
}

// RateLimiter is a process-wide adaptive delay tracker.
//
// All workers in a batch share one instance and report every request outcome
// to it. State mutations are serialized behind a single mutex so the
// currentDelay and consecutiveFailures invariants hold under concurrent use.
// The actual inter-request spacing is enforced by a token-bucket pacer whose
// refill interval tracks the current adaptive delay.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu                  sync.Mutex
	consecutiveFailures int
	currentDelay        time.Duration
	recent              []bool // Sliding window of outcomes, oldest first

	pacer *rate.Limiter
}

// NewRateLimiter creates a rate limiter with the given configuration.
// Zero-valued fields fall back to defaults.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = def.MinDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoffAttempts <= 0 {
		cfg.MaxBackoffAttempts = def.MaxBackoffAttempts
	}
	if cfg.JitterFactor <= 0 {
		cfg.JitterFactor = def.JitterFactor
	}
	if cfg.ErrorWindow <= 0 {
		cfg.ErrorWindow = def.ErrorWindow
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = def.ErrorThreshold
	}

	return &RateLimiter{
		cfg:          cfg,
		currentDelay: cfg.MinDelay,
		pacer:        rate.NewLimiter(rate.Every(cfg.MinDelay), 1),
	}
}

// RecordSuccess records a successful request and relaxes throttling.
// The consecutive failure counter resets and the current delay decays
// toward the minimum.
func (r *RateLimiter) RecordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveFailures = 0
	r.currentDelay = time.Duration(float64(r.currentDelay) * 0.9)
	if r.currentDelay < r.cfg.MinDelay {
		r.currentDelay = r.cfg.MinDelay
	}
	r.addResult(true)
}

// RecordFailure records a failed request and returns the recommended wait.
//
// A server-provided retryAfter hint takes precedence: the wait is the hint
// plus a 10% buffer, and the current delay is raised to at least that value.
// Otherwise the wait is exponential in the consecutive failure count, with
// a halved exponent for server errors (they tend to resolve faster than
// hard rate limits) and symmetric random jitter to desynchronize workers.
func (r *RateLimiter) RecordFailure(retryAfter time.Duration, serverError bool) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveFailures++
	r.addResult(false)

	if retryAfter > 0 {
		wait := time.Duration(float64(retryAfter) * 1.1)
		if r.currentDelay < wait {
			r.currentDelay = wait
		}
		return wait
	}

	exponent := float64(min(r.consecutiveFailures, r.cfg.MaxBackoffAttempts))
	if serverError {
		exponent *= 0.5
	}
	base := time.Duration(math.Pow(r.cfg.BaseBackoff, exponent) * float64(time.Second))

	jitter := time.Duration(float64(base) * r.cfg.JitterFactor * (2*rand.Float64() - 1))
	wait := base + jitter
	if wait > r.cfg.MaxDelay {
		wait = r.cfg.MaxDelay
	}
	if wait < r.cfg.MinDelay {
		wait = r.cfg.MinDelay
	}

	if r.currentDelay < wait {
		r.currentDelay = wait
	}
	return wait
}

// ShouldGiveUp reports whether the whole batch should stop issuing requests.
//
// This is a global health signal: any worker's success resets it. Per-item
// retry exhaustion is tracked by each item's own attempt counter, never by
// this method.
func (r *RateLimiter) ShouldGiveUp() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveFailures >= r.cfg.MaxBackoffAttempts
}

// WaitIfNeeded blocks until the inter-request delay has elapsed, or until
// ctx is cancelled.
//
// On top of the backoff-driven delay, the wait scales up when the recent
// outcome window shows an error rate above the threshold. The window reacts
// faster than the consecutive-failure counter, which any single success
// resets.
func (r *RateLimiter) WaitIfNeeded(ctx context.Context) error {
	r.mu.Lock()
	delay := r.currentDelay
	if errRate := r.errorRate(); errRate > r.cfg.ErrorThreshold {
		delay = time.Duration(float64(delay) * (1 + errRate))
	}
	if delay > r.cfg.MaxDelay {
		delay = r.cfg.MaxDelay
	}
	r.pacer.SetLimit(rate.Every(delay))
	r.mu.Unlock()

	return r.pacer.Wait(ctx)
}

// ConsecutiveFailures returns the current global failure streak.
func (r *RateLimiter) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveFailures
}

// CurrentDelay returns the current adaptive delay between requests.
func (r *RateLimiter) CurrentDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentDelay
}

// ErrorRate returns the failure fraction over the recent outcome window.
func (r *RateLimiter) ErrorRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorRate()
}

// addResult appends an outcome to the window, evicting the oldest entry
// once capacity is reached. Caller must hold r.mu.
func (r *RateLimiter) addResult(success bool) {
	r.recent = append(r.recent, success)
	if len(r.recent) > r.cfg.ErrorWindow {
		r.recent = r.recent[1:]
	}
}

// errorRate computes the failure fraction of the window. Caller must hold r.mu.
func (r *RateLimiter) errorRate() float64 {
	if len(r.recent) == 0 {
		return 0
	}
	failures := 0
	for _, ok := range r.recent {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(r.recent))
}
