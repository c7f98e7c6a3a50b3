package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRate returns a rate limiter with millisecond-scale delays so pause
// behavior can be exercised without slowing the suite down.
func fastRate() *RateLimiter {
	return NewRateLimiter(RateLimiterConfig{
		MinDelay: 5 * time.Millisecond,
		MaxDelay: 50 * time.Millisecond,
	})
}

func TestConcurrencyLimiterInitialState(t *testing.T) {
	cl := NewConcurrencyLimiter(ConcurrencyConfig{MaxConcurrency: 4, MinConcurrency: 1})

	assert.Equal(t, 4, cl.CurrentConcurrency())
	assert.Equal(t, 0, cl.ActiveTasks())
	assert.False(t, cl.IsPaused())
	assert.False(t, cl.ShouldGiveUp())
}

func TestAcquireRelease(t *testing.T) {
	cl := NewConcurrencyLimiter(ConcurrencyConfig{MaxConcurrency: 4})

	require.NoError(t, cl.Acquire(context.Background()))
	assert.Equal(t, 1, cl.ActiveTasks())

	cl.Release()
	assert.Equal(t, 0, cl.ActiveTasks())
}

func TestSemaphoreLimitsConcurrency(t *testing.T) {
	cl := NewConcurrencyLimiter(ConcurrencyConfig{MaxConcurrency: 2})

	var inFlight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, cl.Acquire(context.Background()))
			defer cl.Release()

			n := atomic.AddInt64(&inFlight, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
	assert.Equal(t, 0, cl.ActiveTasks())
}

func TestRateLimitReducesConcurrency(t *testing.T) {
	cl := NewConcurrencyLimiterWithRate(
		ConcurrencyConfig{MaxConcurrency: 4, MinConcurrency: 1}, fastRate())

	cl.RecordRateLimit(5 * time.Millisecond)
	assert.Equal(t, 3, cl.CurrentConcurrency())

	cl.RecordRateLimit(5 * time.Millisecond)
	assert.Equal(t, 2, cl.CurrentConcurrency())
}

func TestConcurrencyDoesNotGoBelowMin(t *testing.T) {
	cl := NewConcurrencyLimiterWithRate(
		ConcurrencyConfig{MaxConcurrency: 2, MinConcurrency: 1}, fastRate())

	cl.RecordRateLimit(5 * time.Millisecond)
	assert.Equal(t, 1, cl.CurrentConcurrency())

	cl.RecordRateLimit(5 * time.Millisecond)
	assert.Equal(t, 1, cl.CurrentConcurrency()) // Stays at the floor
}

func TestConcurrencyRestoresOnSustainedSuccess(t *testing.T) {
	cl := NewConcurrencyLimiterWithRate(
		ConcurrencyConfig{MaxConcurrency: 4, MinConcurrency: 1, RestoreThreshold: 3},
		fastRate())

	cl.RecordRateLimit(5 * time.Millisecond)
	assert.Equal(t, 3, cl.CurrentConcurrency())

	// Two successes are not enough
	cl.RecordSuccess()
	cl.RecordSuccess()
	assert.Equal(t, 3, cl.CurrentConcurrency())

	// The third restores one slot
	cl.RecordSuccess()
	assert.Equal(t, 4, cl.CurrentConcurrency())

	// Never exceeds the maximum
	for i := 0; i < 10; i++ {
		cl.RecordSuccess()
	}
	assert.Equal(t, 4, cl.CurrentConcurrency())
}

func TestSuccessCounterResetsOnReduction(t *testing.T) {
	cl := NewConcurrencyLimiterWithRate(
		ConcurrencyConfig{MaxConcurrency: 4, MinConcurrency: 1, RestoreThreshold: 3},
		fastRate())

	cl.RecordRateLimit(5 * time.Millisecond)
	cl.RecordSuccess()
	cl.RecordSuccess()

	// A fresh reduction restarts the success run requirement
	cl.RecordRateLimit(5 * time.Millisecond)
	assert.Equal(t, 2, cl.CurrentConcurrency())

	cl.RecordSuccess()
	cl.RecordSuccess()
	assert.Equal(t, 2, cl.CurrentConcurrency())
	cl.RecordSuccess()
	assert.Equal(t, 3, cl.CurrentConcurrency())
}

func TestServerErrorReducesAfterThreshold(t *testing.T) {
	cl := NewConcurrencyLimiterWithRate(
		ConcurrencyConfig{MaxConcurrency: 4}, fastRate())

	// First two server errors keep capacity intact
	cl.RecordServerError()
	assert.Equal(t, 4, cl.CurrentConcurrency())
	cl.RecordServerError()
	assert.Equal(t, 4, cl.CurrentConcurrency())

	// The third in a row shrinks the pool
	cl.RecordServerError()
	assert.Equal(t, 3, cl.CurrentConcurrency())
}

func TestSuccessResetsServerErrorStreak(t *testing.T) {
	cl := NewConcurrencyLimiterWithRate(
		ConcurrencyConfig{MaxConcurrency: 4}, fastRate())

	cl.RecordServerError()
	cl.RecordServerError()
	cl.RecordSuccess()

	cl.RecordServerError()
	cl.RecordServerError()
	assert.Equal(t, 4, cl.CurrentConcurrency())
}

func TestRateLimitPausesAcquisition(t *testing.T) {
	cl := NewConcurrencyLimiterWithRate(
		ConcurrencyConfig{MaxConcurrency: 4}, fastRate())

	cl.RecordRateLimit(60 * time.Millisecond)
	assert.True(t, cl.IsPaused())

	start := time.Now()
	require.NoError(t, cl.Acquire(context.Background()))
	defer cl.Release()

	// Acquire had to wait out the pause (66ms with the 1.1 buffer)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.False(t, cl.IsPaused())
}

func TestShrinkDebtSettlesOnRelease(t *testing.T) {
	cl := NewConcurrencyLimiterWithRate(
		ConcurrencyConfig{MaxConcurrency: 2, MinConcurrency: 1}, fastRate())

	ctx := context.Background()
	require.NoError(t, cl.Acquire(ctx))
	require.NoError(t, cl.Acquire(ctx))
	assert.Equal(t, 2, cl.ActiveTasks())

	// Both permits are in flight; the reduction must wait for a release
	cl.RecordRateLimit(5 * time.Millisecond)
	assert.Equal(t, 1, cl.CurrentConcurrency())

	cl.Release()
	cl.Release()
	time.Sleep(20 * time.Millisecond) // Let the pause lapse

	// Only one slot may be taken now
	require.NoError(t, cl.Acquire(ctx))
	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.Error(t, cl.Acquire(cancelCtx))

	cl.Release()
	assert.Equal(t, 0, cl.ActiveTasks())
}

func TestCancellationDuringAcquireConsumesNoSlot(t *testing.T) {
	cl := NewConcurrencyLimiter(ConcurrencyConfig{MaxConcurrency: 1})

	require.NoError(t, cl.Acquire(context.Background()))
	assert.Equal(t, 1, cl.ActiveTasks())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- cl.Acquire(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-errCh
	require.ErrorIs(t, err, context.Canceled)

	// The original holder's slot is untouched
	assert.Equal(t, 1, cl.ActiveTasks())
	cl.Release()
	assert.Equal(t, 0, cl.ActiveTasks())
}

func TestCancellationWhilePaused(t *testing.T) {
	cl := NewConcurrencyLimiterWithRate(
		ConcurrencyConfig{MaxConcurrency: 2}, fastRate())

	cl.RecordRateLimit(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := cl.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, cl.ActiveTasks())
}
