// Package annotate drives the concurrent batch annotation run: one retry
// loop per image, all sharing one adaptive concurrency limiter, joined by a
// coordinator that survives partial failure and cooperative cancellation.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riposte-app/riposte-cli/internal/ai"
	"github.com/riposte-app/riposte-cli/internal/hashing"
	"github.com/riposte-app/riposte-cli/internal/limiter"
	"github.com/riposte-app/riposte-cli/internal/sidecar"
	"github.com/riposte-app/riposte-cli/internal/types"
)

// Options configures a batch run.
type Options struct {
	MaxAttempts         int    // Attempt budget per item (default: 5)
	MaxMalformedRetries int    // Extra tries after unparseable responses (default: 2)
	OutputDir           string // Sidecar destination; empty means next to each image
	PrimaryLanguage     string // Stamped into every sidecar
	AppVersion          string // Stamped into every sidecar

	// OnItemDone, when set, is invoked once per item as it reaches a
	// terminal state. Calls are serialized; the CLI uses this for
	// per-image progress lines.
	OnItemDone func(item *types.WorkItem, wait time.Duration)

	// OnBackoff, when set, is invoked when an item backs off after a
	// retryable failure, with the wait the limiter imposed.
	OnBackoff func(item *types.WorkItem, kind ai.ErrorKind, wait time.Duration)
}

// Runner coordinates one batch. The analyzer and limiter are shared by all
// items; everything per-item lives in its own WorkItem.
type Runner struct {
	analyzer ai.Analyzer
	limiter  *limiter.ConcurrencyLimiter
	opts     Options

	mu      sync.Mutex // Serializes callbacks and the auth abort
	authErr error
}

// NewRunner creates a batch runner.
func NewRunner(analyzer ai.Analyzer, cl *limiter.ConcurrencyLimiter, opts Options) *Runner {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.MaxMalformedRetries <= 0 {
		opts.MaxMalformedRetries = 2
	}
	return &Runner{analyzer: analyzer, limiter: cl, opts: opts}
}

// Run fans out one goroutine per image and joins them all before returning.
//
// Cancelling ctx stops items that have not begun their first attempt;
// attempts already in flight finish their current request. The summary
// always accounts for every image, partitioned into succeeded, failed, and
// not-started.
func (r *Runner) Run(ctx context.Context, images []string) *types.BatchSummary {
	start := time.Now()
	batchCtx, cancelBatch := context.WithCancel(ctx)
	defer cancelBatch()

	items := make([]*types.WorkItem, len(images))
	var wg sync.WaitGroup
	for i, path := range images {
		items[i] = types.NewWorkItem(path)
		wg.Add(1)
		go func(item *types.WorkItem) {
			defer wg.Done()
			r.processItem(batchCtx, item, cancelBatch)
			r.notifyDone(item)
		}(items[i])
	}
	wg.Wait()

	summary := &types.BatchSummary{
		RunID:       uuid.NewString(),
		Interrupted: ctx.Err() != nil,
		AuthFailure: r.authError(),
		Elapsed:     time.Since(start),
	}
	for _, item := range items {
		switch item.Status {
		case types.StatusSucceeded:
			summary.Succeeded = append(summary.Succeeded, item)
		case types.StatusFailed:
			summary.Failed = append(summary.Failed, item)
		default:
			// Cancelled before finishing: a rerun with --continue
			// picks these up because no sidecar exists for them.
			summary.NotStarted = append(summary.NotStarted, item)
		}
	}
	return summary
}

// processItem runs the bounded attempt loop for one image.
//
// Retry exhaustion is decided solely by the item's own attempt counter.
// The shared limiter's global failure streak can be reset at any moment by
// another worker's success, so tying item fate to it would make outcomes
// depend on neighbors' luck.
func (r *Runner) processItem(ctx context.Context, item *types.WorkItem, abortBatch context.CancelFunc) {
	malformed := 0

	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			item.Status = types.StatusCancelled
			return
		}
		item.Attempts = attempt

		err := r.attempt(ctx, item)
		if err == nil {
			item.Status = types.StatusSucceeded
			return
		}
		item.LastErr = err

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			item.Status = types.StatusCancelled
			return
		}

		var apiErr *ai.APIError
		if !errors.As(err, &apiErr) {
			// Local failures (unreadable file, sidecar write) are not
			// the API's fault; retrying won't help.
			item.Status = types.StatusFailed
			return
		}

		switch apiErr.Kind {
		case ai.KindAuth:
			// Bad credentials sink every request; stop the batch
			// before more workers burn attempts on it.
			r.recordAuthFailure(apiErr)
			abortBatch()
			item.Status = types.StatusFailed
			return

		case ai.KindRateLimit:
			wait := r.limiter.RecordRateLimit(apiErr.RetryAfter)
			r.notifyBackoff(item, apiErr.Kind, wait)

		case ai.KindServer:
			wait := r.limiter.RecordServerError()
			r.notifyBackoff(item, apiErr.Kind, wait)

		case ai.KindMalformed:
			malformed++
			if malformed > r.opts.MaxMalformedRetries {
				item.Status = types.StatusFailed
				return
			}
			r.notifyBackoff(item, apiErr.Kind, 0)

		default:
			item.Status = types.StatusFailed
			return
		}
	}

	// Attempt budget exhausted; the last error stays on the item for the
	// final report.
	item.Status = types.StatusFailed
}

// attempt performs one acquire-call-release cycle and, on success, writes
// the sidecar.
func (r *Runner) attempt(ctx context.Context, item *types.WorkItem) error {
	annotation, err := func() (*types.Annotation, error) {
		if err := r.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		defer r.limiter.Release()

		if err := r.limiter.WaitIfNeeded(ctx); err != nil {
			return nil, err
		}

		// An interrupt must not abort a request mid-flight; the client
		// still applies its own per-request timeout.
		return r.analyzer.AnalyzeImage(context.WithoutCancel(ctx), item.Path)
	}()
	if err != nil {
		return err
	}

	r.limiter.RecordSuccess()

	contentHash, err := hashing.ContentHash(item.Path)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", item.Path, err)
	}
	meta := sidecar.Build(annotation, sidecar.BuildOptions{
		PrimaryLanguage: r.opts.PrimaryLanguage,
		ContentHash:     contentHash,
		AppVersion:      r.opts.AppVersion,
	})
	path, err := sidecar.Write(item.Path, meta, r.opts.OutputDir)
	if err != nil {
		return err
	}
	item.SidecarPath = path
	return nil
}

func (r *Runner) recordAuthFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.authErr == nil {
		r.authErr = err
	}
}

func (r *Runner) authError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authErr
}

func (r *Runner) notifyDone(item *types.WorkItem) {
	if r.opts.OnItemDone == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.OnItemDone(item, 0)
}

func (r *Runner) notifyBackoff(item *types.WorkItem, kind ai.ErrorKind, wait time.Duration) {
	if r.opts.OnBackoff == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.OnBackoff(item, kind, wait)
}
