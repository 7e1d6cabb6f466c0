package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-runcore"
)

// Handler runs a function with timeout, deadline, retry and run-count policies.
// A Handler is safe for concurrent use.
type Handler struct {
	mu sync.Mutex

	label         string
	logger        runcore.Logger
	errorHandler  func(error)
	doneHandler   func(r *Handler)
	retryStrategy RetryStrategy
	retryable     func(error) bool

	EntryID        int
	runs           int
	successfulRuns int

	maxRuns    int
	maxRetries int
	timeout    time.Duration
	deadline   time.Time
	runOnce    bool
}

// NewHandler constructs a Handler from various options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	r := &Handler{
		label:         "runner",
		errorHandler:  func(error) {},
		doneHandler:   func(*Handler) {},
		retryStrategy: NoDelayStrategy{},
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	r.logger = runcore.NormalizeLogger(r.logger)
	return r
}

// Run invokes fn, retrying failed attempts per the handler policy, and returns
// the error of the last attempt. It returns nil without calling fn once the
// run limits are reached.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	h.mu.Lock()

	if h.runOnce && h.successfulRuns >= 1 {
		h.mu.Unlock()
		return nil
	}

	if h.successfulRuns >= h.maxRuns && h.maxRuns > 0 {
		h.mu.Unlock()
		return nil
	}

	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	retryable := h.retryable
	h.mu.Unlock()

	ctx, cancel := h.contextWithSettings(ctx)
	defer cancel()

	var err error
	attempts := 0
retry:
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		err = h.attempt(ctx, fn)
		if err == nil {
			break
		}
		if attempt >= maxRetries || ctx.Err() != nil {
			break
		}
		if retryable != nil && !retryable(err) {
			break
		}

		decision := DecideRetry(strategy, attempt, err)
		if !decision.ShouldRetry {
			break
		}

		h.logger.Error("%s failed, attempt %d of %d: %v", h.label, attempt+1, maxRetries+1, err)
		h.handleError(runcore.WrapError(
			"Run Failed",
			fmt.Sprintf("%s failed, attempt %d of %d", h.label, attempt+1, maxRetries+1),
			err,
		))

		if decision.Delay > 0 {
			timer := time.NewTimer(decision.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				break retry
			case <-timer.C:
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs++

	if err == nil {
		h.successfulRuns++
	} else {
		err = runcore.WrapError(
			"Run Failed",
			fmt.Sprintf("%s failed after %d attempts", h.label, attempts),
			err,
		)
		h.handleError(err)
	}

	if h.maxRuns > 0 && h.successfulRuns >= h.maxRuns {
		h.done()
	}
	return err
}

func (h *Handler) attempt(ctx context.Context, fn func(context.Context) error) (err error) {
	defer runcore.RecoverPanic(h.label, &err, nil)
	return fn(ctx)
}

// Runs returns the total and successful run counts.
func (h *Handler) Runs() (total, successful int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs, h.successfulRuns
}

func (h *Handler) handleError(err error) {
	h.errorHandler(err)
}

func (h *Handler) done() {
	h.doneHandler(h)
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout != 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout != 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}

// RunCommand executes c with msg under h.
func RunCommand[T any](ctx context.Context, h *Handler, c runcore.Commander[T], msg T) error {
	return h.Run(ctx, func(ctx context.Context) error {
		return c.Execute(ctx, msg)
	})
}

// RunQuery executes q with msg under h and returns the last successful result.
func RunQuery[T any, R any](ctx context.Context, h *Handler, q runcore.Querier[T, R], msg T) (R, error) {
	return Do(ctx, h, func(ctx context.Context) (R, error) {
		return q.Query(ctx, msg)
	})
}

// Do runs fn under h and returns its result.
func Do[R any](ctx context.Context, h *Handler, fn func(context.Context) (R, error)) (R, error) {
	var result R
	err := h.Run(ctx, func(ctx context.Context) error {
		res, err := fn(ctx)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}
