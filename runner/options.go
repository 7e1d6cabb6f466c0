package runner

import (
	"time"

	"github.com/goliatone/go-runcore"
)

type Option func(*Handler)

func WithTimeout(t time.Duration) Option {
	return func(r *Handler) {
		r.timeout = t
	}
}

func WithDeadline(d time.Time) Option {
	return func(r *Handler) {
		r.deadline = d
	}
}

func WithRunOnce(once bool) Option {
	return func(r *Handler) {
		r.runOnce = once
	}
}

func WithMaxRetries(max int) Option {
	return func(r *Handler) {
		r.maxRetries = max
	}
}

func WithMaxRuns(max int) Option {
	return func(r *Handler) {
		r.maxRuns = max
	}
}

func WithErrorHandler(h func(error)) Option {
	return func(r *Handler) {
		if h == nil {
			h = func(err error) {}
		}
		r.errorHandler = h
	}
}

func WithLogger(l runcore.Logger) Option {
	return func(r *Handler) {
		r.logger = l
	}
}

func WithDoneHandler(d func(*Handler)) Option {
	return func(r *Handler) {
		if d == nil {
			d = func(r *Handler) {}
		}
		r.doneHandler = d
	}
}

// WithRetryStrategy lets you define a custom retry/backoff approach
func WithRetryStrategy(s RetryStrategy) Option {
	return func(r *Handler) {
		r.retryStrategy = s
	}
}

// WithRetryable filters which errors are worth another attempt.
func WithRetryable(fn func(error) bool) Option {
	return func(r *Handler) {
		r.retryable = fn
	}
}

// WithLabel names the handler in logs and errors.
func WithLabel(label string) Option {
	return func(r *Handler) {
		r.label = label
	}
}

// FromConfig maps a HandlerConfig onto options.
func FromConfig(cfg runcore.HandlerConfig) []Option {
	opts := []Option{
		WithMaxRetries(cfg.MaxRetries),
		WithMaxRuns(cfg.MaxRuns),
		WithRunOnce(cfg.RunOnce),
	}
	if !cfg.NoTimeout {
		opts = append(opts, WithTimeout(cfg.Timeout), WithDeadline(cfg.Deadline))
	}
	return opts
}
