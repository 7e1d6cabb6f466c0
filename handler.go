package runcore

import (
	"context"
	"time"
)

// CommandFunc adapts a function to Commander[T].
type CommandFunc[T any] func(ctx context.Context, msg T) error

func (f CommandFunc[T]) Execute(ctx context.Context, msg T) error {
	return f(ctx, msg)
}

// Commander handles a message for its side effects, such as launching a run.
type Commander[T any] interface {
	Execute(ctx context.Context, msg T) error
}

// QueryFunc adapts a function to Querier[T, R].
type QueryFunc[T any, R any] func(ctx context.Context, msg T) (R, error)

func (f QueryFunc[T, R]) Query(ctx context.Context, msg T) (R, error) {
	return f(ctx, msg)
}

// Querier answers a message without side effects.
type Querier[T any, R any] interface {
	Query(ctx context.Context, msg T) (R, error)
}

// HandlerConfig tunes how a scheduled handler is run. Zero values mean no
// limit.
type HandlerConfig struct {
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	Deadline   time.Time     `json:"deadline" yaml:"deadline"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	MaxRuns    int           `json:"max_runs" yaml:"max_runs"`
	RunOnce    bool          `json:"run_once" yaml:"run_once"`
	Expression string        `json:"expression" yaml:"expression"`
	NoTimeout  bool          `json:"no_timeout" yaml:"no_timeout"`
}
