// Package backend declares the strategy roles that turn a run into work on
// real infrastructure.
package backend

import (
	"context"
	"io"
	"time"

	"github.com/goliatone/go-runcore/model"
	"github.com/goliatone/go-runcore/registry"
)

// Runnable is the backend-agnostic description of a unit to launch.
type Runnable struct {
	RunID   string            `json:"run_id"`
	Runtime string            `json:"runtime"`
	// Action selects the framework variant, for example "job".
	Action       string            `json:"action"`
	Image        string            `json:"image"`
	Command      []string          `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	WorkingDir   string            `json:"working_dir,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	BackoffLimit int               `json:"backoff_limit,omitempty"`
	Timeout      time.Duration     `json:"timeout,omitempty"`
}

// Execution identifies a launched unit within its framework.
type Execution struct {
	ID        string `json:"id"`
	Framework string `json:"framework"`
}

// Status is the observed state of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the execution finished.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Observation is a point-in-time view of an execution.
type Observation struct {
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	ExitCode int            `json:"exit_code"`
	Details  map[string]any `json:"details,omitempty"`
}

// Builder merges function, task and draft run specs into the final run spec.
type Builder interface {
	registry.Keyed
	Build(ctx context.Context, fn *model.Function, task *model.Task, run *model.Run) (map[string]any, error)
}

// Runner translates a built run into a launchable unit.
type Runner interface {
	registry.Keyed
	Run(ctx context.Context, run *model.Run) (*Runnable, error)
}

// Runtime is the build and run facade of one runtime family.
type Runtime interface {
	registry.Keyed
	Build(ctx context.Context, fn *model.Function, task *model.Task, run *model.Run) (map[string]any, error)
	Run(ctx context.Context, run *model.Run) (*Runnable, error)
}

// Framework executes runnables against infrastructure. Frameworks are keyed
// platform+action.
type Framework interface {
	registry.Keyed
	Execute(ctx context.Context, unit *Runnable) (Execution, error)
	Inspect(ctx context.Context, exec Execution) (Observation, error)
}

// LogReader is implemented by frameworks that expose execution output.
type LogReader interface {
	Logs(ctx context.Context, exec Execution) (io.ReadCloser, error)
}

// Canceler is implemented by frameworks that can abort an execution.
type Canceler interface {
	Cancel(ctx context.Context, exec Execution) error
}

// Cleaner is implemented by frameworks that hold resources after an
// execution ends.
type Cleaner interface {
	Cleanup(ctx context.Context, exec Execution) error
}

// ArtifactSink stores execution output and returns a pointer to it.
type ArtifactSink interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}
