// Package local is an in-process Framework used for tests and dry runs.
package local

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/goliatone/go-runcore/backend"
	"github.com/goliatone/go-runcore/registry"
)

const Platform = "local"

// Handler executes a runnable in process. Whatever it writes to out becomes
// the execution logs.
type Handler func(ctx context.Context, unit *backend.Runnable, out io.Writer) error

type execution struct {
	unit     *backend.Runnable
	script   []backend.Observation
	step     int
	logs     bytes.Buffer
	done     bool
	err      error
	canceled bool
	cancel   context.CancelFunc
}

// Framework runs units either through a Handler or by replaying a scripted
// sequence of observations, one per Inspect call.
type Framework struct {
	mu         sync.Mutex
	platform   string
	action     string
	handler    Handler
	script     []backend.Observation
	executions map[string]*execution
	submitted  []*backend.Runnable
}

var (
	_ backend.Framework = (*Framework)(nil)
	_ backend.LogReader = (*Framework)(nil)
	_ backend.Canceler  = (*Framework)(nil)
)

// Option configures a Framework.
type Option func(*Framework)

// WithPlatform registers the framework under another platform name.
func WithPlatform(platform string) Option {
	return func(f *Framework) {
		f.platform = platform
	}
}

// WithHandler runs units through h instead of replaying a script.
func WithHandler(h Handler) Option {
	return func(f *Framework) {
		f.handler = h
	}
}

// WithScript sets the observations replayed for every execution. The last
// observation repeats once the script is exhausted.
func WithScript(observations ...backend.Observation) Option {
	return func(f *Framework) {
		f.script = append([]backend.Observation(nil), observations...)
	}
}

func New(opts ...Option) *Framework {
	f := &Framework{
		platform:   Platform,
		action:     "job",
		executions: make(map[string]*execution),
		script: []backend.Observation{
			{Status: backend.StatusPending},
			{Status: backend.StatusRunning},
			{Status: backend.StatusSucceeded},
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

func (f *Framework) Key() registry.Key {
	return registry.NewKey(f.platform, f.action)
}

// Register returns the framework as a strategy set.
func (f *Framework) Register() backend.Set {
	return backend.Set{Frameworks: []backend.Framework{f}}
}

func (f *Framework) Execute(ctx context.Context, unit *backend.Runnable) (backend.Execution, error) {
	if unit == nil || unit.Image == "" {
		return backend.Execution{}, ErrInvalidRunnable.Clone()
	}
	id := "local-" + uuid.NewString()
	exec := &execution{unit: unit, script: f.script}
	fmt.Fprintf(&exec.logs, "image=%s command=%s args=%s\n", unit.Image, strings.Join(unit.Command, " "), strings.Join(unit.Args, " "))

	f.mu.Lock()
	f.executions[id] = exec
	f.submitted = append(f.submitted, unit)
	f.mu.Unlock()

	if f.handler != nil {
		var (
			runCtx context.Context
			cancel context.CancelFunc
		)
		if unit.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), unit.Timeout)
		} else {
			runCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
		}
		f.mu.Lock()
		exec.cancel = cancel
		f.mu.Unlock()
		go f.run(runCtx, cancel, exec)
	}
	return backend.Execution{ID: id, Framework: f.Key().String()}, nil
}

func (f *Framework) run(ctx context.Context, cancel context.CancelFunc, exec *execution) {
	defer cancel()
	var out bytes.Buffer
	err := f.handler(ctx, exec.unit, &out)

	f.mu.Lock()
	defer f.mu.Unlock()
	exec.logs.Write(out.Bytes())
	exec.err = err
	exec.done = true
}

func (f *Framework) Inspect(_ context.Context, e backend.Execution) (backend.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exec, ok := f.executions[e.ID]
	if !ok {
		return backend.Observation{}, notFound(e.ID)
	}

	switch {
	case exec.canceled:
		return backend.Observation{Status: backend.StatusFailed, Message: "canceled", ExitCode: -1}, nil
	case f.handler != nil && !exec.done:
		return backend.Observation{Status: backend.StatusRunning}, nil
	case f.handler != nil && exec.err != nil:
		return backend.Observation{Status: backend.StatusFailed, Message: exec.err.Error(), ExitCode: 1}, nil
	case f.handler != nil:
		return backend.Observation{Status: backend.StatusSucceeded}, nil
	}

	if len(exec.script) == 0 {
		return backend.Observation{Status: backend.StatusSucceeded}, nil
	}
	obs := exec.script[exec.step]
	if exec.step < len(exec.script)-1 {
		exec.step++
	}
	return obs, nil
}

func (f *Framework) Logs(_ context.Context, e backend.Execution) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exec, ok := f.executions[e.ID]
	if !ok {
		return nil, notFound(e.ID)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(exec.logs.Bytes()))), nil
}

func (f *Framework) Cancel(_ context.Context, e backend.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	exec, ok := f.executions[e.ID]
	if !ok {
		return notFound(e.ID)
	}
	exec.canceled = true
	if exec.cancel != nil {
		exec.cancel()
	}
	return nil
}

// Submitted returns the runnables executed so far.
func (f *Framework) Submitted() []*backend.Runnable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*backend.Runnable(nil), f.submitted...)
}
