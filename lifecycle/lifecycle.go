// Package lifecycle wires the generic state machine to the Run lifecycle.
//
// Storage is updated from the machine's own entry actions, so the
// persisted state of a run always follows committed transitions.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-runcore"
	"github.com/goliatone/go-runcore/fsm"
	"github.com/goliatone/go-runcore/model"
)

// Event drives the run lifecycle.
type Event string

const (
	EventBuild     Event = "BUILD"
	EventPending   Event = "PENDING"
	EventRunning   Event = "RUNNING"
	EventCompleted Event = "COMPLETED"
	EventError     Event = "ERROR"
)

// Machine is the run lifecycle state machine.
type Machine = fsm.Machine[model.State, Event, *RunContext]

// RunContext is shared by every action of one run's machine.
type RunContext struct {
	RunID string
	Store model.RunStore
	// Run is the last persisted copy of the run.
	Run *model.Run
	now func() time.Time
	// left is the state whose exit action ran, folded into the next write.
	left model.State
}

// Clone copies the context. The store is shared.
func (c *RunContext) Clone() *RunContext {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Run = c.Run.Clone()
	return &cp
}

type config struct {
	logger   runcore.Logger
	recorder fsm.Recorder
	listener fsm.StateChangeListener[model.State, *RunContext]
	now      func() time.Time
}

// Option configures a lifecycle machine.
type Option func(*config)

func WithLogger(logger runcore.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithRecorder(recorder fsm.Recorder) Option {
	return func(c *config) {
		c.recorder = recorder
	}
}

// WithStateChangeListener is notified after every committed transition.
func WithStateChangeListener(listener fsm.StateChangeListener[model.State, *RunContext]) Option {
	return func(c *config) {
		c.listener = listener
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// New builds the lifecycle machine for run, starting from its current state.
func New(run *model.Run, store model.RunStore, opts ...Option) (*Machine, error) {
	cfg := &config{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	initial := run.State
	if initial == "" {
		initial = model.StateCreated
	}
	rc := &RunContext{RunID: run.ID, Store: store, Run: run.Clone(), now: cfg.now}

	type def = fsm.StateDefinition[model.State, Event, *RunContext]
	newState := fsm.NewState[model.State, Event, *RunContext]

	states := map[model.State]*def{
		model.StateCreated: newState().
			WithExitAction(leave(model.StateCreated)).
			On(EventBuild, model.StateReady).
			On(EventError, model.StateError),
		model.StateBuilt: newState().
			WithExitAction(leave(model.StateBuilt)).
			On(EventBuild, model.StateReady).
			On(EventError, model.StateError),
		model.StateReady: newState().
			WithEntryAction(persist(model.StateReady)).
			On(EventRunning, model.StateRunning).
			On(EventPending, model.StateReady).
			On(EventCompleted, model.StateCompleted).
			On(EventError, model.StateError),
		model.StateRunning: newState().
			WithEntryAction(persist(model.StateRunning)).
			On(EventCompleted, model.StateCompleted).
			On(EventError, model.StateError),
		model.StateCompleted: newState().
			WithEntryAction(persist(model.StateCompleted)),
		model.StateError: newState().
			WithEntryAction(persist(model.StateError)).
			WithInternalLogic(recordDiagnostic),
	}

	b := fsm.NewBuilder[model.State, Event](initial, rc).
		WithName("run:"+run.ID).
		WithStates(states).
		WithErrorState(model.StateError).
		WithLogger(cfg.logger)
	if cfg.recorder != nil {
		b = b.WithRecorder(cfg.recorder)
	}
	if cfg.listener != nil {
		b = b.WithStateChangeListener(cfg.listener)
	}
	return b.Build()
}

// Load reads the run from store and builds its machine.
func Load(ctx context.Context, runID string, store model.RunStore, opts ...Option) (*Machine, error) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return New(run, store, opts...)
}

// Fire processes event unless the machine already sits in target. It returns
// whether a transition was attempted.
func Fire(ctx context.Context, m *Machine, event Event, target model.State, input any) (bool, error) {
	if m.CurrentState() == target {
		return false, nil
	}
	_, err := m.ProcessEvent(ctx, event, input)
	return true, err
}

// leave notes the state being exited. Nothing is written until the next
// state's entry action persists.
func leave(state model.State) fsm.Action[*RunContext] {
	return func(_ context.Context, rc *RunContext) error {
		rc.left = state
		return nil
	}
}

// persist writes state. Re-entering the stored state, as READY does on
// PENDING, is not written again.
func persist(state model.State) fsm.Action[*RunContext] {
	return func(ctx context.Context, rc *RunContext) error {
		if rc.left == "" && rc.Run != nil && rc.Run.State == state {
			return nil
		}
		_, err := rc.update(ctx, func(run *model.Run) {
			run.State = state
			run.SetExtra(model.ExtraStateAt, rc.now().UTC().Format(time.RFC3339Nano))
			if rc.left != "" {
				run.SetExtra(model.ExtraPreviousState, string(rc.left))
			}
		})
		if err != nil {
			return err
		}
		rc.left = ""
		return nil
	}
}

// recordDiagnostic stores why the run failed in run.Extra["error"].
func recordDiagnostic(ctx context.Context, input any, rc *RunContext, m *fsm.Machine[model.State, Event, *RunContext]) (any, error) {
	diagnostic := map[string]any{
		"at": rc.now().UTC().Format(time.RFC3339Nano),
	}
	if cause := m.LastTransitionError(); cause != nil {
		diagnostic["reason"] = cause.Error()
		if code := fsm.ErrorCode(cause); code != "" {
			diagnostic["code"] = code
		}
	}
	switch v := input.(type) {
	case nil:
	case error:
		diagnostic["message"] = v.Error()
	case string:
		diagnostic["message"] = v
	default:
		diagnostic["message"] = fmt.Sprint(v)
	}

	return rc.update(ctx, func(run *model.Run) {
		run.SetExtra(model.ExtraError, diagnostic)
	})
}

func (rc *RunContext) update(ctx context.Context, mutate func(*model.Run)) (*model.Run, error) {
	run, err := rc.Store.GetRun(ctx, rc.RunID)
	if err != nil {
		return nil, err
	}
	mutate(run)
	updated, err := rc.Store.UpdateRun(ctx, run, rc.RunID)
	if err != nil {
		return nil, err
	}
	rc.Run = updated
	return updated, nil
}
