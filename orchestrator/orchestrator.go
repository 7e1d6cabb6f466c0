// Package orchestrator drives runs from creation to a terminal state: it
// builds the run spec, launches the runnable on a framework and hands the
// execution to a poller that monitors it.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-runcore"
	"github.com/goliatone/go-runcore/backend"
	"github.com/goliatone/go-runcore/cron"
	"github.com/goliatone/go-runcore/dispatcher"
	"github.com/goliatone/go-runcore/fsm"
	"github.com/goliatone/go-runcore/lifecycle"
	"github.com/goliatone/go-runcore/model"
	"github.com/goliatone/go-runcore/poller"
	"github.com/goliatone/go-runcore/runner"
	"github.com/goliatone/go-runcore/workflow"
)

const (
	DefaultPlatform  = "docker"
	DefaultPollDelay = 5 * time.Second
)

// Recorder receives lifecycle, poller and launch metrics.
type Recorder interface {
	fsm.Recorder
	poller.Recorder
	RecordLaunch()
}

// Orchestrator owns one poller per monitored run.
type Orchestrator struct {
	store      model.Store
	strategies *backend.Strategies
	pollers    *poller.Service
	dispatcher *dispatcher.Dispatcher
	sink       backend.ArtifactSink
	logger     runcore.Logger
	recorder   Recorder

	platform  string
	delay     time.Duration
	async     bool
	cronExpr  string
	scheduler *cron.Scheduler

	executeRetries int
	backoff        runner.RetryStrategy

	mu       sync.Mutex
	sessions map[string]*backend.Session
}

// New requires a store and the strategy registries; everything else has a
// default.
func New(store model.Store, strategies *backend.Strategies, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, configError("store is required")
	}
	if strategies == nil {
		return nil, configError("strategies are required")
	}

	o := &Orchestrator{
		store:          store,
		strategies:     strategies,
		platform:       DefaultPlatform,
		delay:          DefaultPollDelay,
		executeRetries: 3,
		backoff: runner.ExponentialBackoffStrategy{
			Base:   200 * time.Millisecond,
			Factor: 2,
			Max:    5 * time.Second,
		},
		sessions: make(map[string]*backend.Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.logger = runcore.NormalizeLogger(o.logger)
	if o.pollers == nil {
		o.pollers = poller.NewService(poller.WithServiceLogger(o.logger))
	}
	return o, nil
}

// PollerName is the name of the poller monitoring runID.
func PollerName(runID string) string {
	return "run:" + runID
}

// Subscribe registers the orchestrator for run events on d.
func (o *Orchestrator) Subscribe(d *dispatcher.Dispatcher) []dispatcher.Subscription {
	return []dispatcher.Subscription{
		dispatcher.SubscribeCommandFunc[model.RunCreated](d, o.HandleRunCreated),
		dispatcher.SubscribeCommandFunc[model.RunStopped](d, o.HandleRunStopped),
	}
}

// Submit persists a new run and announces it. Without a dispatcher the run
// is handled inline.
func (o *Orchestrator) Submit(ctx context.Context, run *model.Run) (*model.Run, error) {
	if run == nil {
		return nil, ErrInvalidRun.Clone()
	}
	ref, err := model.ParseRunRef(run.Task)
	if err != nil {
		return nil, err
	}
	draft := run.Clone()
	if draft.Kind == "" {
		draft.Kind = ref.Runtime
	}
	if draft.Project == "" {
		draft.Project = ref.Project
	}
	draft.State = model.StateCreated

	saved, err := o.store.Save(ctx, draft)
	if err != nil {
		return nil, err
	}
	o.logger.Info("run %s submitted for %s", saved.ID, ref)

	evt := model.RunCreated{RunID: saved.ID, Task: saved.Task}
	if o.dispatcher != nil {
		err = dispatcher.Dispatch(ctx, o.dispatcher, evt)
	} else {
		err = o.HandleRunCreated(ctx, evt)
	}
	return saved, err
}

// HandleRunCreated builds and launches the run, then starts its monitor. A
// run already past READY with a recorded execution is resumed instead of
// launched again; terminal runs are ignored.
func (o *Orchestrator) HandleRunCreated(ctx context.Context, evt model.RunCreated) error {
	run, err := o.store.GetRun(ctx, evt.RunID)
	if err != nil {
		return err
	}
	logger := runcore.WithLoggerFields(o.logger, map[string]any{"run_id": run.ID})
	if run.State.Terminal() {
		logger.Info("run %s already %s, nothing to do", run.ID, run.State)
		return nil
	}

	ref, err := model.ParseRunRef(run.Task)
	if err != nil {
		return err
	}

	machine, err := o.machine(run, logger)
	if err != nil {
		return err
	}

	rt, err := o.strategies.Runtime(ref.Runtime)
	if err != nil {
		return o.fail(ctx, machine, stageError(ErrBuildFailed, run.ID, "resolve runtime", err))
	}

	if run.State == model.StateCreated || run.State == model.StateBuilt {
		if run, err = o.build(ctx, rt, run, ref); err != nil {
			return o.fail(ctx, machine, err)
		}
		if _, err := machine.ProcessEvent(ctx, lifecycle.EventBuild, nil); err != nil {
			return err
		}
	}

	unit, err := rt.Run(ctx, run)
	if err != nil {
		return o.fail(ctx, machine, stageError(ErrLaunchFailed, run.ID, "runnable", err))
	}
	fw, err := o.strategies.Framework(o.platform, unit.Action)
	if err != nil {
		return o.fail(ctx, machine, stageError(ErrLaunchFailed, run.ID, "resolve framework", err))
	}

	exec, resumed := o.recordedExecution(run, fw)
	if !resumed {
		if exec, err = o.launch(ctx, run, fw, unit); err != nil {
			return o.fail(ctx, machine, err)
		}
	} else {
		logger.Info("resuming run %s on execution %s", run.ID, exec.ID)
	}

	session := &backend.Session{
		Run:       run,
		Ref:       ref,
		Machine:   machine,
		Store:     o.store,
		Framework: fw,
		Execution: exec,
		Sink:      o.sink,
		Logger:    logger,
	}
	if err := o.monitor(ctx, session); err != nil {
		return o.fail(ctx, machine, err)
	}
	return nil
}

// HandleRunStopped is Stop for dispatched events.
func (o *Orchestrator) HandleRunStopped(ctx context.Context, evt model.RunStopped) error {
	return o.Stop(ctx, evt.RunID)
}

// Stop removes the run's poller, waits for its pass in flight to return,
// cancels the execution when the framework supports it and moves a non
// terminal run to ERROR. The run machine is only driven once the monitor
// has let go of it.
func (o *Orchestrator) Stop(ctx context.Context, runID string) error {
	session := o.forget(runID)
	if session == nil {
		return poller.NotFound(PollerName(runID))
	}
	name := PollerName(runID)
	p, _ := o.pollers.Get(name)
	if err := o.pollers.Remove(ctx, name); err != nil && !poller.IsNotFound(err) {
		o.logger.Warn("run %s: stop poller: %v", runID, err)
	}
	if p != nil {
		if err := p.Wait(ctx); err != nil {
			return stageError(ErrMonitorFailed, runID, "wait for monitor", err)
		}
	}

	if canceler, ok := session.Framework.(backend.Canceler); ok {
		if err := canceler.Cancel(ctx, session.Execution); err != nil {
			o.logger.Warn("run %s: cancel execution %s: %v", runID, session.Execution.ID, err)
		}
	}
	if !session.Machine.CurrentState().Terminal() {
		if _, err := lifecycle.Fire(ctx, session.Machine, lifecycle.EventError, model.StateError, "stopped on request"); err != nil {
			return err
		}
	}
	o.logger.Info("run %s stopped", runID)
	return nil
}

// Active returns the ids of runs currently monitored.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		out = append(out, id)
	}
	return out
}

// Poller returns the poller monitoring runID.
func (o *Orchestrator) Poller(runID string) (*poller.Poller, bool) {
	return o.pollers.Get(PollerName(runID))
}

// Shutdown stops every poller. Executions keep running and can be resumed
// by handling their run created events again.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.pollers.StopPolling(ctx)
}

func (o *Orchestrator) machine(run *model.Run, logger runcore.Logger) (*lifecycle.Machine, error) {
	opts := []lifecycle.Option{lifecycle.WithLogger(logger)}
	if o.recorder != nil {
		opts = append(opts, lifecycle.WithRecorder(o.recorder))
	}
	return lifecycle.New(run, o.store, opts...)
}

func (o *Orchestrator) build(ctx context.Context, rt backend.Runtime, run *model.Run, ref model.RunRef) (*model.Run, error) {
	fn, err := o.store.GetFunction(ctx, ref.Project, ref.Name, ref.Version)
	if err != nil {
		return nil, stageError(ErrBuildFailed, run.ID, "function", err)
	}
	task, err := o.store.FindTask(ctx, ref.Function().String(), ref.Action)
	if err != nil {
		return nil, stageError(ErrBuildFailed, run.ID, "task", err)
	}

	built, err := rt.Build(ctx, fn, task, run)
	if err != nil {
		return nil, stageError(ErrBuildFailed, run.ID, "build", err)
	}
	run.Spec = built
	if run.Kind == "" {
		run.Kind = fn.Kind
	}
	updated, err := o.store.UpdateRun(ctx, run, run.ID)
	if err != nil {
		return nil, stageError(ErrBuildFailed, run.ID, "persist", err)
	}
	return updated, nil
}

// launch executes unit with retries and records the execution id on the run.
func (o *Orchestrator) launch(ctx context.Context, run *model.Run, fw backend.Framework, unit *backend.Runnable) (backend.Execution, error) {
	h := runner.NewHandler(
		runner.WithLabel("execute run "+run.ID),
		runner.WithLogger(o.logger),
		runner.WithMaxRetries(o.executeRetries),
		runner.WithRetryStrategy(o.backoff),
	)
	exec, err := runner.Do(ctx, h, func(ctx context.Context) (backend.Execution, error) {
		return fw.Execute(ctx, unit)
	})
	if err != nil {
		return backend.Execution{}, stageError(ErrLaunchFailed, run.ID, "execute", err)
	}
	if o.recorder != nil {
		o.recorder.RecordLaunch()
	}

	current, err := o.store.GetRun(ctx, run.ID)
	if err != nil {
		return exec, stageError(ErrLaunchFailed, run.ID, "persist", err)
	}
	current.SetExtra(model.ExtraExecutionID, exec.ID)
	if _, err := o.store.UpdateRun(ctx, current, run.ID); err != nil {
		return exec, stageError(ErrLaunchFailed, run.ID, "persist", err)
	}
	o.logger.Info("run %s launched as %s on %s", run.ID, exec.ID, exec.Framework)
	return exec, nil
}

func (o *Orchestrator) recordedExecution(run *model.Run, fw backend.Framework) (backend.Execution, bool) {
	id := run.ExtraString(model.ExtraExecutionID)
	if id == "" {
		return backend.Execution{}, false
	}
	return backend.Execution{ID: id, Framework: fw.Key().String()}, true
}

func (o *Orchestrator) monitor(ctx context.Context, s *backend.Session) error {
	factory, err := o.strategies.Workflow(s.Ref.Runtime, s.Ref.Action)
	if err != nil {
		return stageError(ErrMonitorFailed, s.Run.ID, "resolve workflow", err)
	}
	workflows, err := factory.Workflows(s)
	if err != nil {
		return stageError(ErrMonitorFailed, s.Run.ID, "workflows", err)
	}

	var opts []poller.Option
	if o.cronExpr != "" {
		opts = append(opts, poller.WithCron(o.cronExpr))
	}
	if o.scheduler != nil {
		opts = append(opts, poller.WithScheduler(o.scheduler))
	}
	if o.recorder != nil {
		opts = append(opts, poller.WithRecorder(o.recorder))
	}

	name := PollerName(s.Run.ID)
	p, err := o.pollers.CreatePoller(ctx, name, workflows, o.delay, true, o.async, opts...)
	if err != nil {
		return stageError(ErrMonitorFailed, s.Run.ID, "create poller", err)
	}

	o.mu.Lock()
	o.sessions[s.Run.ID] = s
	o.mu.Unlock()

	if err := o.pollers.StartOne(ctx, name); err != nil {
		o.forget(s.Run.ID)
		return stageError(ErrMonitorFailed, s.Run.ID, "start poller", err)
	}
	go o.watch(p, s)
	return nil
}

// watch waits for p to stop and its last pass to return. A poller that
// stopped on a failure leaves the run in ERROR so it never sits in a non
// terminal state unmonitored. A run taken over by Stop is left to Stop.
func (o *Orchestrator) watch(p *poller.Poller, s *backend.Session) {
	<-p.Done()
	if err := p.Wait(context.Background()); err != nil {
		o.logger.Error("run %s: wait for monitor: %v", s.Run.ID, err)
	}
	o.pollers.Forget(p)

	o.mu.Lock()
	owned := o.sessions[s.Run.ID] == s
	if owned {
		delete(o.sessions, s.Run.ID)
	}
	o.mu.Unlock()
	if !owned {
		return
	}

	cause := p.Err()
	if cause == nil || workflow.OutcomeOf(cause) != workflow.Fail {
		return
	}
	if s.Machine.CurrentState().Terminal() {
		return
	}
	ctx := context.Background()
	if _, err := lifecycle.Fire(ctx, s.Machine, lifecycle.EventError, model.StateError, cause); err != nil {
		o.logger.Error("run %s: record monitor failure: %v", s.Run.ID, err)
	}
}

func (o *Orchestrator) forget(runID string) *backend.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.sessions[runID]
	delete(o.sessions, runID)
	return s
}

// fail moves the run to ERROR with cause as diagnostic and returns cause.
func (o *Orchestrator) fail(ctx context.Context, m *lifecycle.Machine, cause error) error {
	o.logger.Error("%v", cause)
	if m.CurrentState().Terminal() {
		return cause
	}
	if _, err := lifecycle.Fire(ctx, m, lifecycle.EventError, model.StateError, cause); err != nil {
		o.logger.Error("record failure: %v", err)
	}
	return cause
}
