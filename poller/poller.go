package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goliatone/go-runcore"
	"github.com/goliatone/go-runcore/cron"
	"github.com/goliatone/go-runcore/workflow"
)

const DefaultShutdownTimeout = 5 * time.Second

// Recorder observes poller ticks.
type Recorder interface {
	RecordTick(poller string, outcome workflow.Outcome, duration time.Duration)
}

// Poller runs a list of workflows after a delay, optionally rescheduling
// itself after every complete pass. A stopped poller cannot be restarted.
type Poller struct {
	mu sync.Mutex

	name       string
	workflows  []*workflow.Workflow
	delay      time.Duration
	reschedule bool
	async      bool

	cronExpr        string
	input           any
	scheduler       *cron.Scheduler
	ownsScheduler   bool
	shutdownTimeout time.Duration
	logger          runcore.Logger
	recorder        Recorder

	active  bool
	started bool
	halting bool
	handle  cron.Handle
	passes  int
	lastErr error
	done    chan struct{}
	// idle is non nil while a pass runs and is closed when it ends.
	idle chan struct{}
}

type passKey struct{}

// Option configures a Poller.
type Option func(*Poller)

// WithCron drives ticks from a cron expression instead of the fixed delay.
func WithCron(expression string) Option {
	return func(p *Poller) {
		p.cronExpr = expression
	}
}

// WithInput sets the value every workflow receives as its initial input.
func WithInput(input any) Option {
	return func(p *Poller) {
		p.input = input
	}
}

func WithLogger(logger runcore.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(p *Poller) {
		p.recorder = recorder
	}
}

// WithScheduler shares a scheduler between pollers. A shared scheduler is
// not shut down when the poller stops; only the poller's own jobs are cancelled.
func WithScheduler(scheduler *cron.Scheduler) Option {
	return func(p *Poller) {
		p.scheduler = scheduler
	}
}

// WithShutdownTimeout bounds the graceful part of StopPolling.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(p *Poller) {
		p.shutdownTimeout = timeout
	}
}

// New creates an active poller.
func New(name string, workflows []*workflow.Workflow, delay time.Duration, reschedule, async bool, opts ...Option) *Poller {
	p := &Poller{
		name:            name,
		workflows:       append([]*workflow.Workflow(nil), workflows...),
		delay:           delay,
		reschedule:      reschedule,
		async:           async,
		shutdownTimeout: DefaultShutdownTimeout,
		active:          true,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	p.logger = runcore.WithLoggerFields(p.logger, map[string]any{"poller": name})
	if p.scheduler == nil {
		p.scheduler = cron.NewScheduler(
			cron.WithName("poller:"+name),
			cron.WithLogger(p.logger),
		)
		p.ownsScheduler = true
	}
	return p
}

func (p *Poller) Name() string {
	return p.name
}

// IsActive reports whether the poller has not been stopped.
func (p *Poller) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Passes returns the number of complete, successful passes over the workflow list.
func (p *Poller) Passes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passes
}

// Err returns the failure that stopped the poller, if any. Stop signals are
// expected terminations and are not reported here.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Done is closed once the poller stops.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// StartPolling schedules the first tick. Calling it again on a running poller
// is a no-op.
func (p *Poller) StartPolling(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return inactive(p.name)
	}
	if p.started {
		return nil
	}

	if p.cronExpr != "" {
		handle, err := p.scheduler.ScheduleCron(runcore.HandlerConfig{Expression: p.cronExpr}, p.tick)
		if err != nil {
			return err
		}
		if err := p.scheduler.Start(ctx); err != nil {
			handle.Cancel()
			return err
		}
		p.handle = handle
	} else {
		handle, err := p.scheduler.ScheduleAfter(p.delay, runcore.HandlerConfig{}, p.tick)
		if err != nil {
			return err
		}
		p.handle = handle
	}
	p.started = true
	p.logger.Debug("polling started delay=%s reschedule=%t async=%t", p.delay, p.reschedule, p.async)
	return nil
}

// StopPolling deactivates the poller and shuts its scheduler down, waiting up
// to the shutdown timeout for a running tick before cancelling it. It then
// waits, bounded by ctx only, until the pass in flight has returned, so the
// caller owns everything the workflows touched. It is idempotent. From inside
// a pass it returns without waiting.
func (p *Poller) StopPolling(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return p.Wait(ctx)
	}
	p.active = false
	handle := p.handle
	p.handle = nil
	close(p.done)
	p.mu.Unlock()

	if handle != nil {
		handle.Cancel()
	}

	var shutdownErr error
	if p.ownsScheduler {
		waitCtx, cancel := context.WithTimeout(ctx, p.shutdownTimeout)
		shutdownErr = p.scheduler.Shutdown(waitCtx)
		cancel()
		if shutdownErr != nil {
			p.logger.Warn("forced stop: %v", shutdownErr)
		}
	}
	if err := p.Wait(ctx); err != nil {
		return errors.Join(shutdownErr, err)
	}
	p.logger.Debug("polling stopped")
	return shutdownErr
}

// Wait blocks until no pass is running or ctx is done. Called from inside a
// pass of p it returns immediately.
func (p *Poller) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, _ := ctx.Value(passKey{}).(*Poller); owner == p {
		return nil
	}
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a pass is in flight.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle != nil
}

// tick starts a pass unless one is still in flight. Cron ticks that land on
// a running pass are skipped, async chains included.
func (p *Poller) tick(ctx context.Context) error {
	if !p.begin() {
		return nil
	}
	ctx = context.WithValue(ctx, passKey{}, p)
	if p.async {
		p.runAsync(ctx)
		return nil
	}
	p.runSync(ctx)
	return nil
}

func (p *Poller) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active || p.halting {
		return false
	}
	if p.idle != nil {
		p.logger.Debug("tick skipped, previous pass still running")
		return false
	}
	p.idle = make(chan struct{})
	return true
}

func (p *Poller) end() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idle != nil {
		close(p.idle)
		p.idle = nil
	}
}

func (p *Poller) runSync(ctx context.Context) {
	start := time.Now()
	for _, wf := range p.workflows {
		if !p.IsActive() {
			p.end()
			return
		}
		if _, err := wf.Execute(ctx, p.input); err != nil {
			p.finish(ctx, wf.Name(), err, start)
			return
		}
	}
	p.finish(ctx, "", nil, start)
}

func (p *Poller) runAsync(ctx context.Context) {
	start := time.Now()
	failed := ""
	chain := workflow.Resolved[any](p.input, nil)
	for _, wf := range p.workflows {
		wf := wf
		chain = workflow.Compose(chain, func(any) *workflow.Future[any] {
			if !p.IsActive() {
				return workflow.Resolved[any](nil, errInterrupted)
			}
			next := wf.ExecuteAsync(ctx, p.input, p.scheduler)
			next.OnComplete(func(_ any, err error) {
				if err != nil {
					failed = wf.Name()
				}
			})
			return next
		})
	}
	chain.OnComplete(func(_ any, err error) {
		if err == errInterrupted {
			p.end()
			return
		}
		p.finish(ctx, failed, err, start)
	})
}

var errInterrupted = errors.New("poller stopped mid pass")

type nextStep int

const (
	stepIdle nextStep = iota
	stepReschedule
	stepStop
)

// finish settles the pass, ends it, then acts on the decision so that a
// stop or reschedule never overlaps the pass that caused it.
func (p *Poller) finish(ctx context.Context, wfName string, err error, start time.Time) {
	next := p.settle(wfName, err, start)
	p.end()
	switch next {
	case stepStop:
		p.stopFromTick(ctx)
	case stepReschedule:
		p.rescheduleAfterDelay(ctx)
	}
}

// settle records the outcome of one pass: stop on any error, otherwise
// reschedule or stop per the reschedule flag.
func (p *Poller) settle(wfName string, err error, start time.Time) nextStep {
	outcome := workflow.OutcomeOf(err)
	if p.recorder != nil {
		p.recorder.RecordTick(p.name, outcome, time.Since(start))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch outcome {
	case workflow.Stop:
		p.logger.Info("workflow %s requested stop: %v", wfName, err)
		p.halting = true
		return stepStop
	case workflow.Fail:
		p.logger.Error("workflow %s failed: %v", wfName, err)
		p.lastErr = err
		p.halting = true
		return stepStop
	}

	p.passes++
	switch {
	case !p.active:
		return stepIdle
	case !p.reschedule:
		p.halting = true
		return stepStop
	case p.cronExpr != "":
		return stepIdle
	}
	return stepReschedule
}

func (p *Poller) rescheduleAfterDelay(ctx context.Context) {
	handle, err := p.scheduler.ScheduleAfter(p.delay, runcore.HandlerConfig{}, p.tick)
	if err != nil {
		if p.IsActive() {
			p.logger.Error("reschedule failed: %v", err)
			p.stopFromTick(ctx)
		}
		return
	}
	p.mu.Lock()
	if p.active {
		p.handle = handle
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	handle.Cancel()
}

func (p *Poller) stopFromTick(ctx context.Context) {
	if err := p.StopPolling(ctx); err != nil {
		p.logger.Error("stop failed: %v", err)
	}
}
