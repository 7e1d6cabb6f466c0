package cron

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/goliatone/go-runcore"
	"github.com/goliatone/go-runcore/runner"

	rcron "github.com/robfig/cron/v3"
)

type jobMarker struct{}

// Scheduler runs delayed one-shot jobs, cron jobs and ad hoc tasks, and keeps
// track of everything in flight so it can be shut down gracefully.
type Scheduler struct {
	mu           sync.Mutex
	name         string
	cron         *rcron.Cron
	location     *time.Location
	errorHandler func(error)

	logger    runcore.Logger
	parser    Parser
	logWriter io.Writer
	logLevel  LogLevel

	nextHandleID int64
	handles      map[int64]*cronSubscription

	baseCtx    context.Context
	cancelBase context.CancelFunc
	started    bool
	closed     bool
	inflight   int
	idle       []chan struct{}
}

// NewScheduler creates a new scheduler instance with the provided options.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		name:     "scheduler",
		location: time.Local,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		handles:  make(map[int64]*cronSubscription),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.logger = runcore.WithLoggerFields(s.logger, map[string]any{"scheduler": s.name})
	if s.errorHandler == nil {
		logger := s.logger
		s.errorHandler = func(err error) {
			logger.Error("job failed: %v", err)
		}
	}

	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	s.baseCtx = context.WithValue(s.baseCtx, jobMarker{}, s)
	s.cron = rcron.New(s.build()...)
	return s
}

// Name returns the scheduler label.
func (s *Scheduler) Name() string {
	return s.name
}

// ScheduleCron schedules a recurring handler by cron expression. A run that
// is still executing when the next one is due causes that run to be skipped.
func (s *Scheduler) ScheduleCron(opts runcore.HandlerConfig, handler any) (Handle, error) {
	if opts.Expression == "" {
		return nil, invalidSchedule("cron expression cannot be empty")
	}
	run, err := s.buildRunnable(opts, handler)
	if err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, s.closedError()
	}

	sub := s.newHandle()
	job := rcron.FuncJob(func() {
		if isTerminalStatus(sub.Status()) {
			return
		}
		if !s.enter() {
			return
		}
		defer s.leave()

		sub.setStatus(ScheduleStatusRunning, nil)
		if err := run(s.baseCtx); err != nil {
			sub.setStatus(ScheduleStatusFailed, err)
			s.errorHandler(err)
			return
		}

		if !isTerminalStatus(sub.Status()) {
			sub.setStatus(ScheduleStatusIdle, nil)
		}
	})

	entryID, err := s.cron.AddJob(opts.Expression, job)
	if err != nil {
		return nil, invalidSchedule(fmt.Sprintf("failed to add job: %v", err))
	}
	sub.entryID = int(entryID)
	s.storeHandle(sub)
	return sub, nil
}

// ScheduleAfter schedules one execution after delay.
func (s *Scheduler) ScheduleAfter(delay time.Duration, opts runcore.HandlerConfig, handler any) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), opts, handler)
}

// ScheduleAt schedules one execution at a specific time.
func (s *Scheduler) ScheduleAt(at time.Time, opts runcore.HandlerConfig, handler any) (Handle, error) {
	run, err := s.buildRunnable(opts, handler)
	if err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, s.closedError()
	}

	sub := s.newHandle()
	s.storeHandle(sub)

	go func() {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-sub.Done():
			return
		}

		if isTerminalStatus(sub.Status()) || !s.enter() {
			return
		}
		defer s.leave()

		sub.setStatus(ScheduleStatusRunning, nil)
		if err := run(s.baseCtx); err != nil {
			sub.setTerminal(ScheduleStatusFailed, err)
			s.errorHandler(err)
			s.removeStoredHandle(sub.id)
			return
		}
		sub.setTerminal(ScheduleStatusCompleted, nil)
		s.removeStoredHandle(sub.id)
	}()

	return sub, nil
}

// Go runs fn on a tracked goroutine. Tasks handed over after Close still run
// so that chained continuations can settle, but they are not waited for.
func (s *Scheduler) Go(fn func()) {
	tracked := s.enter()
	go func() {
		if tracked {
			defer s.leave()
		}
		fn()
	}()
}

// Context returns the context jobs run with. It is cancelled by a forced shutdown.
func (s *Scheduler) Context() context.Context {
	return s.baseCtx
}

// InJob reports whether ctx belongs to a job run by this scheduler.
func (s *Scheduler) InJob(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(jobMarker{}).(*Scheduler)
	return owner == s
}

// RemoveHandler removes a scheduled job by entry ID.
func (s *Scheduler) RemoveHandler(entryID int) {
	if s == nil {
		return
	}

	var affected []*cronSubscription
	s.mu.Lock()
	for id, handle := range s.handles {
		if handle != nil && handle.entryID == entryID {
			affected = append(affected, handle)
			delete(s.handles, id)
		}
	}
	s.mu.Unlock()

	s.cron.Remove(rcron.EntryID(entryID))
	for _, handle := range affected {
		handle.setTerminal(ScheduleStatusCanceled, nil)
	}
}

// Start begins executing scheduled cron jobs.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closedError()
	}
	if !s.started {
		s.cron.Start()
		s.started = true
	}
	return nil
}

// Close stops accepting work and marks pending handles as stopped. It does
// not wait for running jobs, so it is safe to call from inside one.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	handles := make([]*cronSubscription, 0, len(s.handles))
	for _, handle := range s.handles {
		handles = append(handles, handle)
	}
	s.handles = make(map[int64]*cronSubscription)
	s.mu.Unlock()

	if started {
		s.cron.Stop()
	}
	for _, handle := range handles {
		if handle == nil {
			continue
		}
		if handle.entryID > 0 {
			s.cron.Remove(rcron.EntryID(handle.entryID))
		}
		if isTerminalStatus(handle.Status()) {
			continue
		}
		handle.setTerminal(ScheduleStatusStopped, nil)
	}
}

// Shutdown closes the scheduler and waits for in-flight jobs until ctx is
// done. Jobs still running at that point have their context cancelled and
// ErrShutdownTimeout is returned. Called from inside one of its own jobs,
// Shutdown only closes the scheduler.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.Close()
	if s.InJob(ctx) {
		return nil
	}

	if err := s.wait(ctx); err != nil {
		s.cancelBase()
		s.logger.Warn("forced shutdown with jobs in flight")
		e := ErrShutdownTimeout.Clone()
		e.Source = err
		return e.WithMetadata(map[string]any{"scheduler": s.name})
	}
	s.cancelBase()
	return nil
}

// Stop stops executing scheduled jobs and marks active handles as stopped.
func (s *Scheduler) Stop(ctx context.Context) error {
	return s.Shutdown(ctx)
}

// Closed reports whether Close or Shutdown has been called.
func (s *Scheduler) Closed() bool {
	return s.isClosed()
}

// Inflight returns the number of jobs currently running.
func (s *Scheduler) Inflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

func (s *Scheduler) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight++
	return true
}

func (s *Scheduler) leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if s.inflight > 0 {
		return
	}
	for _, ch := range s.idle {
		close(ch)
	}
	s.idle = nil
}

func (s *Scheduler) wait(ctx context.Context) error {
	s.mu.Lock()
	if s.inflight == 0 {
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.idle = append(s.idle, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scheduler) closedError() error {
	return ErrSchedulerClosed.Clone().WithMetadata(map[string]any{"scheduler": s.name})
}

func invalidSchedule(message string) error {
	e := ErrInvalidSchedule.Clone()
	e.Message = message
	return e
}

func (s *Scheduler) removeHandle(id int64) {
	handle := s.removeStoredHandle(id)
	if handle == nil {
		return
	}
	if handle.entryID > 0 {
		s.cron.Remove(rcron.EntryID(handle.entryID))
	}
}

func (s *Scheduler) removeStoredHandle(id int64) *cronSubscription {
	if s == nil || id == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := s.handles[id]
	delete(s.handles, id)
	return handle
}

func (s *Scheduler) storeHandle(handle *cronSubscription) {
	if s == nil || handle == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles == nil {
		s.handles = make(map[int64]*cronSubscription)
	}
	s.handles[handle.id] = handle
}

func (s *Scheduler) newHandle() *cronSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	return &cronSubscription{
		scheduler: s,
		id:        s.nextHandleID,
		status:    ScheduleStatusScheduled,
		done:      make(chan struct{}),
	}
}

func isTerminalStatus(status ScheduleStatus) bool {
	switch status {
	case ScheduleStatusCompleted, ScheduleStatusCanceled, ScheduleStatusFailed, ScheduleStatusStopped:
		return true
	default:
		return false
	}
}

// Job is a schedulable unit with its own context handling.
type Job interface {
	Run(ctx context.Context) error
}

func (s *Scheduler) buildRunnable(opts runcore.HandlerConfig, handler any) (func(context.Context) error, error) {
	var fn func(context.Context) error
	switch r := handler.(type) {
	case func():
		fn = func(context.Context) error {
			r()
			return nil
		}
	case func() error:
		fn = func(context.Context) error { return r() }
	case func(context.Context) error:
		fn = r
	case Job:
		fn = r.Run
	case runcore.Commander[struct{}]:
		fn = func(ctx context.Context) error { return r.Execute(ctx, struct{}{}) }
	default:
		return nil, invalidSchedule(fmt.Sprintf("unsupported handler type: %T", handler))
	}
	if fn == nil {
		return nil, invalidSchedule("handler cannot be nil")
	}

	h := runner.NewHandler(makeRunnerOptions(s, opts)...)
	return func(ctx context.Context) error {
		return h.Run(ctx, fn)
	}, nil
}

func makeRunnerOptions(s *Scheduler, opts runcore.HandlerConfig) []runner.Option {
	runnerOpts := runner.FromConfig(opts)
	return append(runnerOpts,
		runner.WithLogger(s.logger),
		runner.WithLabel(s.name),
	)
}

func makeLogger(out io.Writer, level LogLevel) rcron.Logger {
	stdLogger := log.New(out, "cron: ", log.LstdFlags)
	cronLogger := rcron.PrintfLogger(stdLogger)
	if level >= LogLevelDebug {
		cronLogger = rcron.VerbosePrintfLogger(stdLogger)
	}
	return cronLogger
}

// build converts implementation-agnostic options to rcron options.
func (s *Scheduler) build() []rcron.Option {
	opts := make([]rcron.Option, 0)

	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}

	var cronLogger rcron.Logger
	switch {
	case s.logWriter != nil:
		cronLogger = makeLogger(s.logWriter, s.logLevel)
	case s.logLevel > LogLevelSilent:
		cronLogger = &loggerAdapter{logger: s.logger, level: s.logLevel}
	default:
		cronLogger = rcron.DiscardLogger
	}

	opts = append(opts,
		rcron.WithLogger(cronLogger),
		rcron.WithChain(
			rcron.Recover(&errorHandlerAdapter{handler: s.errorHandler}),
			rcron.SkipIfStillRunning(cronLogger),
		),
	)

	return opts
}
