package orchestrator

import (
	"time"

	"github.com/goliatone/go-runcore"
	"github.com/goliatone/go-runcore/backend"
	"github.com/goliatone/go-runcore/cron"
	"github.com/goliatone/go-runcore/dispatcher"
	"github.com/goliatone/go-runcore/poller"
	"github.com/goliatone/go-runcore/runner"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger runcore.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithPollingService shares a polling service with other components.
func WithPollingService(svc *poller.Service) Option {
	return func(o *Orchestrator) {
		o.pollers = svc
	}
}

// WithDispatcher makes Submit announce runs through d instead of handling
// them inline. Subscribe must still be called to route events back.
func WithDispatcher(d *dispatcher.Dispatcher) Option {
	return func(o *Orchestrator) {
		o.dispatcher = d
	}
}

// WithSink stores collected logs and artifacts.
func WithSink(sink backend.ArtifactSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = recorder
	}
}

// WithPlatform selects the framework platform runnables are executed on.
func WithPlatform(platform string) Option {
	return func(o *Orchestrator) {
		if platform != "" {
			o.platform = platform
		}
	}
}

// WithPollDelay sets the delay between monitor ticks.
func WithPollDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.delay = d
	}
}

// WithAsync runs monitor workflows as chained futures.
func WithAsync(async bool) Option {
	return func(o *Orchestrator) {
		o.async = async
	}
}

// WithCron drives monitor ticks from a cron expression.
func WithCron(expression string) Option {
	return func(o *Orchestrator) {
		o.cronExpr = expression
	}
}

// WithScheduler runs every monitor on a shared scheduler.
func WithScheduler(s *cron.Scheduler) Option {
	return func(o *Orchestrator) {
		o.scheduler = s
	}
}

// WithExecuteRetries sets how many times a failed launch is retried.
func WithExecuteRetries(n int, backoff runner.RetryStrategy) Option {
	return func(o *Orchestrator) {
		o.executeRetries = n
		if backoff != nil {
			o.backoff = backoff
		}
	}
}
