// Package metrics exports lifecycle and poller activity to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-runcore/fsm"
	"github.com/goliatone/go-runcore/poller"
	"github.com/goliatone/go-runcore/workflow"
)

// Recorder implements fsm.Recorder and poller.Recorder.
type Recorder struct {
	gatherer prometheus.Gatherer

	TransitionsTotal *prometheus.CounterVec
	RejectionsTotal  *prometheus.CounterVec
	TicksTotal       *prometheus.CounterVec
	TickDuration     *prometheus.HistogramVec
	RunsLaunched     prometheus.Counter
}

var (
	_ fsm.Recorder    = (*Recorder)(nil)
	_ poller.Recorder = (*Recorder)(nil)
)

// New registers the collectors on reg. A nil reg uses the default registry.
func New(namespace string, reg *prometheus.Registry) *Recorder {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Recorder{
		gatherer: gatherer,
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fsm_transitions_total",
				Help:      "Committed state machine transitions",
			},
			[]string{"from", "to", "event"},
		),
		RejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fsm_rejections_total",
				Help:      "Events routed to the error path",
			},
			[]string{"state", "event", "reason"},
		),
		TicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poller_ticks_total",
				Help:      "Poller passes by outcome",
			},
			[]string{"outcome"},
		),
		TickDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poller_tick_duration_seconds",
				Help:      "Duration of one poller pass",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"outcome"},
		),
		RunsLaunched: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_launched_total",
				Help:      "Runs submitted to an execution framework",
			},
		),
	}
}

// RecordTransition labels by state names only; machine names carry run ids
// and would explode cardinality.
func (r *Recorder) RecordTransition(_ string, from, to, event string) {
	r.TransitionsTotal.WithLabelValues(from, to, event).Inc()
}

func (r *Recorder) RecordRejection(_ string, state, event, reason string) {
	r.RejectionsTotal.WithLabelValues(state, event, reason).Inc()
}

func (r *Recorder) RecordTick(_ string, outcome workflow.Outcome, d time.Duration) {
	r.TicksTotal.WithLabelValues(outcome.String()).Inc()
	r.TickDuration.WithLabelValues(outcome.String()).Observe(d.Seconds())
}

func (r *Recorder) RecordLaunch() {
	r.RunsLaunched.Inc()
}

// Handler serves the registry the recorder was created on.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
