// Package metrics exposes Prometheus instruments for the automation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ExecutionsCreated  *prometheus.CounterVec
	ExecutionsFinished *prometheus.CounterVec
	Steps              *prometheus.CounterVec
	ActionAttempts     *prometheus.CounterVec
	ActionDuration     *prometheus.HistogramVec
	MatchDuration      prometheus.Histogram
	MatchFailures      prometheus.Counter
	SchedulerWakeups   *prometheus.CounterVec
	ArmedTimers        prometheus.Gauge
	LeaseConflicts     prometheus.Counter
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ExecutionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cartflow_executions_created_total",
				Help: "Executions created by the event matcher",
			},
			[]string{"automation_id", "event_type"},
		),
		ExecutionsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cartflow_executions_finished_total",
				Help: "Executions that reached a terminal status",
			},
			[]string{"status"},
		),
		Steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cartflow_steps_total",
				Help: "Steps recorded by node kind and outcome",
			},
			[]string{"node_kind", "outcome"},
		),
		ActionAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cartflow_action_attempts_total",
				Help: "Action dispatch attempts by kind and result",
			},
			[]string{"action_kind", "result"},
		),
		ActionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cartflow_action_duration_seconds",
				Help:    "Duration of action dispatches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action_kind"},
		),
		MatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cartflow_match_duration_seconds",
				Help:    "Duration of matching one domain event against all automations",
				Buckets: prometheus.DefBuckets,
			},
		),
		MatchFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cartflow_match_failures_total",
				Help: "Automations that failed while matching an event",
			},
		),
		SchedulerWakeups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cartflow_scheduler_wakeups_total",
				Help: "Executions handed to workers by the scheduler",
			},
			[]string{"source"},
		),
		ArmedTimers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cartflow_scheduler_armed_timers",
				Help: "Delay timers currently armed in this process",
			},
		),
		LeaseConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cartflow_lease_conflicts_total",
				Help: "Resumes skipped because another worker held the execution lease",
			},
		),
	}
}

// NewNop returns instruments registered on a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
