// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the narrow interface the core and jobs report through.
type Recorder interface {
	RecordTimeAction(action, outcome string)
	RecordAppendFailure()
	RecordNotification(kind string)
	RecordSweep(reset bool)
}

type Collector struct {
	timeActions   *prometheus.CounterVec
	appendFail    prometheus.Counter
	notifications *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		timeActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timecard_time_actions_total",
			Help: "Time actions performed, by action and outcome.",
		}, []string{"action", "outcome"}),
		appendFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecard_log_append_failures_total",
			Help: "Attendance log appends that were rejected or timed out.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timecard_notifications_total",
			Help: "Best-effort notifications emitted, by kind.",
		}, []string{"kind"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timecard_day_sweeps_total",
			Help: "Day-boundary sweep runs, by whether a reset happened.",
		}, []string{"reset"}),
	}
	reg.MustRegister(c.timeActions, c.appendFail, c.notifications, c.sweeps)
	return c
}

func (c *Collector) RecordTimeAction(action, outcome string) {
	c.timeActions.WithLabelValues(action, outcome).Inc()
}

func (c *Collector) RecordAppendFailure() {
	c.appendFail.Inc()
}

func (c *Collector) RecordNotification(kind string) {
	c.notifications.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordSweep(reset bool) {
	label := "false"
	if reset {
		label = "true"
	}
	c.sweeps.WithLabelValues(label).Inc()
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) RecordTimeAction(string, string) {}
func (Noop) RecordAppendFailure()            {}
func (Noop) RecordNotification(string)       {}
func (Noop) RecordSweep(bool)                {}
