// Package metrics exposes Prometheus instruments for the orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"PaperBlogBot/internal/domain"
)

const namespace = "paperblogbot"

// Collector groups all instruments on a private registry. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	stageDuration    *prometheus.HistogramVec
	fallbacks        *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	events           *prometheus.CounterVec
	checkpointWrites *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	inflight         prometheus.Gauge
}

// New registers every instrument on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall-clock duration of pipeline stages",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage", "outcome"},
		),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Degraded results produced by documented fallbacks",
			},
			[]string{"stage", "reason"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Workflow state transitions",
			},
			[]string{"from", "to"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Inbound front-end events by kind",
			},
			[]string{"kind", "result"},
		),
		checkpointWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoint_writes_total",
				Help:      "Checkpoint writes by stage label and status",
			},
			[]string{"stage", "status"},
		),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions with a live mailbox",
		}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_transitions",
			Help:      "Transitions currently holding a worker slot",
		}),
	}
}

// Registry returns the registry backing /metrics.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveStage records one stage run.
func (c *Collector) ObserveStage(stage string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.stageDuration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

// Fallback counts a degraded result.
func (c *Collector) Fallback(stage, reason string) {
	if c == nil {
		return
	}
	c.fallbacks.WithLabelValues(stage, reason).Inc()
}

// Transition counts a state change.
func (c *Collector) Transition(from, to domain.State) {
	if c == nil || from == to {
		return
	}
	c.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// Event counts an inbound event; result is "applied", "duplicate" or "rejected".
func (c *Collector) Event(kind domain.EventKind, result string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(string(kind), result).Inc()
}

// CheckpointWrite counts a checkpoint write attempt.
func (c *Collector) CheckpointWrite(stage string, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.checkpointWrites.WithLabelValues(stage, status).Inc()
}

// SessionOpened and SessionClosed track live mailboxes.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}

// InflightAdd adjusts the number of transitions holding a worker slot.
func (c *Collector) InflightAdd(delta float64) {
	if c == nil {
		return
	}
	c.inflight.Add(delta)
}
