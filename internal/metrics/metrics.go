// Package metrics exposes the draw service counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "giveaway"

// Rejection reasons used as label values.
const (
	ReasonWindowClosed    = "window_closed"
	ReasonQuotaExceeded   = "quota_exceeded"
	ReasonTicketExhausted = "ticket_space_exhausted"
	ReasonStorage         = "storage_error"
)

// Draw outcomes used as label values.
const (
	OutcomeWinner    = "winner"
	OutcomeNoEntries = "no_entries"
)

// Metrics は1プロセス分のカウンタ群。nilのまま使っても何もしない
type Metrics struct {
	registry *prometheus.Registry

	entriesAccepted prometheus.Counter
	entriesRejected *prometheus.CounterVec
	drawsPicked     *prometheus.CounterVec
	missedWindows   prometheus.Counter
	tickErrors      prometheus.Counter
	lastTick        prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		entriesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_accepted_total",
			Help:      "Number of accepted ticket submissions.",
		}),
		entriesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_rejected_total",
			Help:      "Number of rejected ticket submissions by reason.",
		}, []string{"reason"}),
		drawsPicked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draws_picked_total",
			Help:      "Number of committed draw picks by outcome.",
		}, []string{"outcome"}),
		missedWindows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draw_missed_windows_total",
			Help:      "Windows whose pick gate passed without a committed pick.",
		}),
		tickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_errors_total",
			Help:      "Scheduler ticks that failed and were retried on the next tick.",
		}),
		lastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_last_tick_timestamp_seconds",
			Help:      "Unix time of the last scheduler tick.",
		}),
	}

	m.registry.MustRegister(
		m.entriesAccepted,
		m.entriesRejected,
		m.drawsPicked,
		m.missedWindows,
		m.tickErrors,
		m.lastTick,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EntryAccepted() {
	if m == nil {
		return
	}
	m.entriesAccepted.Inc()
}

func (m *Metrics) EntryRejected(reason string) {
	if m == nil {
		return
	}
	m.entriesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) DrawPicked(outcome string) {
	if m == nil {
		return
	}
	m.drawsPicked.WithLabelValues(outcome).Inc()
}

func (m *Metrics) WindowMissed() {
	if m == nil {
		return
	}
	m.missedWindows.Inc()
}

func (m *Metrics) TickFailed() {
	if m == nil {
		return
	}
	m.tickErrors.Inc()
}

// Ticked records the time of the latest scheduler tick in unix seconds.
func (m *Metrics) Ticked(unixSeconds float64) {
	if m == nil {
		return
	}
	m.lastTick.Set(unixSeconds)
}
