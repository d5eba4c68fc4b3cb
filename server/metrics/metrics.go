// Package metrics exposes the engine's counters on /metrics for scraping.
// The hot path only touches atomics; Prometheus reads them lazily through
// GaugeFunc collectors when a scrape arrives.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Tick pipeline
	TicksProcessed atomic.Uint64
	TicksSkipped   atomic.Uint64

	// Violation lifecycle
	ViolationsOpened atomic.Uint64
	ViolationsClosed atomic.Uint64
	OpensSuppressed  atomic.Uint64 // Debounce gate drops
	OpenViolations   atomic.Uint64 // Currently open intervals

	// Evidence capture
	CapturesStarted atomic.Uint64
	CapturesStopped atomic.Uint64
	CaptureFailures atomic.Uint64

	// Sessions
	SessionsTotal  atomic.Uint64
	SessionRunning atomic.Uint64 // 0 or 1

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own Prometheus registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	gauge := func(name, help string, read func() uint64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return float64(read()) },
		))
	}

	gauge("proctor_ticks_processed_total", "Total sampling ticks processed", m.TicksProcessed.Load)
	gauge("proctor_ticks_skipped_total", "Ticks skipped (no frame, or classifier over budget)", m.TicksSkipped.Load)
	gauge("proctor_violations_opened_total", "Violation intervals opened", m.ViolationsOpened.Load)
	gauge("proctor_violations_closed_total", "Violation intervals closed", m.ViolationsClosed.Load)
	gauge("proctor_opens_suppressed_total", "Interval openings suppressed by the debounce gate", m.OpensSuppressed.Load)
	gauge("proctor_open_violations", "Currently open violation intervals", m.OpenViolations.Load)
	gauge("proctor_captures_started_total", "Evidence captures started", m.CapturesStarted.Load)
	gauge("proctor_captures_stopped_total", "Evidence captures finished", m.CapturesStopped.Load)
	gauge("proctor_capture_failures_total", "Capture start/stop/write failures", m.CaptureFailures.Load)
	gauge("proctor_sessions_total", "Proctoring sessions started", m.SessionsTotal.Load)
	gauge("proctor_session_running", "1 while a session is running", m.SessionRunning.Load)
}

// RegisterWebhookStats hooks the notifier's delivery counters into the
// scrape surface. Called once at wire-up.
func (m *Metrics) RegisterWebhookStats(sent, failed func() int64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "proctor_webhooks_sent_total", Help: "Webhook notifications delivered"},
		func() float64 { return float64(sent()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "proctor_webhook_errors_total", Help: "Webhook notification failures"},
		func() float64 { return float64(failed()) },
	))
}

// Handler returns the Prometheus scrape handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
