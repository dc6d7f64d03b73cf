package engine

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports pipeline counters on a Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	EventsIngested prometheus.Counter
	ThreatsEmitted prometheus.Counter
	EventsDropped  prometheus.Gauge
	AlertsDropped  prometheus.Gauge
	WindowsActive  prometheus.Gauge
	StoreDegraded  prometheus.Gauge
}

// NewMetrics creates and registers the metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ransomd_events_ingested_total",
			Help: "Normalized file events handed to the analyzer.",
		}),
		ThreatsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ransomd_threats_emitted_total",
			Help: "Threat records emitted by the analyzer.",
		}),
		EventsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ransomd_events_dropped",
			Help: "Events shed on analyzer queue overflow.",
		}),
		AlertsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ransomd_alerts_dropped",
			Help: "Alert messages lost to slow sinks.",
		}),
		WindowsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ransomd_windows_active",
			Help: "Process windows currently tracked.",
		}),
		StoreDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ransomd_store_degraded",
			Help: "1 while the event store refuses non-threat appends.",
		}),
	}
	reg.MustRegister(
		m.EventsIngested, m.ThreatsEmitted,
		m.EventsDropped, m.AlertsDropped, m.WindowsActive, m.StoreDegraded,
	)
	return m
}

// Serve exposes /metrics on addr until the server fails. Intended to run on
// its own goroutine.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
