// Package metrics collects Prometheus instruments for the shell's runtime
// layer: reconciliation loops, the alert channel, the supervisor, and the
// dialog manager. Exposed by the debug server's /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a dedicated registry so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	PollTicks      *prometheus.CounterVec
	AlertsReceived prometheus.Counter
	AlertsDropped  prometheus.Counter
	BackendSpawns  prometheus.Counter
	BackendExits   *prometheus.CounterVec
	DialogRequests *prometheus.CounterVec
}

// New creates and registers all instruments.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		PollTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ainomaly_shell_poll_ticks_total",
				Help: "Reconciliation ticks by resource and outcome",
			},
			[]string{"resource", "outcome"},
		),
		AlertsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ainomaly_shell_alerts_received_total",
			Help: "Alert events accepted from the event stream",
		}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ainomaly_shell_alerts_dropped_total",
			Help: "Malformed or unparseable event payloads dropped",
		}),
		BackendSpawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ainomaly_shell_backend_spawns_total",
			Help: "Backend service processes spawned",
		}),
		BackendExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ainomaly_shell_backend_exits_total",
				Help: "Backend service exits by outcome",
			},
			[]string{"outcome"},
		),
		DialogRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ainomaly_shell_dialog_requests_total",
				Help: "Dialog requests by kind and result",
			},
			[]string{"kind", "result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.PollTicks,
		m.AlertsReceived,
		m.AlertsDropped,
		m.BackendSpawns,
		m.BackendExits,
		m.DialogRequests,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
