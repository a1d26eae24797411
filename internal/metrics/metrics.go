// Package metrics wraps the Prometheus collectors exposed by the registry
// process: one struct of promauto-constructed collectors, served over
// /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors used across the registry
// server, transport, and ack/retransmit loop.
type Registry struct {
	Connections connectionMetrics
	Services    serviceMetrics
	Acks        ackMetrics
}

type connectionMetrics struct {
	Active          prometheus.Gauge
	AcceptErrors    prometheus.Counter
	IdleDisconnects prometheus.Counter
}

type serviceMetrics struct {
	TrackedServices  prometheus.Gauge
	TrackedProviders prometheus.Gauge
	Publishes        prometheus.Counter
	Unpublishes      prometheus.Counter
	Subscribes       prometheus.Counter
}

type ackMetrics struct {
	PendingPushes prometheus.Gauge
	PushesSent    prometheus.Counter
	Retransmits   prometheus.Counter
	StaleDrops    prometheus.Counter
}

// NewRegistry creates the Prometheus metrics collectors.
func NewRegistry() *Registry {
	return &Registry{
		Connections: connectionMetrics{
			Active: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "registry_connections_active",
				Help: "Number of currently open provider/consumer connections.",
			}),
			AcceptErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "registry_accept_errors_total",
				Help: "Total number of connection accept errors.",
			}),
			IdleDisconnects: promauto.NewCounter(prometheus.CounterOpts{
				Name: "registry_idle_disconnects_total",
				Help: "Total number of connections closed by the idle-state checker.",
			}),
		},
		Services: serviceMetrics{
			TrackedServices: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "registry_tracked_services",
				Help: "Number of distinct services with at least one lazily-created entry.",
			}),
			TrackedProviders: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "registry_tracked_providers",
				Help: "Number of distinct provider addresses currently registered across all services.",
			}),
			Publishes: promauto.NewCounter(prometheus.CounterOpts{
				Name: "registry_publishes_total",
				Help: "Total number of effective (version-bumping) publish operations.",
			}),
			Unpublishes: promauto.NewCounter(prometheus.CounterOpts{
				Name: "registry_unpublishes_total",
				Help: "Total number of effective (version-bumping) unpublish operations.",
			}),
			Subscribes: promauto.NewCounter(prometheus.CounterOpts{
				Name: "registry_subscribes_total",
				Help: "Total number of subscribe operations handled.",
			}),
		},
		Acks: ackMetrics{
			PendingPushes: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "registry_pending_pushes",
				Help: "Number of pushes currently awaiting acknowledgement.",
			}),
			PushesSent: promauto.NewCounter(prometheus.CounterOpts{
				Name: "registry_pushes_sent_total",
				Help: "Total number of pushes written to subscriber connections.",
			}),
			Retransmits: promauto.NewCounter(prometheus.CounterOpts{
				Name: "registry_retransmits_total",
				Help: "Total number of pushes retransmitted after a 10s ack timeout.",
			}),
			StaleDrops: promauto.NewCounter(prometheus.CounterOpts{
				Name: "registry_stale_drops_total",
				Help: "Total number of pending pushes dropped because a newer version superseded them.",
			}),
		},
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
