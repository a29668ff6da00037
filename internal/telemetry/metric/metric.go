// Package metric provides Prometheus metrics for ChatMesh.
//
// It exposes metrics in Prometheus format for monitoring message
// throughput, gossip activity, fanout delivery, and request latencies.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every metric exported by the node.
const namespace = "chatmesh"

// Metrics holds all application metrics, registered against a private
// registry so tests can create instances freely without duplicate
// registration panics.
type Metrics struct {
	registry *prometheus.Registry

	// Message metrics
	MessagesSent       prometheus.Counter
	MessagesReplicated prometheus.Counter
	MessagesDuplicate  prometheus.Counter
	RoomsTracked       prometheus.Gauge

	// Gossip metrics
	GossipRounds     prometheus.Counter
	GossipPushErrors prometheus.Counter
	GossipPullSynced prometheus.Counter

	// Fanout metrics
	FanoutPublished prometheus.Counter
	FanoutDelivered prometheus.Counter
	FanoutDropped   prometheus.Counter
	FanoutListeners prometheus.Gauge

	// Request metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates the application metric set on a fresh registry,
// including the standard Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "messages_sent_total",
			Help:      "Messages accepted from local clients",
		}),
		MessagesReplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "messages_replicated_total",
			Help:      "Messages accepted from peers via replication",
		}),
		MessagesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "messages_duplicate_total",
			Help:      "Replication deliveries ignored as duplicates",
		}),
		RoomsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "rooms_tracked",
			Help:      "Rooms with a live vector clock on this node",
		}),

		GossipRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "rounds_total",
			Help:      "Completed periodic gossip push rounds",
		}),
		GossipPushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "push_errors_total",
			Help:      "Per-message push failures during gossip rounds",
		}),
		GossipPullSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "pull_synced_total",
			Help:      "Messages ingested via on-demand pull sync",
		}),

		FanoutPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "published_total",
			Help:      "Messages published to the cluster bus",
		}),
		FanoutDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "delivered_total",
			Help:      "Messages delivered to local listeners",
		}),
		FanoutDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "dropped_total",
			Help:      "Bus payloads dropped as malformed or undeliverable",
		}),
		FanoutListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "listeners",
			Help:      "Currently connected local listeners",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		m.MessagesSent,
		m.MessagesReplicated,
		m.MessagesDuplicate,
		m.RoomsTracked,
		m.GossipRounds,
		m.GossipPushErrors,
		m.GossipPullSynced,
		m.FanoutPublished,
		m.FanoutDelivered,
		m.FanoutDropped,
		m.FanoutListeners,
		m.HTTPRequests,
		m.HTTPDuration,
	)

	return m
}

// Registry returns the underlying registry so other packages
// (e.g. storage) can register their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
