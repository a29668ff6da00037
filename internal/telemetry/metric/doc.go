// Package metric provides Prometheus metrics for ChatMesh.
//
// This package implements metrics collection and exposition:
//
//   - metric.go: Prometheus registry, application metric set, HTTP handler
//
// Metrics include:
//
//   - Message counters (sent, replicated, duplicate)
//   - Gossip round and pull-sync counters
//   - Fanout delivery counters and listener gauge
//   - Request latency histograms
//
// Metrics are exposed at /metrics in Prometheus format. Storage size
// gauges register themselves against the same registry from the
// storage package.
package metric
