package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	upgradeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "feed",
		Name:      "upgrade_seconds",
		Help:      "Latency spent upgrading HTTP requests to feed websockets.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "feed",
		Name:      "connections",
		Help:      "Active feed websocket connections.",
	})

	broadcasts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "broadcasts_total",
		Help:      "Collection snapshots fanned out to feed clients.",
	})

	dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "dropped_clients_total",
		Help:      "Feed clients disconnected because their send buffer filled.",
	})

	tracer = otel.Tracer("github.com/example/community-tips/feed")
)

func init() {
	prometheus.MustRegister(upgradeLatency, connections, broadcasts, dropped)
}
