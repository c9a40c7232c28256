package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	localSaveLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "local_store",
		Name:      "save_seconds",
		Help:      "Latency for writing the tip collection to the local store.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	localTipCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "local_store",
		Name:      "tips",
		Help:      "Number of tips in the last successful local save.",
	})

	localCorrupt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "local_store",
		Name:      "corrupt_total",
		Help:      "Local loads that hit unreadable or malformed data.",
	}, []string{"stage"})

	journalAppendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "journal",
		Name:      "append_seconds",
		Help:      "Latency for appending tip events to the moderation journal.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"kind"})

	journalRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "journal",
		Name:      "retries_total",
		Help:      "Transient journal failures that were retried.",
	})

	journalTracer = otel.Tracer("github.com/example/community-tips/journal")
)

func init() {
	prometheus.MustRegister(localSaveLatency, localTipCount, localCorrupt, journalAppendLatency, journalRetries)
}
