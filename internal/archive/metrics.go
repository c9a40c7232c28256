package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	exports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archive",
		Name:      "exports_total",
		Help:      "Archive export attempts by result.",
	}, []string{"result"})

	exportBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "archive",
		Name:      "last_export_bytes",
		Help:      "Size of the most recent archive export.",
	})

	tracer = otel.Tracer("github.com/example/community-tips/archive")
)

func init() {
	prometheus.MustRegister(exports, exportBytes)
}
