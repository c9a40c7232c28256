package replica

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	replicaOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replica",
		Name:      "operations_total",
		Help:      "Remote replica writes by operation and result.",
	}, []string{"op", "result"})

	replicaSnapshots = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replica",
		Name:      "snapshots_total",
		Help:      "Snapshots delivered to subscribers.",
	})

	tracer = otel.Tracer("github.com/example/community-tips/replica")
)

func init() {
	prometheus.MustRegister(replicaOps, replicaSnapshots)
}
