package tips

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	activeTips = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tips",
		Name:      "active",
		Help:      "Tips currently in the canonical collection.",
	})

	submitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tips",
		Name:      "submitted_total",
		Help:      "Tips accepted by the engine.",
	})

	reports = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tips",
		Name:      "reports_total",
		Help:      "Reports recorded against existing tips.",
	})

	comments = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tips",
		Name:      "comments_total",
		Help:      "Comments appended to tips.",
	})

	deletions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tips",
		Name:      "deleted_total",
		Help:      "Tips removed from the collection by reason.",
	}, []string{"reason"})

	rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tips",
		Name:      "rejected_total",
		Help:      "Submissions and comments rejected by validation.",
	}, []string{"reason"})

	storageFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tips",
		Name:      "storage_failures_total",
		Help:      "Mutations whose persistence failed and were kept in memory only.",
	})

	remoteFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tips",
		Name:      "remote_fallbacks_total",
		Help:      "Replica operations that failed and fell back to the local store.",
	}, []string{"op"})

	pruneRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tips",
		Name:      "prune_runs_total",
		Help:      "Scheduled expiry passes.",
	})

	tracer = otel.Tracer("github.com/example/community-tips/tips")
)

func init() {
	prometheus.MustRegister(activeTips, submitted, reports, comments, deletions, rejections, storageFailures, remoteFallbacks, pruneRuns)
}
