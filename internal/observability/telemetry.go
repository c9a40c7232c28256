package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config describes the running tip service for its exporters. The tip
// fields end up as resource attributes on every exported span.
type Config struct {
	ServiceName  string
	MetricsAddr  string
	OTLPEndpoint string

	PersistenceMode string
	ReportThreshold int
	TTL             time.Duration
}

var dependencyUp = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "dependencies",
	Name:      "healthy",
	Help:      "1 when the last dependency check succeeded, 0 otherwise.",
})

func init() {
	prometheus.MustRegister(dependencyUp)
}

// Start serves /metrics and, when an OTLP endpoint is set, exports traces.
// Go runtime and process metrics come from the default registry. The returned
// func flushes spans and stops the metrics listener.
func Start(ctx context.Context, cfg Config, logger zerolog.Logger) (func(context.Context) error, error) {
	provider, err := startTracing(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	metricsSrv := startMetrics(cfg.MetricsAddr, logger)

	return func(ctx context.Context) error {
		var errs []error
		if metricsSrv != nil {
			errs = append(errs, metricsSrv.Shutdown(ctx))
		}
		if provider != nil {
			errs = append(errs, provider.Shutdown(ctx))
		}
		return errors.Join(errs...)
	}, nil
}

func startTracing(ctx context.Context, cfg Config, logger zerolog.Logger) (*sdktrace.TracerProvider, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, nil
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(serviceResource(cfg)),
	)
	otel.SetTracerProvider(provider)
	logger.Info().Str("endpoint", cfg.OTLPEndpoint).Str("mode", cfg.PersistenceMode).Msg("otlp tracing enabled")
	return provider, nil
}

func serviceResource(cfg Config) *resource.Resource {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.PersistenceMode != "" {
		attrs = append(attrs, attribute.String("tips.persistence_mode", cfg.PersistenceMode))
	}
	if cfg.ReportThreshold > 0 {
		attrs = append(attrs, attribute.Int("tips.report_threshold", cfg.ReportThreshold))
	}
	if cfg.TTL > 0 {
		attrs = append(attrs, attribute.Int64("tips.ttl_hours", int64(cfg.TTL/time.Hour)))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func startMetrics(addr string, logger zerolog.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("metrics server started")
	return srv
}

// WatchDependencies runs check every interval until ctx ends, logging and
// exporting the outcome.
func WatchDependencies(ctx context.Context, interval time.Duration, check func(context.Context) error, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := check(ctx); err != nil {
				dependencyUp.Set(0)
				logger.Error().Err(err).Msg("dependency healthcheck failed")
			} else {
				dependencyUp.Set(1)
				logger.Debug().Msg("dependency healthcheck ok")
			}
		case <-ctx.Done():
			return
		}
	}
}

// LoggerWithTrace tags logger with the trace and span of ctx, if any.
func LoggerWithTrace(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With().Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String()).Logger()
}
