package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/community-tips/internal/archive"
	"github.com/example/community-tips/internal/config"
	"github.com/example/community-tips/internal/feed"
	apihttp "github.com/example/community-tips/internal/http"
	"github.com/example/community-tips/internal/ingest"
	"github.com/example/community-tips/internal/observability"
	"github.com/example/community-tips/internal/replica"
	"github.com/example/community-tips/internal/storage"
	"github.com/example/community-tips/internal/tips"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resources, err := config.NewResources(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize resources")
	}
	defer resources.Close()

	local := storage.NewLocalStore(resources.Local, logger.With().Str("component", "local_store").Logger())
	remote := replica.NewRedis(ctx, resources.Redis, logger.With().Str("component", "replica").Logger())
	backend := tips.SelectBackend(remote, local, logger)

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:     cfg.AppName,
		MetricsAddr:     cfg.MetricsAddr,
		OTLPEndpoint:    cfg.OTLPEndpoint,
		PersistenceMode: string(backend.Mode()),
		ReportThreshold: cfg.TipReportThreshold,
		TTL:             cfg.TipTTL,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	var objects *archive.MinioStore
	if resources.Object != nil {
		objects = archive.NewMinioStore(resources.Object, cfg.ObjectBucket)
		if err := objects.EnsureBucket(ctx, cfg.ObjectRegion); err != nil {
			logger.Warn().Err(err).Msg("tip archive disabled")
			objects = nil
		}
	}
	if objects != nil && backend.Mode() == tips.ModeLocal {
		seedFromArchive(ctx, objects, local, logger)
	}

	engine := tips.NewEngine(backend, cfg.Tips(), logger.With().Str("component", "tips").Logger())

	var journalWriter *storage.JournalWriter
	if resources.Postgres != nil {
		journal := storage.NewJournal(resources.Postgres)
		if err := journal.EnsureSchema(ctx); err != nil {
			logger.Warn().Err(err).Msg("moderation journal disabled")
		} else {
			journalWriter = storage.NewJournalWriter(journal, logger.With().Str("component", "journal").Logger(), 0)
			engine.Subscribe(journalWriter.Enqueue)
			go journalWriter.Run(ctx)
		}
	}

	hub := feed.NewHub(engine, logger.With().Str("component", "feed").Logger(), feed.Config{AllowedOrigins: cfg.CORSOrigins})
	hub.Start()

	if err := engine.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start tip engine")
	}
	defer engine.Close()
	logger.Info().Str("mode", string(engine.Mode())).Int("tips", len(engine.Tips())).Msg("tip engine started")

	if objects != nil {
		archive.NewWorker(engine, objects, logger.With().Str("component", "archive").Logger(), archive.WithInterval(cfg.ArchiveInterval)).Start(ctx)
	}

	router := apihttp.NewRouter(apihttp.Deps{
		Tips:            engine,
		Feed:            hub,
		Offenders:       loadOffenders(cfg, logger),
		Incidents:       loadIncidents(cfg, logger),
		AllowedOrigins:  cfg.CORSOrigins,
		SubmitPerMinute: cfg.SubmitPerMinute,
		MaxImageBytes:   cfg.TipMaxImageBytes,
		Health:          resources.HealthCheck,
		Logger:          logger.With().Str("component", "http").Logger(),
	})
	httpServer := &http.Server{Addr: cfg.HTTPListenAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	go observability.WatchDependencies(ctx, cfg.HealthcheckInterval, resources.HealthCheck, logger)

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	if journalWriter != nil {
		select {
		case <-journalWriter.Done():
		case <-shutdownCtx.Done():
			logger.Error().Err(shutdownCtx.Err()).Msg("forced shutdown; journal not drained")
		}
	}
	logger.Info().Msg("shutdown complete")
}

// seedFromArchive restores the last export into an empty local store.
func seedFromArchive(ctx context.Context, objects archive.ObjectStore, local *storage.LocalStore, logger zerolog.Logger) {
	if len(local.Load(ctx)) > 0 {
		return
	}
	restored, err := archive.Restore(ctx, objects, "")
	if errors.Is(err, archive.ErrNoArchive) {
		return
	}
	if err != nil {
		logger.Warn().Err(err).Msg("archive restore failed; starting empty")
		return
	}
	if err := local.Save(ctx, restored); err != nil {
		logger.Warn().Err(err).Msg("failed to seed local store from archive")
		return
	}
	logger.Info().Int("tips", len(restored)).Msg("local store seeded from archive")
}

// loadOffenders reads the configured registry CSV. Without one, or when it
// cannot be read, the sample registry is served if OFFENDERS_SAMPLE allows.
func loadOffenders(cfg config.Config, logger zerolog.Logger) []ingest.Offender {
	fallback := func() []ingest.Offender {
		if !cfg.OffendersSample {
			return nil
		}
		logger.Warn().Msg("serving sample offender registry")
		return ingest.SampleOffenders()
	}
	if cfg.OffendersCSV == "" {
		return fallback()
	}
	f, err := os.Open(cfg.OffendersCSV)
	if err != nil {
		logger.Warn().Err(err).Msg("offender registry unavailable")
		return fallback()
	}
	defer f.Close()

	list, err := ingest.ParseOffenders(f, cfg.OffendersCounty)
	if err != nil {
		logger.Warn().Err(err).Msg("offender registry unreadable")
		return fallback()
	}
	logger.Info().Int("offenders", len(list)).Str("county", cfg.OffendersCounty).Msg("offender registry loaded")
	return list
}

func loadIncidents(cfg config.Config, logger zerolog.Logger) []ingest.Incident {
	if cfg.IncidentsCSV == "" {
		return nil
	}
	f, err := os.Open(cfg.IncidentsCSV)
	if err != nil {
		logger.Warn().Err(err).Msg("incident log unavailable")
		return nil
	}
	defer f.Close()

	list, err := ingest.ParseIncidents(f)
	if err != nil {
		logger.Warn().Err(err).Msg("incident log unreadable")
		return nil
	}
	logger.Info().Int("incidents", len(list)).Msg("incident log loaded")
	return list
}
