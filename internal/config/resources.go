package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/community-tips/internal/storage"
)

// Resources bundles the external connections used by the server so that their
// lifecycle can be managed in a single place. Only Local is always present.
type Resources struct {
	Local    *storage.DB
	Postgres *pgxpool.Pool
	Redis    *redis.Client
	Object   *minio.Client
	cfg      Config
}

// NewResources opens the local store and whichever optional dependencies are
// configured. An unreachable Postgres or object store is logged and left
// nil; Redis reachability is decided later by the replica adapter.
func NewResources(ctx context.Context, cfg Config, logger zerolog.Logger) (*Resources, error) {
	badgerCfg := cfg.Badger()
	badgerCfg.Logger = &logger
	local, err := storage.OpenBadger(badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	res := &Resources{Local: local, cfg: cfg}

	if cfg.PostgresURL != "" {
		pool, err := connectPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Warn().Err(err).Msg("moderation journal disabled")
		} else {
			res.Postgres = pool
		}
	}

	if cfg.RedisAddr != "" {
		res.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	if cfg.ObjectEndpoint != "" {
		objectClient, err := minio.New(cfg.ObjectEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.ObjectAccessKey, cfg.ObjectSecretKey, ""),
			Secure: cfg.ObjectUseSSL,
			Region: cfg.ObjectRegion,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("tip archive disabled")
		} else {
			res.Object = objectClient
		}
	}

	return res, nil
}

func connectPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pgCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// HealthCheck verifies the dependencies that are in use. The local store is
// checked with a read transaction.
func (r *Resources) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	if r.Local.IsClosed() {
		errs = append(errs, errors.New("local store closed"))
	}
	if r.Postgres != nil {
		if err := r.Postgres.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres healthcheck failed: %w", err))
		}
	}
	if r.Redis != nil {
		if err := r.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis healthcheck failed: %w", err))
		}
	}
	// MinIO/S3 doesn't expose a ping, so we attempt to stat the configured bucket.
	if r.Object != nil {
		if _, err := r.Object.BucketExists(ctx, r.cfg.ObjectBucket); err != nil {
			errs = append(errs, fmt.Errorf("object storage healthcheck failed: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close disposes all active connections.
func (r *Resources) Close() {
	if r.Postgres != nil {
		r.Postgres.Close()
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.Local != nil {
		_ = r.Local.Close()
	}
}
