package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/community-tips/internal/ingest"
	"github.com/example/community-tips/internal/storage"
	"github.com/example/community-tips/internal/tips"
)

// Config represents the application configuration sourced from the environment.
type Config struct {
	AppName             string
	HTTPListenAddr      string
	MetricsAddr         string
	LocalStorePath      string
	PostgresURL         string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	ObjectEndpoint      string
	ObjectRegion        string
	ObjectBucket        string
	ObjectAccessKey     string
	ObjectSecretKey     string
	ObjectUseSSL        bool
	CORSOrigins         []string
	OffendersCSV        string
	OffendersCounty     string
	OffendersSample     bool
	IncidentsCSV        string
	SubmitPerMinute     int
	ArchiveInterval     time.Duration
	ShutdownTimeout     time.Duration
	HealthcheckInterval time.Duration
	OTLPEndpoint        string

	TipTTL               time.Duration
	TipReportThreshold   int
	TipMaxImageBytes     int
	TipSubscriptionLimit int
	TipPruneInterval     time.Duration
}

// Load reads configuration from the environment, after merging a .env file
// from the working directory when one exists. Redis, Postgres and object
// storage are optional; leaving their address empty disables them.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:             getEnv("APP_NAME", "community-tips"),
		HTTPListenAddr:      getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsAddr:         getEnv("METRICS_LISTEN_ADDR", ":9090"),
		LocalStorePath:      getEnv("LOCAL_STORE_PATH", "./data/tips"),
		PostgresURL:         os.Getenv("POSTGRES_URL"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getInt("REDIS_DB", 0),
		ObjectEndpoint:      os.Getenv("OBJECT_ENDPOINT"),
		ObjectRegion:        getEnv("OBJECT_REGION", "us-east-1"),
		ObjectBucket:        getEnv("OBJECT_BUCKET", "community-tips"),
		ObjectAccessKey:     os.Getenv("OBJECT_ACCESS_KEY"),
		ObjectSecretKey:     os.Getenv("OBJECT_SECRET_KEY"),
		ObjectUseSSL:        getBool("OBJECT_USE_SSL", false),
		CORSOrigins:         getList("CORS_ALLOWED_ORIGINS"),
		OffendersCSV:        os.Getenv("OFFENDERS_CSV"),
		OffendersCounty:     getEnv("OFFENDERS_COUNTY", ingest.DefaultCounty),
		OffendersSample:     getBool("OFFENDERS_SAMPLE", true),
		IncidentsCSV:        os.Getenv("INCIDENTS_CSV"),
		SubmitPerMinute:     getInt("SUBMIT_RATE_PER_MINUTE", 10),
		ArchiveInterval:     getDuration("ARCHIVE_INTERVAL", 15*time.Minute),
		ShutdownTimeout:     getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		HealthcheckInterval: getDuration("HEALTHCHECK_INTERVAL", 30*time.Second),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		TipTTL:               time.Duration(getInt("TIP_TTL_DAYS", 7)) * 24 * time.Hour,
		TipReportThreshold:   getInt("TIP_REPORT_THRESHOLD", tips.DefaultReportThreshold),
		TipMaxImageBytes:     getInt("TIP_MAX_IMAGE_BYTES", tips.DefaultMaxImageBytes),
		TipSubscriptionLimit: getInt("TIP_SUBSCRIPTION_LIMIT", tips.DefaultSubscriptionLimit),
		TipPruneInterval:     getDuration("TIP_PRUNE_INTERVAL", tips.DefaultPruneInterval),
	}

	if cfg.ObjectEndpoint != "" && (cfg.ObjectAccessKey == "" || cfg.ObjectSecretKey == "") {
		return Config{}, fmt.Errorf("object storage credentials must be provided when OBJECT_ENDPOINT is set")
	}
	if cfg.TipReportThreshold <= 0 {
		return Config{}, fmt.Errorf("TIP_REPORT_THRESHOLD must be positive, got %d", cfg.TipReportThreshold)
	}
	if cfg.TipTTL <= 0 {
		return Config{}, fmt.Errorf("TIP_TTL_DAYS must be positive")
	}

	return cfg, nil
}

// Tips returns the engine tunables.
func (c Config) Tips() tips.Config {
	return tips.Config{
		TTL:               c.TipTTL,
		ReportThreshold:   c.TipReportThreshold,
		MaxImageBytes:     c.TipMaxImageBytes,
		SubscriptionLimit: c.TipSubscriptionLimit,
		PruneInterval:     c.TipPruneInterval,
		MaxCommentLength:  tips.DefaultMaxCommentLength,
	}
}

// Badger returns the local store settings.
func (c Config) Badger() storage.BadgerConfig {
	return storage.DefaultBadgerConfig(c.LocalStorePath)
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
