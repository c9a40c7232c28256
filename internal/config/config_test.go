package config

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/community-tips/internal/storage"
	"github.com/example/community-tips/internal/tips"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"REDIS_ADDR", "POSTGRES_URL", "OBJECT_ENDPOINT", "TIP_TTL_DAYS", "TIP_REPORT_THRESHOLD", "CORS_ALLOWED_ORIGINS", "OFFENDERS_SAMPLE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "community-tips", cfg.AppName)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.PostgresURL)
	assert.Equal(t, "BARTOW", cfg.OffendersCounty)
	assert.True(t, cfg.OffendersSample)
	assert.Equal(t, 15*time.Minute, cfg.ArchiveInterval)

	tc := cfg.Tips()
	assert.Equal(t, 7*24*time.Hour, tc.TTL)
	assert.Equal(t, 5, tc.ReportThreshold)
	assert.Equal(t, tips.DefaultMaxImageBytes, tc.MaxImageBytes)
	assert.Equal(t, time.Hour, tc.PruneInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TIP_TTL_DAYS", "3")
	t.Setenv("TIP_REPORT_THRESHOLD", "2")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOCAL_STORE_PATH", storage.InMemoryPath)
	t.Setenv("OBJECT_ENDPOINT", "")
	t.Setenv("OFFENDERS_SAMPLE", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.OffendersSample)
	assert.Equal(t, 72*time.Hour, cfg.Tips().TTL)
	assert.Equal(t, 2, cfg.Tips().ReportThreshold)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.Badger().InMemory)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OBJECT_ENDPOINT", "localhost:9000")
	t.Setenv("OBJECT_ACCESS_KEY", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("OBJECT_ENDPOINT", "")
	t.Setenv("TIP_REPORT_THRESHOLD", "0")
	_, err = Load()
	assert.Error(t, err)
}

func TestResourcesLocalOnly(t *testing.T) {
	cfg := Config{LocalStorePath: storage.InMemoryPath}
	res, err := NewResources(context.Background(), cfg, zerolog.New(io.Discard))
	require.NoError(t, err)

	assert.Nil(t, res.Postgres)
	assert.Nil(t, res.Redis)
	assert.Nil(t, res.Object)
	assert.NoError(t, res.HealthCheck(context.Background()))

	res.Close()
	assert.Error(t, res.HealthCheck(context.Background()))
}
