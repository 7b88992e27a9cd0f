package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Version)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)

	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Empty(t, cfg.Database.URL, "no database unless configured")

	assert.Equal(t, 5*time.Second, cfg.Redis.DialTimeout)

	assert.Equal(t, 60*time.Minute, cfg.Monitoring.DedupWindow)
	assert.Equal(t, 2.0, cfg.Monitoring.ZScoreThreshold)
	assert.Equal(t, 0.5, cfg.Monitoring.FrequencyThreshold)
	assert.Equal(t, time.Minute, cfg.Monitoring.EvaluationTick)
	assert.Equal(t, 5*time.Minute, cfg.Monitoring.SweepInterval)

	assert.Equal(t, 10*time.Second, cfg.Notify.WebhookTimeout)
	assert.Equal(t, ":9091", cfg.Metrics.ListenAddr)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("BSM_ENVIRONMENT", "production")
	t.Setenv("BSM_VERSION", "1.4.2")
	t.Setenv("BSM_DATABASE_URL", "postgres://monitor:secret@db:5432/bsm")
	t.Setenv("BSM_REDIS_URL", "redis:6379")
	t.Setenv("BSM_REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "1.4.2", cfg.Version)
	assert.Equal(t, "postgres://monitor:secret@db:5432/bsm", cfg.Database.URL)
	assert.Equal(t, "redis:6379", cfg.Redis.URL)
	assert.Equal(t, 3, cfg.Redis.DB)

	// Untouched keys keep their defaults.
	assert.Equal(t, 60*time.Minute, cfg.Monitoring.DedupWindow)
}
