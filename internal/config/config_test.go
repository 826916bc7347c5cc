package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "rescue-dispatch", cfg.AppName)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.Dispatch.AllowUnknownVehicles)
	assert.False(t, cfg.Dispatch.StrictAdvance)
	assert.Zero(t, cfg.Dispatch.PendingTTL)
	assert.True(t, cfg.Notify.Log)
	assert.Empty(t, cfg.Notify.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DISPATCH_STRICT_ADVANCE", "true")
	t.Setenv("DISPATCH_PENDING_TTL", "6h")
	t.Setenv("NOTIFY_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("AUTH_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Dispatch.StrictAdvance)
	assert.Equal(t, 6*time.Hour, cfg.Dispatch.PendingTTL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Notify.KafkaBrokers)
	assert.False(t, cfg.Auth.Enabled)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("DISPATCH_EXPIRE_INTERVAL", "soon")

	_, err := Load()
	assert.Error(t, err)
}
