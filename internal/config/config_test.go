package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkhub/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 1000, cfg.Engine.MaxBatchSize)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Security.RateLimit.Enabled)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingPeriod)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BULKHUB_SERVER_PORT", "9090")
	t.Setenv("BULKHUB_ENGINE_WORKERS", "32")
	t.Setenv("BULKHUB_ENGINE_MAX_BATCH_SIZE", "250")
	t.Setenv("BULKHUB_LOGGING_LEVEL", "debug")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 32, cfg.Engine.Workers)
	assert.Equal(t, 250, cfg.Engine.MaxBatchSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port out of range", "BULKHUB_SERVER_PORT", "70000"},
		{"negative workers", "BULKHUB_ENGINE_WORKERS", "-1"},
		{"zero batch size", "BULKHUB_ENGINE_MAX_BATCH_SIZE", "-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadNormalizesLoggingFormat(t *testing.T) {
	t.Setenv("BULKHUB_LOGGING_FORMAT", "xml")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Logging.Format)
}
