package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// No config.yaml in a fresh temp dir
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/api", cfg.Service.BaseURL)
	assert.Equal(t, "default", cfg.Service.Model)
	assert.Equal(t, "medcpt", cfg.Service.Reranker)
	assert.Equal(t, 30*time.Second, cfg.Service.Timeout())
	assert.Equal(t, 120*time.Second, cfg.Service.BatchTimeout())
	assert.Equal(t, 3, cfg.Service.MaxRetries)
	assert.Equal(t, 500, cfg.Service.BackoffBaseMs)
	assert.Zero(t, cfg.Service.RateLimit)
	assert.Equal(t, 500, cfg.Orchestrator.BatchThreshold)
	assert.Equal(t, 3, cfg.Orchestrator.Concurrency)
	assert.Equal(t, 1000, cfg.Orchestrator.PollIntervalMs)
	assert.Equal(t, 120, cfg.Orchestrator.PollTimeoutSecs)
	assert.Equal(t, 3, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 300, cfg.Circuit.ResetTimeoutSecs)
	assert.InDelta(t, 0.85, cfg.Review.LowConfidence, 0.001)
	assert.InDelta(t, 0.15, cfg.Review.ConfidenceGap, 0.001)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.NoError(t, cfg.Validate("process"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
service:
  base_url: https://cleaner.internal/api
  model: experimental
log:
  level: debug
  format: console
orchestrator:
  batch_threshold: 250
server:
  port: 9090
  allowed_origins:
    - https://review.internal
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://cleaner.internal/api", cfg.Service.BaseURL)
	assert.Equal(t, "experimental", cfg.Service.Model)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 250, cfg.Orchestrator.BatchThreshold)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://review.internal"}, cfg.Server.AllowedOrigins)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Orchestrator.Concurrency)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
service:
  model: experimental
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("EXAMCLEAN_SERVICE_MODEL", "stable")
	t.Setenv("EXAMCLEAN_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "stable", cfg.Service.Model)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("EXAMCLEAN_SERVER_PORT", "3000")
	t.Setenv("EXAMCLEAN_ORCHESTRATOR_CONCURRENCY", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Orchestrator.Concurrency)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("service: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Service.BaseURL = "http://localhost:8000/api"
	cfg.Service.MaxRetries = 3
	cfg.Service.TimeoutMs = 30000
	cfg.Orchestrator.BatchThreshold = 500
	cfg.Orchestrator.Concurrency = 3
	cfg.Orchestrator.PollIntervalMs = 1000
	cfg.Orchestrator.PollTimeoutSecs = 120
	cfg.Review.LowConfidence = 0.85
	cfg.Review.ConfidenceGap = 0.15
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")

	assert.NoError(t, cfg.Validate("process"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Service.BaseURL = " "
	cfg.Service.MaxRetries = 0
	cfg.Orchestrator.Concurrency = 33
	cfg.Review.LowConfidence = 1.5

	err := cfg.Validate("process")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service.base_url is required")
	assert.Contains(t, err.Error(), "service.max_retries must be between 1 and 10")
	assert.Contains(t, err.Error(), "orchestrator.concurrency must be between 1 and 32")
	assert.Contains(t, err.Error(), "review.low_confidence")
}
