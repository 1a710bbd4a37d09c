package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, CacheConfig{}, cfg.Cache)
	assert.NotEqual(t, CoverageConfig{}, cfg.Coverage)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, MetricsConfig{}, cfg.Metrics)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEmpty(t, cfg.Runner.WorkRoot)
	assert.NotEmpty(t, cfg.Log.Level)
}

func TestDefaultConfig_Valid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

// --- Individual Default*Config functions ---

func TestDefaultRunnerConfig(t *testing.T) {
	cfg := DefaultRunnerConfig()
	assert.Empty(t, cfg.Parallelism)
	assert.False(t, cfg.DisableJIT)
	assert.Equal(t, "NUMBA_DISABLE_JIT", cfg.JITDisableVar)
	assert.Equal(t, filepath.Join(".matrixflow", "work"), cfg.WorkRoot)
	assert.Contains(t, cfg.SourceExclude, ".git")
	assert.Contains(t, cfg.SourceExclude, DefaultStateDir)
	assert.Contains(t, cfg.EnvAllowlist, "PATH")
	assert.Equal(t, 1<<20, cfg.MaxOutputBytes)
	assert.Zero(t, cfg.StepTimeout)
}

func TestDefaultCacheConfig(t *testing.T) {
	cfg := DefaultCacheConfig()
	assert.True(t, cfg.Enabled)
	assert.Zero(t, cfg.TTL, "entries never expire by default")
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, "matrixflow:cache:", cfg.RedisPrefix)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, filepath.Join(".matrixflow", "history.db"), cfg.Name)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, []string{"stderr"}, cfg.OutputPaths)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "matrixflow", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}
