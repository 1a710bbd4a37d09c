// =============================================================================
// 📦 matrixflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"path/filepath"
	"time"
)

// DefaultStateDir 运行器状态（工作目录、缓存、历史）的默认位置
const DefaultStateDir = ".matrixflow"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Runner:    DefaultRunnerConfig(),
		Cache:     DefaultCacheConfig(),
		Coverage:  DefaultCoverageConfig(),
		Database:  DefaultDatabaseConfig(),
		Metrics:   DefaultMetricsConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultRunnerConfig 返回默认运行器配置
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		JITDisableVar: "NUMBA_DISABLE_JIT",
		WorkRoot:      filepath.Join(DefaultStateDir, "work"),
		ArtifactDir:   filepath.Join(DefaultStateDir, "artifacts"),
		SourceDir:     ".",
		SourceExclude: []string{".git", DefaultStateDir},
		EnvAllowlist: []string{
			"PATH", "LANG", "LC_ALL", "TERM", "USER", "USERNAME",
			"SYSTEMROOT", "COMSPEC", "PATHEXT", "WINDIR",
		},
		MaxOutputBytes: 1 << 20,
		DispatchBurst:  1,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:     true,
		Dir:         filepath.Join(DefaultStateDir, "cache"),
		RedisPrefix: "matrixflow:cache:",
	}
}

// DefaultCoverageConfig 返回默认覆盖率配置
func DefaultCoverageConfig() CoverageConfig {
	return CoverageConfig{
		Output:      filepath.Join(DefaultStateDir, "coverage.json"),
		Format:      "json",
		Concurrency: 8,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         true,
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		Name:            filepath.Join(DefaultStateDir, "history.db"),
		SSLMode:         "disable",
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "matrixflow",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     false,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "matrixflow",
		SampleRate:   1.0,
	}
}
