// =============================================================================
// 📦 matrixflow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("matrixflow.yaml").
//	    WithEnvPrefix("MATRIXFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 matrixflow 的完整配置结构
type Config struct {
	// Runner 调度与执行配置
	Runner RunnerConfig `yaml:"runner" env:"RUNNER"`

	// Cache 依赖缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Coverage 覆盖率合并配置
	Coverage CoverageConfig `yaml:"coverage" env:"COVERAGE"`

	// Database 运行历史数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Metrics 指标导出配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// RunnerConfig 调度与执行配置
type RunnerConfig struct {
	// 并行度: "N" 或 "outer,inner"；空表示每个 CPU 一个作业
	Parallelism string `yaml:"parallelism" env:"PARALLELISM"`
	// 关闭运行时 JIT
	DisableJIT bool `yaml:"disable_jit" env:"DISABLE_JIT"`
	// 关闭 JIT 时注入的环境变量名
	JITDisableVar string `yaml:"jit_disable_var" env:"JIT_DISABLE_VAR"`
	// 宿主运行时版本，条件中可见为 host.runtime
	RuntimeVersion string `yaml:"runtime_version" env:"RUNTIME_VERSION"`
	// 资源类并发上限
	ResourceLimits map[string]int `yaml:"resource_limits" env:"RESOURCE_LIMITS"`
	// 作业工作目录根
	WorkRoot string `yaml:"work_root" env:"WORK_ROOT"`
	// 覆盖率产物目录
	ArtifactDir string `yaml:"artifact_dir" env:"ARTIFACT_DIR"`
	// 拷贝进每个作业目录的源码目录
	SourceDir string `yaml:"source_dir" env:"SOURCE_DIR"`
	// 不拷贝的文件名
	SourceExclude []string `yaml:"source_exclude" env:"SOURCE_EXCLUDE"`
	// 保留作业工作目录
	KeepWorkDirs bool `yaml:"keep_work_dirs" env:"KEEP_WORK_DIRS"`
	// 透传给作业的宿主环境变量
	EnvAllowlist []string `yaml:"env_allowlist" env:"ENV_ALLOWLIST"`
	// 每个输出流保留的最大字节数
	MaxOutputBytes int `yaml:"max_output_bytes" env:"MAX_OUTPUT_BYTES"`
	// 未声明 timeout 的步骤的超时，0 表示不限
	StepTimeout time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT"`
	// 每秒启动作业数上限，0 表示不限
	DispatchRate float64 `yaml:"dispatch_rate" env:"DISPATCH_RATE"`
	// 启动突发量
	DispatchBurst int `yaml:"dispatch_burst" env:"DISPATCH_BURST"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 缓存目录
	Dir string `yaml:"dir" env:"DIR"`
	// 条目有效期，0 表示永不过期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Redis 共享索引地址，空表示不启用
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
	// Redis 密码
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	// Redis 数据库编号
	RedisDB int `yaml:"redis_db" env:"REDIS_DB"`
	// Redis 键前缀
	RedisPrefix string `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	// Redis 连接是否使用 TLS
	RedisTLS bool `yaml:"redis_tls" env:"REDIS_TLS"`
}

// CoverageConfig 覆盖率配置
type CoverageConfig struct {
	// 合并报告输出路径，空表示不输出
	Output string `yaml:"output" env:"OUTPUT"`
	// 输出格式: json, lcov
	Format string `yaml:"format" env:"FORMAT"`
	// 并发读取产物数
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 是否记录运行历史
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名，sqlite 时为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// textfile 输出路径，空表示不输出
	Textfile string `yaml:"textfile" env:"TEXTFILE"`
	// 运行期间 /metrics 端点监听地址，空表示不启用
	Listen string `yaml:"listen" env:"LISTEN"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 不使用 TLS
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MATRIXFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			field.Set(reflect.ValueOf(splitList(value)))
		}

	case reflect.Map:
		// name=n,name=n
		if field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Int {
			m, err := ParseLimits(value)
			if err != nil {
				return err
			}
			field.Set(reflect.ValueOf(m))
		}
	}

	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseLimits 解析 "name=n,name=n"
func ParseLimits(value string) (map[string]int, error) {
	out := make(map[string]int)
	for _, item := range splitList(value) {
		name, n, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid resource limit %q, want name=n", item)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return nil, fmt.Errorf("invalid resource limit %q: %w", item, err)
		}
		out[name] = limit
	}
	return out, nil
}

// =============================================================================
// 🔀 并行度
// =============================================================================

// Parallelism 两级并行度：外层为同时运行的作业数，内层导出给步骤
type Parallelism struct {
	Outer int
	Inner int
}

// ParseParallelism 解析 "N" 或 "outer,inner"。
// 空串返回零值；只给出一级时内层为 1；更深的层级被忽略。
func ParseParallelism(s string) (Parallelism, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Parallelism{}, nil
	}
	parts := strings.Split(s, ",")
	levels := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Parallelism{}, fmt.Errorf("invalid parallelism %q: %w", s, err)
		}
		if n < 1 {
			return Parallelism{}, fmt.Errorf("invalid parallelism %q: levels must be at least 1", s)
		}
		levels = append(levels, n)
	}
	p := Parallelism{Outer: levels[0], Inner: 1}
	if len(levels) > 1 {
		p.Inner = levels[1]
	}
	return p, nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseParallelism(c.Runner.Parallelism); err != nil {
		errs = append(errs, err)
	}
	for name, limit := range c.Runner.ResourceLimits {
		if limit < 1 {
			errs = append(errs, fmt.Errorf("resource %q: limit must be at least 1", name))
		}
	}
	if c.Runner.WorkRoot == "" {
		errs = append(errs, errors.New("runner.work_root is required"))
	}
	if c.Runner.MaxOutputBytes < 0 {
		errs = append(errs, errors.New("runner.max_output_bytes must not be negative"))
	}
	if c.Runner.StepTimeout < 0 {
		errs = append(errs, errors.New("runner.step_timeout must not be negative"))
	}
	if c.Runner.DispatchRate < 0 {
		errs = append(errs, errors.New("runner.dispatch_rate must not be negative"))
	}

	if c.Cache.Enabled && c.Cache.Dir == "" {
		errs = append(errs, errors.New("cache.dir is required when the cache is enabled"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl must not be negative"))
	}

	switch c.Coverage.Format {
	case "json", "lcov":
	default:
		errs = append(errs, fmt.Errorf("coverage.format %q: want json or lcov", c.Coverage.Format))
	}

	if c.Database.Enabled {
		switch c.Database.Driver {
		case "sqlite", "postgres", "mysql":
		default:
			errs = append(errs, fmt.Errorf("database.driver %q: want sqlite, postgres or mysql", c.Database.Driver))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry.sample_rate must be between 0 and 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
