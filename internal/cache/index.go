package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/matrixflow/internal/tlsutil"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 🗂️ 共享索引
// =============================================================================

// Index 记录缓存条目的元数据，供多个 runner 共同观察。
// 索引失败只影响可观测性，不影响 Fetch 的结果。
type Index interface {
	Record(ctx context.Context, m *Manifest, ttl time.Duration) error
	Hit(ctx context.Context, key string) error
	Close() error
}

// RedisConfig Redis 索引配置
type RedisConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 键前缀
	Prefix string `yaml:"prefix" json:"prefix"`

	// 是否使用 TLS
	TLS bool `yaml:"tls" json:"tls"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultRedisConfig 返回默认索引配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		Prefix:              "matrixflow:cache:",
		MaxRetries:          3,
		PoolSize:            10,
		HealthCheckInterval: 30 * time.Second,
	}
}

// RedisIndex 基于 Redis 的共享索引
type RedisIndex struct {
	redis  *redis.Client
	config RedisConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRedisIndex 创建 Redis 索引
func NewRedisIndex(config RedisConfig, logger *zap.Logger) (*RedisIndex, error) {
	if config.Prefix == "" {
		config.Prefix = DefaultRedisConfig().Prefix
	}
	opts := &redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: config.MaxRetries,
		PoolSize:   config.PoolSize,
	}
	if config.TLS {
		opts.TLSConfig = tlsutil.ForServer(config.Addr)
	}
	client := redis.NewClient(opts)

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	idx := &RedisIndex{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache_index")),
		done:   make(chan struct{}),
	}

	// 启动健康检查
	if config.HealthCheckInterval > 0 {
		go idx.healthCheckLoop()
	}

	idx.logger.Info("cache index initialized", zap.String("addr", config.Addr))
	return idx, nil
}

func (i *RedisIndex) manifestKey(key string) string { return i.config.Prefix + "manifest:" + key }
func (i *RedisIndex) hitsKey(key string) string     { return i.config.Prefix + "hits:" + key }

// Record 写入条目清单，ttl 为 0 表示永不过期
func (i *RedisIndex) Record(ctx context.Context, m *Manifest, ttl time.Duration) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return errIndexClosed
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := i.redis.Set(ctx, i.manifestKey(m.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("index record failed: %w", err)
	}
	return nil
}

// Hit 增加命中计数
func (i *RedisIndex) Hit(ctx context.Context, key string) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return errIndexClosed
	}

	if err := i.redis.Incr(ctx, i.hitsKey(key)).Err(); err != nil {
		return fmt.Errorf("index hit failed: %w", err)
	}
	return nil
}

// Lookup 读取条目清单
func (i *RedisIndex) Lookup(ctx context.Context, key string) (*Manifest, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return nil, errIndexClosed
	}

	val, err := i.redis.Get(ctx, i.manifestKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("index lookup failed: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(val, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}

// Hits 返回命中计数
func (i *RedisIndex) Hits(ctx context.Context, key string) (int64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return 0, errIndexClosed
	}

	n, err := i.redis.Get(ctx, i.hitsKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Forget 删除条目的索引信息
func (i *RedisIndex) Forget(ctx context.Context, key string) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return errIndexClosed
	}
	return i.redis.Del(ctx, i.manifestKey(key), i.hitsKey(key)).Err()
}

// Close 关闭索引
func (i *RedisIndex) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}

	i.closed = true
	close(i.done)
	i.logger.Info("closing cache index")
	return i.redis.Close()
}

// healthCheckLoop 健康检查循环
func (i *RedisIndex) healthCheckLoop() {
	ticker := time.NewTicker(i.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		i.mu.RLock()
		var err error
		if !i.closed {
			err = i.redis.Ping(ctx).Err()
		}
		i.mu.RUnlock()
		cancel()

		if err != nil {
			i.logger.Warn("cache index health check failed", zap.Error(err))
		}
	}
}

var errIndexClosed = errors.New("cache index is closed")
