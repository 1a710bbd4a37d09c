// Package cache provides internal cache management.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// Config 缓存配置
type Config struct {
	// 缓存目录
	Dir string `yaml:"dir" json:"dir"`

	// 条目有效期，0 表示永不过期
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// 共享索引，Addr 为空时不启用
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// Manager 缓存管理器。同一个键的 Fetch 互斥执行，不同键互不影响。
type Manager struct {
	store  *FileStore
	index  Index
	locks  *keyedMutex
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	hits    atomic.Uint64
	misses  atomic.Uint64
	corrupt atomic.Uint64
}

// Option 配置 Manager
type Option func(*Manager)

// WithIndex 启用共享索引
func WithIndex(idx Index) Option {
	return func(m *Manager) { m.index = idx }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager 创建缓存管理器
func NewManager(config Config, logger *zap.Logger, opts ...Option) (*Manager, error) {
	store, err := NewFileStore(config.Dir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:  store,
		locks:  newKeyedMutex(),
		ttl:    config.TTL,
		logger: logger.With(zap.String("component", "cache")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger.Info("cache manager initialized",
		zap.String("dir", config.Dir),
		zap.Duration("ttl", config.TTL),
		zap.Bool("index", m.index != nil),
	)
	return m, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Fetch 在命中时把条目恢复到 req.Dir 并跳过 fetch；未命中时执行 fetch
// 并保存 req.Paths。缓存自身的错误只记录告警，回退为重新获取。
func (m *Manager) Fetch(ctx context.Context, req Request, fetch func(context.Context) error) (bool, error) {
	key, err := ComputeKey(req)
	if err != nil {
		m.logger.Warn("cache key unavailable, fetching without cache", zap.Error(err))
		m.misses.Add(1)
		return false, fetch(ctx)
	}
	logger := m.logger.With(zap.String("key", key[:12]), zap.String("template", req.Key))

	unlock, err := m.locks.Lock(ctx, key)
	if err != nil {
		return false, fmt.Errorf("wait for cache key: %w", err)
	}
	defer unlock()

	if m.restore(ctx, key, req, logger) {
		m.hits.Add(1)
		return true, nil
	}
	m.misses.Add(1)

	if err := fetch(ctx); err != nil {
		return false, err
	}

	manifest := &Manifest{
		Key:            key,
		Platform:       req.Platform,
		RuntimeVersion: req.RuntimeVersion,
		Template:       req.Key,
		Paths:          req.Paths,
		CreatedAt:      m.now().UTC(),
	}
	if err := m.store.Save(manifest, req.Dir); err != nil {
		logger.Warn("cache save failed", zap.Error(err))
		return false, nil
	}
	logger.Debug("cache entry stored", zap.Int64("bytes", manifest.Size))

	if m.index != nil {
		if err := m.index.Record(ctx, manifest, m.ttl); err != nil {
			logger.Warn("cache index record failed", zap.Error(err))
		}
	}
	return false, nil
}

// restore 返回 true 表示命中并已恢复
func (m *Manager) restore(ctx context.Context, key string, req Request, logger *zap.Logger) bool {
	manifest, err := m.store.Lookup(key)
	if errors.Is(err, ErrCacheMiss) {
		return false
	}
	if err == nil && m.expired(manifest) {
		logger.Debug("cache entry expired")
		m.remove(key, logger)
		return false
	}
	if err == nil {
		err = m.store.Restore(manifest, req.Dir)
	}
	if err != nil {
		m.corrupt.Add(1)
		logger.Warn("cache entry unusable, treating as miss", zap.Error(err))
		m.remove(key, logger)
		return false
	}

	if m.index != nil {
		if err := m.index.Hit(ctx, key); err != nil {
			logger.Warn("cache index hit failed", zap.Error(err))
		}
	}
	logger.Debug("cache hit")
	return true
}

func (m *Manager) expired(manifest *Manifest) bool {
	return m.ttl > 0 && m.now().Sub(manifest.CreatedAt) > m.ttl
}

func (m *Manager) remove(key string, logger *zap.Logger) {
	if err := m.store.Remove(key); err != nil {
		logger.Warn("cache entry removal failed", zap.Error(err))
	}
}

// Prune 删除所有过期或损坏的条目，返回删除数量
func (m *Manager) Prune(ctx context.Context) (int, error) {
	keys, err := m.store.Keys()
	if err != nil {
		return 0, fmt.Errorf("list cache entries: %w", err)
	}
	removed := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		unlock, err := m.locks.Lock(ctx, key)
		if err != nil {
			return removed, err
		}
		manifest, err := m.store.Lookup(key)
		if err != nil || m.expired(manifest) {
			if rmErr := m.store.Remove(key); rmErr == nil {
				removed++
			}
		}
		unlock()
	}
	m.logger.Info("cache pruned", zap.Int("removed", removed), zap.Int("scanned", len(keys)))
	return removed, nil
}

// Close 释放共享索引
func (m *Manager) Close() error {
	if m.index != nil {
		return m.index.Close()
	}
	return nil
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 缓存统计信息
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Corrupt uint64 `json:"corrupt"`
}

// GetStats 获取缓存统计信息
func (m *Manager) GetStats() Stats {
	return Stats{
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Corrupt: m.corrupt.Load(),
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// ErrCacheMiss 缓存未命中错误
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
