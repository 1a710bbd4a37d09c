// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/matrixflow/internal/cache"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	registry *prometheus.Registry

	// 作业指标
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	// 步骤指标
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	// 缓存指标
	cacheEvents *prometheus.GaugeVec

	// 数据库指标
	dbConnectionsOpen prometheus.Gauge
	dbConnectionsIdle prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器，所有指标注册在独立的 Registry 上
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.jobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of finished jobs",
		},
		[]string{"status"},
	)

	c.jobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"status"},
	)

	c.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of executed steps",
		},
		[]string{"status", "cache"}, // cache: hit, miss, none
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1200},
		},
		[]string{"status"},
	)

	c.cacheEvents = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_events",
			Help:      "Cache lookups in this run by outcome",
		},
		[]string{"outcome"}, // hit, miss, corrupt
	)

	c.dbConnectionsOpen = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_open",
		Help:      "Number of open history database connections",
	})

	c.dbConnectionsIdle = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_idle",
		Help:      "Number of idle history database connections",
	})

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Registry 返回底层 Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回暴露 /metrics 与 /healthz 的处理器
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// =============================================================================
// 🎯 执行指标记录
// =============================================================================

// ObserveJob 记录作业结束
func (c *Collector) ObserveJob(status string, d time.Duration) {
	c.jobsTotal.WithLabelValues(status).Inc()
	c.jobDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveStep 记录步骤结束
func (c *Collector) ObserveStep(status, cacheResult string, d time.Duration) {
	if cacheResult == "" {
		cacheResult = "none"
	}
	c.stepsTotal.WithLabelValues(status, cacheResult).Inc()
	c.stepDuration.WithLabelValues(status).Observe(d.Seconds())
}

// =============================================================================
// 💾 缓存与数据库
// =============================================================================

// RecordCacheStats 记录缓存统计快照
func (c *Collector) RecordCacheStats(stats cache.Stats) {
	c.cacheEvents.WithLabelValues("hit").Set(float64(stats.Hits))
	c.cacheEvents.WithLabelValues("miss").Set(float64(stats.Misses))
	c.cacheEvents.WithLabelValues("corrupt").Set(float64(stats.Corrupt))
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(open, idle int) {
	c.dbConnectionsOpen.Set(float64(open))
	c.dbConnectionsIdle.Set(float64(idle))
}

// =============================================================================
// 📝 导出
// =============================================================================

// WriteTextfile 以 node_exporter textfile 格式写出全部指标
func (c *Collector) WriteTextfile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics dir: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	c.logger.Debug("metrics written", zap.String("path", path))
	return nil
}
