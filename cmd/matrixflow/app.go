package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/matrixflow/config"
	"github.com/BaSui01/matrixflow/internal/cache"
	"github.com/BaSui01/matrixflow/internal/database"
	"github.com/BaSui01/matrixflow/internal/history"
	"github.com/BaSui01/matrixflow/internal/metrics"
	"github.com/BaSui01/matrixflow/internal/server"
	"github.com/BaSui01/matrixflow/internal/telemetry"
	"github.com/BaSui01/matrixflow/matrix"
	"github.com/BaSui01/matrixflow/workflow"
	"github.com/BaSui01/matrixflow/workflow/dsl"
)

// ErrUnknownJob 作业 ID 不存在或前缀不唯一
var ErrUnknownJob = errors.New("unknown job")

// app 在命令之间共享的状态
type app struct {
	stdout io.Writer
	stderr io.Writer

	// 全局参数
	configPath   string
	pipelinePath string
	parallelism  string
	disableJIT   bool
	logLevel     string

	cfg    *config.Config
	logger *zap.Logger

	// 测试可替换
	runner  workflow.Runner
	closers []func()
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr, logger: zap.NewNop()}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

// =============================================================================
// 🌲 根命令
// =============================================================================

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "matrixflow",
		Short:         "Expand a build matrix into jobs, run them concurrently and merge coverage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return invalid(err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to the runner config file")
	flags.StringVar(&a.pipelinePath, "pipeline", "matrix.yaml", "path to the pipeline document")
	flags.StringVar(&a.parallelism, "parallelism", "", `concurrent jobs, "N" or "outer,inner"`)
	flags.BoolVar(&a.disableJIT, "disable-jit", false, "turn on the disable_jit option")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newListCmd(a),
		newRunCmd(a),
		newRunAllCmd(a),
		newCoverageCmd(a),
		newHistoryCmd(a),
		newCacheCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup 加载配置、叠加命令行参数并初始化日志
func (a *app) setup(cmd *cobra.Command) error {
	loader := config.NewLoader()
	if a.configPath != "" {
		loader = loader.WithConfigPath(a.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return invalid(err)
	}

	flags := cmd.Flags()
	if flags.Changed("parallelism") {
		cfg.Runner.Parallelism = a.parallelism
	}
	if flags.Changed("disable-jit") {
		cfg.Runner.DisableJIT = a.disableJIT
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return invalid(err)
	}

	a.cfg = cfg
	a.logger = initLogger(cfg.Log)
	a.onClose(func() { _ = a.logger.Sync() })
	return nil
}

// =============================================================================
// 📋 规划
// =============================================================================

// plan 是 list/run/run-all 共用的解析与规划结果
type plan struct {
	pipeline *dsl.Pipeline
	rc       workflow.RunContext
	jobs     []*workflow.Job
}

func (a *app) runContext() workflow.RunContext {
	rc := workflow.HostContext(a.cfg.Runner.RuntimeVersion, a.cfg.Runner.DisableJIT)
	if a.cfg.Runner.JITDisableVar != "" {
		rc.JITDisableVar = a.cfg.Runner.JITDisableVar
	}
	return rc
}

func (a *app) loadPipeline() (*dsl.Pipeline, error) {
	p, err := dsl.NewParser().ParseFile(a.pipelinePath)
	if err != nil {
		return nil, invalid(err)
	}
	if p.Name == "" {
		base := filepath.Base(a.pipelinePath)
		p.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return p, nil
}

// planJobs 解析、展开并规划全部作业。任何配置错误都在作业运行前返回。
func (a *app) planJobs() (*plan, error) {
	p, err := a.loadPipeline()
	if err != nil {
		return nil, err
	}
	combos, err := matrix.Expand(p.Definition)
	if err != nil {
		return nil, invalid(err)
	}
	rc := a.runContext()
	jobs, err := workflow.NewPlanner(p.Definition, rc, a.logger).PlanAll(combos, p.Template)
	if err != nil {
		return nil, invalid(err)
	}
	a.logger.Debug("jobs planned", zap.String("pipeline", p.Name), zap.Int("jobs", len(jobs)))
	return &plan{pipeline: p, rc: rc, jobs: jobs}, nil
}

// findJob 按完整 ID 或唯一前缀查找作业
func findJob(jobs []*workflow.Job, id string) (*workflow.Job, error) {
	var matches []*workflow.Job
	for _, job := range jobs {
		if job.ID == id {
			return job, nil
		}
		if strings.HasPrefix(job.ID, id) {
			matches = append(matches, job)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return nil, fmt.Errorf("%w: %q matches %s", ErrUnknownJob, id, strings.Join(ids, ", "))
	}
}

// =============================================================================
// 🔧 组件装配
// =============================================================================

func (a *app) parallelismLevels() config.Parallelism {
	// 已在 setup 中校验
	p, _ := config.ParseParallelism(a.cfg.Runner.Parallelism)
	return p
}

// hostEnv 收集允许透传的宿主环境变量
func hostEnv(allow []string) map[string]string {
	env := make(map[string]string, len(allow))
	for _, name := range allow {
		if v, ok := os.LookupEnv(name); ok {
			env[name] = v
		}
	}
	return env
}

func (a *app) openCache() (*cache.Manager, error) {
	c := a.cfg.Cache
	if !c.Enabled {
		return nil, nil
	}
	var opts []cache.Option
	if c.RedisAddr != "" {
		rc := cache.DefaultRedisConfig()
		rc.Addr = c.RedisAddr
		rc.Password = c.RedisPassword
		rc.DB = c.RedisDB
		rc.TLS = c.RedisTLS
		if c.RedisPrefix != "" {
			rc.Prefix = c.RedisPrefix
		}
		idx, err := cache.NewRedisIndex(rc, a.logger)
		if err != nil {
			// 共享索引不可用不影响本地缓存
			a.logger.Warn("cache index unavailable", zap.String("addr", c.RedisAddr), zap.Error(err))
		} else {
			opts = append(opts, cache.WithIndex(idx))
		}
	}
	m, err := cache.NewManager(cache.Config{Dir: c.Dir, TTL: c.TTL}, a.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	a.onClose(func() { _ = m.Close() })
	return m, nil
}

func (a *app) newExecutor(mgr *cache.Manager, observer workflow.Observer) *workflow.Executor {
	r := a.cfg.Runner
	extra := make(map[string]string)
	if p := a.parallelismLevels(); p.Inner > 0 {
		extra["MATRIXFLOW_NUM_THREADS"] = strconv.Itoa(p.Inner)
	}
	ec := workflow.ExecutorConfig{
		WorkRoot:       r.WorkRoot,
		ArtifactDir:    r.ArtifactDir,
		SourceDir:      r.SourceDir,
		SourceExclude:  r.SourceExclude,
		KeepWorkDirs:   r.KeepWorkDirs,
		BaseEnv:        hostEnv(r.EnvAllowlist),
		ExtraEnv:       extra,
		MaxOutputBytes: r.MaxOutputBytes,
		DefaultTimeout: r.StepTimeout,
	}
	var opts []workflow.ExecutorOption
	if mgr != nil {
		opts = append(opts, workflow.WithFetcher(mgr))
	}
	if observer != nil {
		opts = append(opts, workflow.WithObserver(observer))
	}
	runner := a.runner
	if runner == nil {
		runner = workflow.NewShellRunner(workflow.DefaultShell())
	}
	return workflow.NewExecutor(ec, runner, a.logger, opts...)
}

// resourceLimits 合并流水线声明的上限与运行器配置的覆盖值
func (a *app) resourceLimits(tmpl *workflow.Template) map[string]int {
	limits := tmpl.ResourceLimits()
	for name, n := range a.cfg.Runner.ResourceLimits {
		limits[name] = n
	}
	return limits
}

func (a *app) initTelemetry() {
	providers, err := telemetry.Init(a.cfg.Telemetry, a.logger)
	if err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
		return
	}
	a.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	})
}

// newCollector 创建指标收集器；配置了 metrics.listen 时同时启动 /metrics 端点
func (a *app) newCollector() *metrics.Collector {
	collector := metrics.NewCollector(a.cfg.Metrics.Namespace, a.logger)
	addr := a.cfg.Metrics.Listen
	if addr == "" {
		return collector
	}
	sc := server.DefaultConfig()
	sc.Addr = addr
	endpoint := server.NewManager(collector.Handler(), sc, a.logger)
	if err := endpoint.Start(); err != nil {
		a.logger.Warn("metrics endpoint unavailable", zap.String("addr", addr), zap.Error(err))
		return collector
	}
	a.onClose(func() {
		if err := endpoint.Shutdown(context.Background()); err != nil {
			a.logger.Warn("metrics endpoint shutdown failed", zap.Error(err))
		}
	})
	return collector
}

// openHistory 打开运行历史；未启用时返回 nil
func (a *app) openHistory(ctx context.Context) (*history.Store, *database.PoolManager, error) {
	d := a.cfg.Database
	if !d.Enabled {
		return nil, nil, nil
	}
	if d.Driver == "sqlite" {
		if err := ensureParent(d.Name); err != nil {
			return nil, nil, err
		}
	}
	pool, err := database.Open(d.Driver, d.DSN(), database.PoolConfig{
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open history database: %w", err)
	}
	a.onClose(func() { _ = pool.Close() })

	store, err := history.NewStore(ctx, pool, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return store, pool, nil
}
