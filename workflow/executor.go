package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/matrixflow/internal/cache"
	"github.com/BaSui01/matrixflow/internal/ctxkeys"
)

// Fetcher serves cache-eligible steps. fetch runs only on a miss.
type Fetcher interface {
	Fetch(ctx context.Context, req cache.Request, fetch func(context.Context) error) (bool, error)
}

// Observer receives execution measurements.
type Observer interface {
	ObserveStep(status string, cache string, d time.Duration)
	ObserveJob(status string, d time.Duration)
}

// ExecutorConfig configures job isolation.
type ExecutorConfig struct {
	// WorkRoot holds one directory per job.
	WorkRoot string
	// ArtifactDir receives coverage artifacts; empty keeps them in the
	// work dir, which then survives the job.
	ArtifactDir string
	// SourceDir is copied into every job's working directory.
	SourceDir string
	// SourceExclude lists base names not copied from SourceDir.
	SourceExclude []string
	KeepWorkDirs  bool
	// BaseEnv is the allow-listed part of the host environment.
	BaseEnv map[string]string
	// ExtraEnv is applied after the job overlay.
	ExtraEnv       map[string]string
	MaxOutputBytes int
	DefaultTimeout time.Duration
}

// Executor runs a single job's steps sequentially in an isolated context.
type Executor struct {
	config   ExecutorConfig
	runner   Runner
	fetcher  Fetcher
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithFetcher enables cache-backed fetch steps.
func WithFetcher(f Fetcher) ExecutorOption {
	return func(e *Executor) { e.fetcher = f }
}

// WithObserver reports step and job measurements to o.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// NewExecutor creates an executor. A nil runner uses the platform shell.
func NewExecutor(config ExecutorConfig, runner Runner, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if runner == nil {
		runner = NewShellRunner(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		config: config,
		runner: runner,
		tracer: otel.Tracer("github.com/BaSui01/matrixflow/workflow"),
		logger: logger.With(zap.String("component", "executor")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes job and always returns a result; step failures and
// infrastructure errors are reported through it.
func (e *Executor) Run(ctx context.Context, job *Job) *JobResult {
	res := &JobResult{
		JobID:       job.ID,
		Combination: job.Combination.Key(),
		StartedAt:   e.now(),
	}
	ctx = ctxkeys.WithJobID(ctx, job.ID)
	ctx, span := e.tracer.Start(ctx, "job "+job.ID, trace.WithAttributes(
		attribute.String("matrixflow.job_id", job.ID),
		attribute.String("matrixflow.combination", res.Combination),
	))
	defer span.End()

	logger := e.logger.With(zap.String("job_id", job.ID))
	if runID, ok := ctxkeys.RunID(ctx); ok {
		logger = logger.With(zap.String("run_id", runID))
	}
	logger.Info("job started", zap.Int("steps", len(job.Steps)))

	defer func() {
		res.FinishedAt = e.now()
		span.SetAttributes(attribute.String("matrixflow.status", string(res.Status)))
		if res.Status != StatusPassed {
			span.SetStatus(codes.Error, res.Error)
		}
		if e.observer != nil {
			e.observer.ObserveJob(string(res.Status), res.Duration())
		}
		logger.Info("job finished",
			zap.String("status", string(res.Status)),
			zap.Duration("duration", res.Duration()),
			zap.Strings("warnings", res.Warnings()),
		)
	}()

	dirs := newJobDirs(e.config.WorkRoot, job.ID)
	if err := e.prepare(dirs); err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res
	}
	if !e.keepWorkDir() {
		defer func() {
			if err := os.RemoveAll(dirs.root); err != nil {
				logger.Warn("work dir cleanup failed", zap.Error(err))
			}
		}()
	}

	env := e.environment(job, dirs)
	res.Status = StatusPassed
	for _, step := range job.Steps {
		if err := ctx.Err(); err != nil {
			res.Status = StatusFailed
			res.Error = "canceled: " + err.Error()
			break
		}
		out := e.runStep(ctx, job, step, dirs, env, logger)
		res.Steps = append(res.Steps, out)

		stop := true
		switch out.Status {
		case StepPassed, StepWarned:
			stop = false
		case StepTimedOut:
			res.Status = StatusTimedOut
			res.Error = fmt.Sprintf("step %q timed out", step.Name)
		case StepCanceled:
			res.Status = StatusFailed
			res.Error = fmt.Sprintf("step %q canceled: %s", step.Name, out.Error)
		default:
			res.Status = StatusFailed
			res.Error = fmt.Sprintf("step %q failed", step.Name)
		}
		if stop {
			break
		}
	}

	if job.Coverage != "" {
		res.Coverage = e.collectCoverage(job, dirs, logger)
	}
	return res
}

func (e *Executor) keepWorkDir() bool {
	return e.config.KeepWorkDirs || e.config.ArtifactDir == ""
}

func (e *Executor) prepare(dirs jobDirs) error {
	if e.config.WorkRoot == "" {
		return errors.New("work root is not configured")
	}
	if err := dirs.create(); err != nil {
		return err
	}
	if e.config.SourceDir == "" {
		return nil
	}
	skip := map[string]bool{}
	for _, name := range e.config.SourceExclude {
		skip[name] = true
	}
	// the work root and artifact dir may live inside the source tree
	var skipDirs []string
	for _, dir := range []string{e.config.WorkRoot, e.config.ArtifactDir} {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", dir, err)
		}
		skipDirs = append(skipDirs, abs)
	}
	if err := copyTree(e.config.SourceDir, dirs.src, skip, skipDirs); err != nil {
		return fmt.Errorf("copy source tree: %w", err)
	}
	return nil
}

// environment builds the job's snapshot; nothing is read from the host
// process here.
func (e *Executor) environment(job *Job, dirs jobDirs) []string {
	env := make(map[string]string, len(e.config.BaseEnv)+len(job.Env)+4)
	for k, v := range e.config.BaseEnv {
		env[k] = v
	}
	for k, v := range job.Env {
		env[k] = v
	}
	env["HOME"] = dirs.home
	env["TMPDIR"] = dirs.tmp
	env["TEMP"] = dirs.tmp
	env["TMP"] = dirs.tmp
	env["MATRIXFLOW_JOB_ID"] = job.ID
	env["MATRIXFLOW_WORKDIR"] = dirs.src
	for k, v := range e.config.ExtraEnv {
		env[k] = v
	}
	return envList(env)
}

func (e *Executor) runStep(ctx context.Context, job *Job, step Step, dirs jobDirs, env []string, logger *zap.Logger) StepOutcome {
	out := StepOutcome{Name: step.Name, Command: step.Command}
	logger = logger.With(zap.String("step", step.Name))

	timeout := step.Timeout
	if timeout == 0 {
		timeout = e.config.DefaultTimeout
	}
	stepCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	stepCtx, span := e.tracer.Start(stepCtx, "step "+step.Name, trace.WithAttributes(
		attribute.String("matrixflow.step", step.Name),
		attribute.String("matrixflow.criticality", string(step.Criticality)),
	))
	defer span.End()

	cmd := Command{
		Script:    step.Command,
		Dir:       dirs.src,
		Env:       stepEnv(env, step.Env),
		MaxOutput: e.config.MaxOutputBytes,
	}

	start := e.now()
	var (
		cr     CommandResult
		runErr error
		ran    bool
	)
	run := func(ctx context.Context) error {
		ran = true
		cr, runErr = e.runner.Run(ctx, cmd)
		if runErr != nil {
			return runErr
		}
		if cr.ExitCode != 0 {
			return fmt.Errorf("exit status %d", cr.ExitCode)
		}
		return nil
	}

	if step.Cache != nil && e.fetcher != nil {
		req := cache.Request{
			Platform:       job.Platform,
			RuntimeVersion: job.RuntimeVersion,
			Key:            step.Cache.Key,
			Files:          step.Cache.Files,
			Paths:          step.Cache.Paths,
			Dir:            dirs.src,
		}
		hit, err := e.fetcher.Fetch(stepCtx, req, run)
		out.Cache = CacheMiss
		if hit {
			out.Cache = CacheHit
		}
		if err != nil && !ran {
			runErr = err
		}
		span.SetAttributes(attribute.String("matrixflow.cache", string(out.Cache)))
	} else {
		_ = run(stepCtx)
	}
	out.Duration = e.now().Sub(start)

	out.ExitCode = cr.ExitCode
	out.Stdout = cr.Stdout
	out.Stderr = cr.Stderr
	out.Truncated = cr.Truncated
	out.Status = classify(ctx, stepCtx, step, timeout, &out, cr, runErr)

	if out.Status != StepPassed {
		span.SetStatus(codes.Error, string(out.Status))
	}
	if e.observer != nil {
		e.observer.ObserveStep(string(out.Status), string(out.Cache), out.Duration)
	}
	logger.Debug("step finished",
		zap.String("status", string(out.Status)),
		zap.Int("exit_code", out.ExitCode),
		zap.Duration("duration", out.Duration),
		zap.String("cache", string(out.Cache)),
	)
	if out.Status == StepWarned {
		logger.Warn("optional step failed", zap.String("warning", out.Warning))
	}
	return out
}

// classify maps a finished command onto a step status. A timeout is only
// reported when the step's own deadline fired while the job was still live.
func classify(ctx, stepCtx context.Context, step Step, timeout time.Duration, out *StepOutcome, cr CommandResult, runErr error) StepStatus {
	if runErr != nil && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		out.Error = "timed out after " + timeout.String()
		return StepTimedOut
	}
	if runErr != nil && ctx.Err() != nil {
		out.Error = ctx.Err().Error()
		return StepCanceled
	}

	var reason string
	switch {
	case runErr != nil:
		reason = runErr.Error()
	case cr.ExitCode != 0:
		reason = "exit status " + strconv.Itoa(cr.ExitCode)
	default:
		return StepPassed
	}
	if step.Criticality == Optional {
		out.Warning = reason
		return StepWarned
	}
	out.Error = reason
	return StepFailed
}

func (e *Executor) collectCoverage(job *Job, dirs jobDirs, logger *zap.Logger) string {
	src := filepath.Join(dirs.src, filepath.FromSlash(job.Coverage))
	info, err := os.Stat(src)
	if err != nil || !info.Mode().IsRegular() {
		logger.Warn("coverage artifact missing", zap.String("path", job.Coverage))
		return ""
	}
	if e.config.ArtifactDir == "" {
		return src
	}
	dst := filepath.Join(e.config.ArtifactDir, job.ID, filepath.Base(src))
	if err := copyFile(src, dst, 0o644); err != nil {
		logger.Warn("coverage artifact copy failed", zap.Error(err))
		return ""
	}
	return dst
}

// stepEnv appends step-level variables; later entries win in os/exec.
func stepEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	return append(append([]string(nil), base...), envList(extra)...)
}
