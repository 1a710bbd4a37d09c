package workflow

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/matrixflow/internal/pool"
	"github.com/BaSui01/matrixflow/matrix"
)

// JobRunner executes one job. *Executor implements it.
type JobRunner interface {
	Run(ctx context.Context, job *Job) *JobResult
}

// SchedulerConfig bounds concurrency.
type SchedulerConfig struct {
	// Parallelism is the worker count; 0 means one per CPU.
	Parallelism int
	// ResourceLimits caps concurrent jobs per resource class.
	ResourceLimits map[string]int
	// DispatchRate limits job starts per second; 0 disables it.
	DispatchRate  float64
	DispatchBurst int
}

// Scheduler dispatches jobs onto a bounded worker pool. A job first takes
// its resource classes in name order, then a worker slot.
type Scheduler struct {
	config    SchedulerConfig
	runner    JobRunner
	resources map[string]*semaphore.Weighted
	limiter   *rate.Limiter
	logger    *zap.Logger
	now       func() time.Time
}

// NewScheduler validates config and creates a scheduler.
func NewScheduler(config SchedulerConfig, runner JobRunner, logger *zap.Logger) (*Scheduler, error) {
	if config.Parallelism < 0 {
		return nil, matrix.Configf("parallelism", "must not be negative, got %d", config.Parallelism)
	}
	if config.Parallelism == 0 {
		config.Parallelism = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		config:    config,
		runner:    runner,
		resources: make(map[string]*semaphore.Weighted, len(config.ResourceLimits)),
		logger:    logger.With(zap.String("component", "scheduler")),
		now:       time.Now,
	}
	for name, limit := range config.ResourceLimits {
		if limit < 1 {
			return nil, matrix.Configf("resources."+name, "limit must be at least 1, got %d", limit)
		}
		s.resources[name] = semaphore.NewWeighted(int64(limit))
	}
	if config.DispatchRate > 0 {
		burst := config.DispatchBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.DispatchRate), burst)
	}
	return s, nil
}

// Parallelism returns the effective worker count.
func (s *Scheduler) Parallelism() int { return s.config.Parallelism }

// Run executes every job and returns the results keyed by job id. Jobs that
// never started because ctx ended are reported as failed.
func (s *Scheduler) Run(ctx context.Context, jobs []*Job) *Report {
	report := &Report{StartedAt: s.now()}
	ordered := append([]*Job(nil), jobs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	p := pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers: s.config.Parallelism,
		PanicHandler: func(r any) {
			s.logger.Error("job runner panicked", zap.Any("panic", r))
		},
	})
	defer p.Close()

	s.logger.Info("scheduling jobs",
		zap.Int("jobs", len(ordered)),
		zap.Int("parallelism", s.config.Parallelism),
	)

	results := make([]*JobResult, len(ordered))
	var wg sync.WaitGroup
	for i, job := range ordered {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				results[i] = notStarted(job, err, s.now())
				continue
			}
		}
		wg.Add(1)
		go func(i int, job *Job) {
			defer wg.Done()
			results[i] = s.dispatch(ctx, p, job)
		}(i, job)
	}
	wg.Wait()

	for _, r := range results {
		report.add(r)
	}
	report.FinishedAt = s.now()
	s.logger.Info("jobs finished",
		zap.Int("passed", report.Passed),
		zap.Int("failed", report.Failed),
		zap.Int("timed_out", report.TimedOut),
		zap.Int("peak_workers", p.Stats().PeakActive),
	)
	return report
}

func (s *Scheduler) dispatch(ctx context.Context, p *pool.GoroutinePool, job *Job) *JobResult {
	if err := ctx.Err(); err != nil {
		return notStarted(job, err, s.now())
	}
	release, err := s.acquire(ctx, job)
	if err != nil {
		return notStarted(job, err, s.now())
	}
	defer release()

	var res *JobResult
	err = p.SubmitWait(ctx, func(ctx context.Context) error {
		res = s.runner.Run(ctx, job)
		return nil
	})
	if res == nil {
		if ctx.Err() != nil {
			return notStarted(job, ctx.Err(), s.now())
		}
		if err == nil {
			err = fmt.Errorf("runner returned no result")
		}
		return failedResult(job, err.Error(), s.now())
	}
	return res
}

// acquire takes every resource class of job in sorted order, so two jobs
// can never wait on each other.
func (s *Scheduler) acquire(ctx context.Context, job *Job) (func(), error) {
	names := append([]string(nil), job.Resources...)
	sort.Strings(names)

	var held []*semaphore.Weighted
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}
	for i, name := range names {
		if i > 0 && names[i-1] == name {
			continue
		}
		sem, ok := s.resources[name]
		if !ok {
			s.logger.Warn("resource class has no limit", zap.String("job_id", job.ID), zap.String("resource", name))
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			release()
			return nil, err
		}
		held = append(held, sem)
	}
	return release, nil
}

func notStarted(job *Job, err error, now time.Time) *JobResult {
	return failedResult(job, fmt.Sprintf("not started: %v", err), now)
}

func failedResult(job *Job, msg string, now time.Time) *JobResult {
	return &JobResult{
		JobID:       job.ID,
		Combination: job.Combination.Key(),
		Status:      StatusFailed,
		Error:       msg,
		StartedAt:   now,
		FinishedAt:  now,
	}
}

// Report is the outcome of a scheduled run.
type Report struct {
	// Results are sorted by job id.
	Results    []*JobResult `json:"results"`
	Passed     int          `json:"passed"`
	Failed     int          `json:"failed"`
	TimedOut   int          `json:"timed_out"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

func (r *Report) add(res *JobResult) {
	r.Results = append(r.Results, res)
	switch res.Status {
	case StatusPassed:
		r.Passed++
	case StatusTimedOut:
		r.TimedOut++
	default:
		r.Failed++
	}
}

// Result returns the result of the job with id.
func (r *Report) Result(id string) (*JobResult, bool) {
	i := sort.Search(len(r.Results), func(i int) bool { return r.Results[i].JobID >= id })
	if i < len(r.Results) && r.Results[i].JobID == id {
		return r.Results[i], true
	}
	return nil, false
}

// Failures returns every result that did not pass.
func (r *Report) Failures() []*JobResult {
	var out []*JobResult
	for _, res := range r.Results {
		if res.Status != StatusPassed {
			out = append(out, res)
		}
	}
	return out
}

// ExitCode is 0 when every job passed and 1 otherwise.
func (r *Report) ExitCode() int {
	if r.Failed > 0 || r.TimedOut > 0 {
		return 1
	}
	return 0
}
