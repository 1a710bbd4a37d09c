package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/matrixflow/matrix"
)

// gaugeRunner tracks how many jobs run at once, overall and per resource.
type gaugeRunner struct {
	delay   time.Duration
	status  map[string]Status
	running atomic.Int32
	peak    atomic.Int32

	mu       sync.Mutex
	perRes   map[string]int
	peakRes  map[string]int
	panicFor string
}

func newGaugeRunner(delay time.Duration) *gaugeRunner {
	return &gaugeRunner{delay: delay, status: map[string]Status{}, perRes: map[string]int{}, peakRes: map[string]int{}}
}

func (g *gaugeRunner) Run(ctx context.Context, job *Job) *JobResult {
	if job.ID == g.panicFor {
		panic("runner exploded")
	}
	n := g.running.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.mu.Lock()
	for _, r := range job.Resources {
		g.perRes[r]++
		if g.perRes[r] > g.peakRes[r] {
			g.peakRes[r] = g.perRes[r]
		}
	}
	g.mu.Unlock()

	time.Sleep(g.delay)

	g.mu.Lock()
	for _, r := range job.Resources {
		g.perRes[r]--
	}
	g.mu.Unlock()
	g.running.Add(-1)

	status := StatusPassed
	if s, ok := g.status[job.ID]; ok {
		status = s
	}
	return &JobResult{JobID: job.ID, Status: status}
}

func makeJobs(n int, resources ...string) []*Job {
	jobs := make([]*Job, n)
	for i := range jobs {
		jobs[i] = testJob(fmt.Sprintf("job-%02d", n-i))
		jobs[i].Resources = resources
	}
	return jobs
}

func TestScheduler_BoundsParallelism(t *testing.T) {
	g := newGaugeRunner(10 * time.Millisecond)
	s, err := NewScheduler(SchedulerConfig{Parallelism: 3}, g, zap.NewNop())
	require.NoError(t, err)

	report := s.Run(context.Background(), makeJobs(12))
	assert.Equal(t, 12, report.Passed)
	assert.LessOrEqual(t, g.peak.Load(), int32(3))
	assert.Equal(t, 0, report.ExitCode())
}

func TestScheduler_ResourceClasses(t *testing.T) {
	g := newGaugeRunner(5 * time.Millisecond)
	s, err := NewScheduler(SchedulerConfig{
		Parallelism:    8,
		ResourceLimits: map[string]int{"windows-runner": 1, "gpu": 2},
	}, g, nil)
	require.NoError(t, err)

	jobs := append(makeJobs(4, "windows-runner", "gpu"), makeJobs(4, "gpu")...)
	for i, j := range jobs {
		j.ID = fmt.Sprintf("%s-%d", j.ID, i)
	}
	report := s.Run(context.Background(), jobs)

	assert.Equal(t, 8, report.Passed)
	assert.LessOrEqual(t, g.peakRes["windows-runner"], 1)
	assert.LessOrEqual(t, g.peakRes["gpu"], 2)
}

func TestScheduler_ReportSortedAndCounted(t *testing.T) {
	g := newGaugeRunner(0)
	g.status["job-02"] = StatusFailed
	g.status["job-03"] = StatusTimedOut
	s, err := NewScheduler(SchedulerConfig{Parallelism: 2}, g, nil)
	require.NoError(t, err)

	report := s.Run(context.Background(), makeJobs(4))
	ids := make([]string, len(report.Results))
	for i, r := range report.Results {
		ids[i] = r.JobID
	}
	assert.Equal(t, []string{"job-01", "job-02", "job-03", "job-04"}, ids)
	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.TimedOut)
	assert.Equal(t, 1, report.ExitCode())
	assert.Len(t, report.Failures(), 2)

	res, ok := report.Result("job-03")
	require.True(t, ok)
	assert.Equal(t, StatusTimedOut, res.Status)
	_, ok = report.Result("job-99")
	assert.False(t, ok)
}

func TestScheduler_CanceledBeforeStart(t *testing.T) {
	g := newGaugeRunner(0)
	s, err := NewScheduler(SchedulerConfig{Parallelism: 1, ResourceLimits: map[string]int{"r": 1}}, g, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := s.Run(ctx, makeJobs(3, "r"))
	assert.Equal(t, 3, len(report.Results))
	for _, r := range report.Results {
		assert.Equal(t, StatusFailed, r.Status)
		assert.Contains(t, r.Error, "not started")
	}
}

func TestScheduler_RunnerPanic(t *testing.T) {
	g := newGaugeRunner(0)
	g.panicFor = "job-01"
	s, err := NewScheduler(SchedulerConfig{Parallelism: 2}, g, nil)
	require.NoError(t, err)

	report := s.Run(context.Background(), makeJobs(2))
	res, ok := report.Result("job-01")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "runner exploded")
	assert.Equal(t, 1, report.Passed)
}

func TestScheduler_DispatchRate(t *testing.T) {
	g := newGaugeRunner(0)
	s, err := NewScheduler(SchedulerConfig{Parallelism: 4, DispatchRate: 1000, DispatchBurst: 2}, g, nil)
	require.NoError(t, err)
	report := s.Run(context.Background(), makeJobs(5))
	assert.Equal(t, 5, report.Passed)
}

func TestNewScheduler_Invalid(t *testing.T) {
	_, err := NewScheduler(SchedulerConfig{Parallelism: -1}, newGaugeRunner(0), nil)
	assert.True(t, matrix.IsConfigError(err))

	_, err = NewScheduler(SchedulerConfig{ResourceLimits: map[string]int{"gpu": 0}}, newGaugeRunner(0), nil)
	assert.True(t, matrix.IsConfigError(err))

	s, err := NewScheduler(SchedulerConfig{}, newGaugeRunner(0), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.Parallelism(), 1)
}

func TestScheduler_WithExecutor(t *testing.T) {
	r := newScriptedRunner()
	r.exit("fail", 1)
	e := newTestExecutor(t, r)
	s, err := NewScheduler(SchedulerConfig{Parallelism: 2}, e, nil)
	require.NoError(t, err)

	ok := testJob("ok", Step{Name: "a", Command: "pass"})
	bad := testJob("bad", Step{Name: "a", Command: "fail"})
	report := s.Run(context.Background(), []*Job{ok, bad})
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "bad", report.Results[0].JobID)
}
