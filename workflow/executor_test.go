package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/matrixflow/internal/cache"
	"github.com/BaSui01/matrixflow/testutil"
)

func newTestExecutor(t *testing.T, r Runner, opts ...ExecutorOption) *Executor {
	t.Helper()
	return NewExecutor(ExecutorConfig{
		WorkRoot:    t.TempDir(),
		ArtifactDir: t.TempDir(),
	}, r, zap.NewNop(), opts...)
}

func TestExecutor_RequiredFailureStops(t *testing.T) {
	r := newScriptedRunner()
	r.exit("pytest", 2)
	e := newTestExecutor(t, r)

	res := e.Run(context.Background(), testJob("linux",
		Step{Name: "install", Command: "pip install"},
		Step{Name: "test", Command: "pytest"},
		Step{Name: "upload", Command: "upload"},
	))

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []string{"pip install", "pytest"}, r.scripts())
	require.Len(t, res.Steps, 2)
	assert.Equal(t, StepFailed, res.Steps[1].Status)
	assert.Equal(t, 2, res.Steps[1].ExitCode)
	assert.Contains(t, res.Error, `"test"`)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestExecutor_OptionalFailureWarns(t *testing.T) {
	r := newScriptedRunner()
	r.exit("flake8", 1)
	e := newTestExecutor(t, r)

	res := e.Run(context.Background(), testJob("linux",
		Step{Name: "lint", Command: "flake8", Criticality: Optional},
		Step{Name: "test", Command: "pytest"},
	))

	assert.Equal(t, StatusPassed, res.Status)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, StepWarned, res.Steps[0].Status)
	assert.Equal(t, []string{"lint: exit status 1"}, res.Warnings())
	assert.Equal(t, StepPassed, res.Steps[1].Status)
}

func TestExecutor_StartFailure(t *testing.T) {
	r := newScriptedRunner()
	r.on("missing", func(context.Context, Command) (CommandResult, error) {
		return CommandResult{ExitCode: -1}, errors.New("start command: not found")
	})
	e := newTestExecutor(t, r)

	res := e.Run(context.Background(), testJob("linux", Step{Name: "x", Command: "missing"}))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Steps[0].Error, "not found")
}

func TestExecutor_TimeoutStopsJob(t *testing.T) {
	r := newScriptedRunner()
	r.on("slow", func(ctx context.Context, c Command) (CommandResult, error) {
		<-ctx.Done()
		return CommandResult{ExitCode: -1}, ctx.Err()
	})
	e := newTestExecutor(t, r)

	res := e.Run(context.Background(), testJob("linux",
		Step{Name: "slow", Command: "slow", Timeout: 20 * time.Millisecond},
		Step{Name: "after", Command: "after"},
	))

	assert.Equal(t, StatusTimedOut, res.Status)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, StepTimedOut, res.Steps[0].Status)
	assert.NotContains(t, r.scripts(), "after")
}

func TestExecutor_DefaultTimeout(t *testing.T) {
	r := newScriptedRunner()
	r.on("slow", func(ctx context.Context, c Command) (CommandResult, error) {
		<-ctx.Done()
		return CommandResult{ExitCode: -1}, ctx.Err()
	})
	e := NewExecutor(ExecutorConfig{WorkRoot: t.TempDir(), DefaultTimeout: 20 * time.Millisecond}, r, nil)

	res := e.Run(context.Background(), testJob("linux", Step{Name: "slow", Command: "slow"}))
	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Contains(t, res.Steps[0].Error, "20ms")
}

func TestExecutor_ParentCancelIsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newScriptedRunner()
	r.on("slow", func(ctx context.Context, c Command) (CommandResult, error) {
		cancel()
		<-ctx.Done()
		return CommandResult{ExitCode: -1}, ctx.Err()
	})
	e := newTestExecutor(t, r)

	res := e.Run(ctx, testJob("linux",
		Step{Name: "slow", Command: "slow", Timeout: time.Minute},
		Step{Name: "after", Command: "after"},
	))

	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, StepCanceled, res.Steps[0].Status)
	assert.Contains(t, res.Error, "canceled")
}

func TestExecutor_EnvironmentSnapshot(t *testing.T) {
	r := newScriptedRunner()
	e := NewExecutor(ExecutorConfig{
		WorkRoot: t.TempDir(),
		BaseEnv:  map[string]string{"PATH": "/usr/bin", "MATRIX_PLATFORM": "host"},
		ExtraEnv: map[string]string{"MATRIXFLOW_NUM_THREADS": "2"},
	}, r, nil)

	job := testJob("linux", Step{Name: "a", Command: "a", Env: map[string]string{"STEP": "1"}})
	e.Run(context.Background(), job)

	require.Len(t, r.calls, 1)
	env := r.calls[0].Env
	v, _ := envValue(env, "MATRIX_PLATFORM")
	assert.Equal(t, "linux", v)
	v, _ = envValue(env, "PATH")
	assert.Equal(t, "/usr/bin", v)
	v, _ = envValue(env, "STEP")
	assert.Equal(t, "1", v)
	v, _ = envValue(env, "MATRIXFLOW_NUM_THREADS")
	assert.Equal(t, "2", v)
	home, _ := envValue(env, "HOME")
	assert.True(t, strings.HasPrefix(home, e.config.WorkRoot), home)
	assert.Equal(t, filepath.Join(e.config.WorkRoot, "linux", "src"), r.calls[0].Dir)
}

type recordingFetcher struct {
	hit  bool
	reqs []cache.Request
}

func (f *recordingFetcher) Fetch(ctx context.Context, req cache.Request, fetch func(context.Context) error) (bool, error) {
	f.reqs = append(f.reqs, req)
	if f.hit {
		return true, nil
	}
	return false, fetch(ctx)
}

func TestExecutor_FetchStepUsesCache(t *testing.T) {
	r := newScriptedRunner()
	f := &recordingFetcher{}
	e := newTestExecutor(t, r, WithFetcher(f))

	job := testJob("linux", Step{
		Name:    "deps",
		Command: "pip download",
		Cache:   &CacheSpec{Key: "deps-3.7", Files: []string{"requirements.txt"}, Paths: []string{"wheels"}},
	})
	job.Platform, job.RuntimeVersion = "linux", "3.7"

	res := e.Run(context.Background(), job)
	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, CacheMiss, res.Steps[0].Cache)
	require.Len(t, f.reqs, 1)
	assert.Equal(t, "3.7", f.reqs[0].RuntimeVersion)
	assert.Equal(t, "deps-3.7", f.reqs[0].Key)

	f.hit = true
	res = e.Run(context.Background(), job)
	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, CacheHit, res.Steps[0].Cache)
	assert.Len(t, r.calls, 1)
}

func TestExecutor_FetchStepFailure(t *testing.T) {
	r := newScriptedRunner()
	r.exit("pip download", 1)
	e := newTestExecutor(t, r, WithFetcher(&recordingFetcher{}))

	job := testJob("linux", Step{Name: "deps", Command: "pip download", Cache: &CacheSpec{Key: "k"}})
	res := e.Run(context.Background(), job)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, res.Steps[0].ExitCode)
}

type countingObserver struct {
	steps, jobs int
}

func (o *countingObserver) ObserveStep(string, string, time.Duration) { o.steps++ }
func (o *countingObserver) ObserveJob(string, time.Duration)          { o.jobs++ }

func TestExecutor_Observer(t *testing.T) {
	o := &countingObserver{}
	e := newTestExecutor(t, newScriptedRunner(), WithObserver(o))
	e.Run(context.Background(), testJob("linux", Step{Name: "a", Command: "a"}, Step{Name: "b", Command: "b"}))
	assert.Equal(t, 2, o.steps)
	assert.Equal(t, 1, o.jobs)
}

func TestExecutor_MissingWorkRoot(t *testing.T) {
	e := NewExecutor(ExecutorConfig{}, newScriptedRunner(), nil)
	res := e.Run(context.Background(), testJob("linux", Step{Name: "a", Command: "a"}))
	assert.Equal(t, StatusFailed, res.Status)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, res.Steps)
}

func TestExecutor_ShellIsolationAndCoverage(t *testing.T) {
	testutil.RequirePOSIXShell(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "input.txt"), []byte("data"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, ".git"), 0o755))

	artifacts := t.TempDir()
	e := NewExecutor(ExecutorConfig{
		WorkRoot:      t.TempDir(),
		ArtifactDir:   artifacts,
		SourceDir:     src,
		SourceExclude: []string{".git"},
	}, NewShellRunner(nil), zap.NewNop())

	first := testJob("a",
		Step{Name: "write", Command: `test -f input.txt && test ! -d .git && echo leaked > leak.txt && echo '{"files":{}}' > cov.json`},
	)
	first.Coverage = "cov.json"
	res := e.Run(context.Background(), first)
	require.Equal(t, StatusPassed, res.Status, res.Steps)
	assert.Equal(t, filepath.Join(artifacts, "a", "cov.json"), res.Coverage)
	assert.FileExists(t, res.Coverage)

	second := testJob("b", Step{Name: "check", Command: `test ! -f leak.txt`})
	second.Coverage = "cov.json"
	res = e.Run(context.Background(), second)
	assert.Equal(t, StatusPassed, res.Status)
	assert.Empty(t, res.Coverage)

	_, err := os.Stat(filepath.Join(e.config.WorkRoot, "a"))
	assert.True(t, os.IsNotExist(err), "work dir removed after the job")
}

func TestExecutor_WorkRootInsideRelativeSource(t *testing.T) {
	project := t.TempDir()
	testutil.WriteTree(t, project, map[string]string{
		"setup.py":          "setup()\n",
		"pkg/work/keep.txt": "not the work root\n",
	})
	t.Chdir(project)

	e := NewExecutor(ExecutorConfig{
		WorkRoot:     filepath.Join("build", "work"),
		SourceDir:    ".",
		KeepWorkDirs: true,
	}, newScriptedRunner(), zap.NewNop())

	res := e.Run(context.Background(), testJob("j1", Step{Name: "test", Command: "pytest"}))
	require.Equal(t, StatusPassed, res.Status, res.Error)

	src := filepath.Join(project, "build", "work", "j1", "src")
	assert.FileExists(t, filepath.Join(src, "setup.py"))
	assert.FileExists(t, filepath.Join(src, "pkg", "work", "keep.txt"), "same base name elsewhere is copied")
	assert.NoDirExists(t, filepath.Join(src, "build", "work"), "work root must not be copied into itself")
}

func TestCopyTree_SkipsByPathNotName(t *testing.T) {
	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{
		"out/artifact.bin": "x",
		"lib/out/keep.txt": "y",
		".git/HEAD":        "ref",
	})
	dst := t.TempDir()

	err := copyTree(src, dst, map[string]bool{".git": true}, []string{filepath.Join(src, "out")})
	require.NoError(t, err)

	assert.NoDirExists(t, filepath.Join(dst, "out"))
	assert.NoDirExists(t, filepath.Join(dst, ".git"))
	assert.FileExists(t, filepath.Join(dst, "lib", "out", "keep.txt"))
}

func TestExecutor_ShellTimeoutKillsProcess(t *testing.T) {
	testutil.RequirePOSIXShell(t)
	e := newTestExecutor(t, NewShellRunner(nil))

	start := time.Now()
	res := e.Run(context.Background(), testJob("linux",
		Step{Name: "hang", Command: "sleep 30", Timeout: 100 * time.Millisecond},
	))
	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecutor_OutputCapture(t *testing.T) {
	testutil.RequirePOSIXShell(t)
	e := NewExecutor(ExecutorConfig{WorkRoot: t.TempDir(), MaxOutputBytes: 4}, NewShellRunner(nil), nil)

	res := e.Run(context.Background(), testJob("linux",
		Step{Name: "talk", Command: "echo 1234567890; echo oops >&2; exit 3", Criticality: Optional},
	))
	assert.Equal(t, StatusPassed, res.Status)
	out := res.Steps[0]
	assert.Equal(t, StepWarned, out.Status)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "1234", out.Stdout)
	assert.Equal(t, "oops", out.Stderr)
	assert.True(t, out.Truncated)
}
