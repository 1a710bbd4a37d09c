package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/matrixflow/matrix"
)

// funcCondition is a hand-built Condition for planner tests.
type funcCondition struct {
	src  string
	vars []string
	fn   func(vars map[string]any) (bool, error)
}

func (c funcCondition) Eval(vars map[string]any) (bool, error) { return c.fn(vars) }
func (c funcCondition) Variables() []string                    { return c.vars }
func (c funcCondition) String() string                         { return c.src }

// equals builds `path == value`.
func equals(path, value string) Condition {
	return funcCondition{
		src:  fmt.Sprintf("%s == %q", path, value),
		vars: []string{path},
		fn: func(vars map[string]any) (bool, error) {
			v, ok := resolvePath(path, vars)
			if !ok {
				return false, fmt.Errorf("unknown variable %s", path)
			}
			return v == value, nil
		},
	}
}

// scriptedRunner answers commands from a table; unknown commands pass.
type scriptedRunner struct {
	mu      sync.Mutex
	results map[string]func(ctx context.Context, c Command) (CommandResult, error)
	calls   []Command
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{results: map[string]func(context.Context, Command) (CommandResult, error){}}
}

func (r *scriptedRunner) on(script string, fn func(ctx context.Context, c Command) (CommandResult, error)) {
	r.results[script] = fn
}

func (r *scriptedRunner) exit(script string, code int) {
	r.on(script, func(context.Context, Command) (CommandResult, error) {
		return CommandResult{ExitCode: code, Stderr: "exit " + fmt.Sprint(code)}, nil
	})
}

func (r *scriptedRunner) Run(ctx context.Context, c Command) (CommandResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	fn := r.results[c.Script]
	r.mu.Unlock()
	if fn == nil {
		return CommandResult{Stdout: "ok " + c.Script}, nil
	}
	return fn(ctx, c)
}

func (r *scriptedRunner) scripts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Script
	}
	return out
}

func testDefinition() *matrix.Definition {
	return &matrix.Definition{
		Axes: []matrix.Axis{
			{Name: "platform", Values: []string{"linux", "windows"}},
			{Name: "runtime", Values: []string{"3.6", "3.7"}},
		},
		Exclude: []matrix.ExclusionRule{{"platform": "windows", "runtime": "3.6"}},
	}
}

func testJob(id string, steps ...Step) *Job {
	return &Job{
		ID:          id,
		Combination: matrix.NewCombination([]string{"platform"}, []string{id}),
		Steps:       steps,
		Env:         map[string]string{"MATRIX_PLATFORM": id},
	}
}

func envValue(env []string, key string) (string, bool) {
	value, found := "", false
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			value, found = v, true
		}
	}
	return value, found
}

func mustExpand(t *testing.T, def *matrix.Definition) []matrix.Combination {
	t.Helper()
	combos, err := matrix.Expand(def)
	require.NoError(t, err)
	return combos
}
