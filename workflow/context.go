package workflow

import (
	"runtime"
	"sort"
)

// DefaultJITDisableVar is exported to jobs when the disable_jit option is on.
const DefaultJITDisableVar = "NUMBA_DISABLE_JIT"

// RunContext is the platform context threaded through planning and
// execution. It replaces ambient lookups: conditions and cache keys only see
// what is recorded here.
type RunContext struct {
	OS      string
	Arch    string
	Runtime string
	// Options are named boolean switches visible to conditions as
	// options.<name>. disable_jit is always present.
	Options map[string]bool
	// JITDisableVar is set to "1" in every job env while disable_jit is on.
	JITDisableVar string
}

// HostContext describes the machine the runner executes on.
func HostContext(runtimeVersion string, disableJIT bool) RunContext {
	return RunContext{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		Runtime:       runtimeVersion,
		Options:       map[string]bool{OptionDisableJIT: disableJIT},
		JITDisableVar: DefaultJITDisableVar,
	}
}

// OptionDisableJIT names the option that turns off the runtime's JIT mode.
const OptionDisableJIT = "disable_jit"

// Option reports the value of a named option.
func (c RunContext) Option(name string) bool { return c.Options[name] }

// OptionNames returns the declared option names, sorted.
func (c RunContext) OptionNames() []string {
	names := make([]string, 0, len(c.Options)+1)
	seen := false
	for k := range c.Options {
		if k == OptionDisableJIT {
			seen = true
		}
		names = append(names, k)
	}
	if !seen {
		names = append(names, OptionDisableJIT)
	}
	sort.Strings(names)
	return names
}
