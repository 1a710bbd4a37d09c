package workflow

import (
	"time"

	"github.com/BaSui01/matrixflow/matrix"
)

// Criticality decides what a failing step does to its job.
type Criticality string

const (
	// Required steps abort the job on failure.
	Required Criticality = "required"
	// Optional steps record a warning on failure and the job continues.
	Optional Criticality = "optional"
)

// Condition is a predicate over a job's variable scope. Implementations are
// compiled once (see workflow/dsl) and evaluated by the Planner.
type Condition interface {
	// Eval evaluates the predicate against vars.
	Eval(vars map[string]any) (bool, error)
	// Variables lists every identifier path the predicate reads, such as
	// "platform" or "options.disable_jit".
	Variables() []string
	// String returns the source expression.
	String() string
}

// CacheSpec marks a step as a cache-eligible fetch step.
type CacheSpec struct {
	// Key is an extra key component; it may reference axes as ${axis}.
	Key string
	// Files are fingerprint inputs, relative to the job working directory.
	Files []string
	// Paths are the outputs restored on a hit and stored on a miss.
	Paths []string
}

// StepTemplate is one step of the pipeline before planning.
type StepTemplate struct {
	Name        string
	Run         string
	If          Condition // nil means always
	Criticality Criticality
	Timeout     time.Duration
	Env         map[string]string
	Cache       *CacheSpec
}

// ResourceRule names a scarce resource held by every job whose combination
// matches Match. Limit is the number of such jobs allowed to run at once.
type ResourceRule struct {
	Name  string
	Limit int
	Match matrix.ExclusionRule
}

// Template is the step template shared by every job of a pipeline.
type Template struct {
	Name string
	// Env holds static global variables; values may reference ${axis}.
	Env   map[string]string
	Steps []StepTemplate
	// Resources declares scarce-resource admission rules.
	Resources []ResourceRule
	// Coverage is the coverage artifact path relative to the job directory.
	Coverage string
	// PlatformAxis and RuntimeAxis name the axes that feed the cache key.
	// When empty the host platform and runtime are used.
	PlatformAxis string
	RuntimeAxis  string
}

// ResourceLimits returns the declared limit of every resource class.
func (t *Template) ResourceLimits() map[string]int {
	limits := make(map[string]int, len(t.Resources))
	for _, r := range t.Resources {
		limits[r.Name] = r.Limit
	}
	return limits
}
