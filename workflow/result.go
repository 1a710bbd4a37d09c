package workflow

import "time"

// Status is a job's terminal status.
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// StepStatus is the outcome of one executed step.
type StepStatus string

const (
	StepPassed   StepStatus = "passed"
	StepFailed   StepStatus = "failed"
	StepWarned   StepStatus = "warned" // optional step failed
	StepTimedOut StepStatus = "timed_out"
	StepCanceled StepStatus = "canceled"
)

// CacheResult records how a fetch step used the cache.
type CacheResult string

const (
	CacheHit  CacheResult = "hit"
	CacheMiss CacheResult = "miss"
)

// StepOutcome is one entry of a job's execution log. Only steps that
// actually ran appear in the log.
type StepOutcome struct {
	Name      string        `json:"name"`
	Command   string        `json:"command"`
	Status    StepStatus    `json:"status"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Cache     CacheResult   `json:"cache,omitempty"`
	Duration  time.Duration `json:"duration"`
	Warning   string        `json:"warning,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// JobResult is the outcome of running one Job.
type JobResult struct {
	JobID       string        `json:"job_id"`
	Combination string        `json:"combination"`
	Status      Status        `json:"status"`
	Steps       []StepOutcome `json:"steps"`
	// Coverage references the job's coverage artifact, if one was produced.
	Coverage   string    `json:"coverage,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is the wall time of the job.
func (r *JobResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Warnings returns the warnings recorded by failed optional steps.
func (r *JobResult) Warnings() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Warning != "" {
			out = append(out, s.Name+": "+s.Warning)
		}
	}
	return out
}

// Step returns the outcome of the named step, if it ran.
func (r *JobResult) Step(name string) (StepOutcome, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepOutcome{}, false
}
