package workflow

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/matrixflow/matrix"
)

// reserved scope roots; an axis may not shadow them.
var reservedRoots = map[string]bool{"matrix": true, "host": true, "options": true}

// Planner turns combinations plus a step template into Jobs. Conditions are
// evaluated here, once, so execution never sees a skipped step.
type Planner struct {
	def    *matrix.Definition
	rc     RunContext
	logger *zap.Logger
}

// NewPlanner creates a planner for combinations of def.
func NewPlanner(def *matrix.Definition, rc RunContext, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		def:    def,
		rc:     rc,
		logger: logger.With(zap.String("component", "planner")),
	}
}

// Scope builds the variable scope conditions are evaluated against: bare
// axis names, matrix.<axis>, host.{os,arch,runtime} and options.<name>.
func (p *Planner) Scope(c matrix.Combination) map[string]any {
	scope := make(map[string]any, c.Len()+3)
	mx := make(map[string]any, c.Len())
	for axis, value := range c.Map() {
		scope[axis] = value
		mx[axis] = value
	}
	scope["matrix"] = mx
	scope["host"] = map[string]any{
		"os":      p.rc.OS,
		"arch":    p.rc.Arch,
		"runtime": p.rc.Runtime,
	}
	opts := make(map[string]any)
	for _, name := range p.rc.OptionNames() {
		opts[name] = p.rc.Option(name)
	}
	scope["options"] = opts
	return scope
}

// Check validates tmpl against the definition without planning a job. It is
// what Plan runs first, exposed so callers can fail before expanding.
func (p *Planner) Check(tmpl *Template) error {
	if tmpl == nil {
		return &matrix.ConfigError{Field: "steps", Reason: "step template is nil"}
	}
	for _, a := range p.def.Axes {
		if reservedRoots[a.Name] {
			return matrix.Configf("axes", "axis name %q is reserved", a.Name)
		}
	}
	if tmpl.PlatformAxis != "" {
		if _, ok := p.def.Axis(tmpl.PlatformAxis); !ok {
			return matrix.Configf("cache.platform_axis", "undeclared axis %q", tmpl.PlatformAxis)
		}
	}
	if tmpl.RuntimeAxis != "" {
		if _, ok := p.def.Axis(tmpl.RuntimeAxis); !ok {
			return matrix.Configf("cache.runtime_axis", "undeclared axis %q", tmpl.RuntimeAxis)
		}
	}

	// A template scope with placeholder values answers "is this resolvable"
	// identically for every combination.
	sample := make([]string, len(p.def.Axes))
	for i, a := range p.def.Axes {
		sample[i] = a.Values[0]
	}
	scope := p.Scope(matrix.NewCombination(p.def.AxisNames(), sample))

	names := make(map[string]bool, len(tmpl.Steps))
	for i, st := range tmpl.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if strings.TrimSpace(st.Name) == "" {
			return matrix.Configf(field, "step name is empty")
		}
		if names[st.Name] {
			return matrix.Configf(field, "duplicate step name %q", st.Name)
		}
		names[st.Name] = true
		switch st.Criticality {
		case "", Required, Optional:
		default:
			return matrix.Configf(field, "unknown criticality %q", st.Criticality)
		}
		if st.If == nil {
			continue
		}
		for _, v := range st.If.Variables() {
			if _, ok := resolvePath(v, scope); !ok {
				return matrix.Configf(field+".if", "condition %q references unresolved variable %q", st.If.String(), v)
			}
		}
	}
	for i, r := range tmpl.Resources {
		field := fmt.Sprintf("resources[%d]", i)
		if r.Name == "" {
			return matrix.Configf(field, "resource name is empty")
		}
		if r.Limit < 1 {
			return matrix.Configf(field, "resource %q limit must be at least 1", r.Name)
		}
		for axis, value := range r.Match {
			a, ok := p.def.Axis(axis)
			if !ok {
				return matrix.Configf(field, "match references undeclared axis %q", axis)
			}
			found := false
			for _, v := range a.Values {
				found = found || v == value
			}
			if !found {
				return matrix.Configf(field, "value %q is not declared for axis %q", value, axis)
			}
		}
	}
	return nil
}

// Plan resolves tmpl for one combination.
func (p *Planner) Plan(c matrix.Combination, tmpl *Template) (*Job, error) {
	if err := p.Check(tmpl); err != nil {
		return nil, err
	}
	return p.plan(c, tmpl)
}

// PlanAll plans every combination and returns the jobs sorted by id.
func (p *Planner) PlanAll(combos []matrix.Combination, tmpl *Template) ([]*Job, error) {
	if err := p.Check(tmpl); err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(combos))
	ids := make(map[string]string, len(combos))
	for _, c := range combos {
		job, err := p.plan(c, tmpl)
		if err != nil {
			return nil, err
		}
		if prev, dup := ids[job.ID]; dup {
			return nil, matrix.Configf("axes", "combinations %s and %s map to the same job id %s", prev, c.Key(), job.ID)
		}
		ids[job.ID] = c.Key()
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (p *Planner) plan(c matrix.Combination, tmpl *Template) (*Job, error) {
	scope := p.Scope(c)
	vars := make(map[string]string, 2*c.Len())
	for axis, value := range c.Map() {
		vars[axis] = value
		vars["matrix."+axis] = value
	}

	job := &Job{
		ID:             JobID(c),
		Combination:    c,
		Env:            p.overlay(c, tmpl, vars),
		Platform:       p.rc.OS,
		RuntimeVersion: p.rc.Runtime,
		Coverage:       interpolate(tmpl.Coverage, vars),
	}
	if tmpl.PlatformAxis != "" {
		job.Platform, _ = c.Get(tmpl.PlatformAxis)
	}
	if tmpl.RuntimeAxis != "" {
		job.RuntimeVersion, _ = c.Get(tmpl.RuntimeAxis)
	}

	for i, st := range tmpl.Steps {
		if st.If != nil {
			ok, err := st.If.Eval(scope)
			if err != nil {
				return nil, matrix.Configf(fmt.Sprintf("steps[%d].if", i), "evaluating %q for %s: %v", st.If.String(), c.Key(), err)
			}
			if !ok {
				p.logger.Debug("step omitted by condition",
					zap.String("job_id", job.ID),
					zap.String("step", st.Name),
					zap.String("condition", st.If.String()),
				)
				continue
			}
		}
		crit := st.Criticality
		if crit == "" {
			crit = Required
		}
		step := Step{
			Name:        interpolate(st.Name, vars),
			Command:     interpolate(st.Run, vars),
			Criticality: crit,
			Timeout:     st.Timeout,
			Env:         interpolateMap(st.Env, vars),
		}
		if st.Cache != nil {
			step.Cache = &CacheSpec{
				Key:   interpolate(st.Cache.Key, vars),
				Files: append([]string(nil), st.Cache.Files...),
				Paths: append([]string(nil), st.Cache.Paths...),
			}
		}
		job.Steps = append(job.Steps, step)
	}

	for _, r := range tmpl.Resources {
		if c.Matches(r.Match) {
			job.Resources = append(job.Resources, r.Name)
		}
	}
	sort.Strings(job.Resources)
	return job, nil
}

// overlay merges static globals, axis identity variables and per-axis-value
// templates, in that order; later entries win.
func (p *Planner) overlay(c matrix.Combination, tmpl *Template, vars map[string]string) map[string]string {
	env := make(map[string]string)
	for k, v := range tmpl.Env {
		env[k] = interpolate(v, vars)
	}
	for _, a := range p.def.Axes {
		value, _ := c.Get(a.Name)
		env["MATRIX_"+envName(a.Name)] = value
	}
	for _, a := range p.def.Axes {
		value, _ := c.Get(a.Name)
		for k, v := range a.Env[value] {
			env[k] = interpolate(v, vars)
		}
	}
	if p.rc.Option(OptionDisableJIT) && p.rc.JITDisableVar != "" {
		env[p.rc.JITDisableVar] = "1"
	}
	return env
}

func envName(axis string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(axis) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// resolvePath looks up a dot-separated path in a nested scope.
func resolvePath(path string, scope map[string]any) (any, bool) {
	var current any = scope
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
