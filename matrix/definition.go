package matrix

import (
	"fmt"
	"sort"
	"strings"
)

// Axis is one dimension of the configuration space.
type Axis struct {
	Name   string
	Values []string
	// Env maps an axis value to the environment variables it contributes to
	// a job's overlay. Values may reference other axes as ${axis}.
	Env map[string]map[string]string
}

// index returns the position of value within the axis, or -1.
func (a Axis) index(value string) int {
	for i, v := range a.Values {
		if v == value {
			return i
		}
	}
	return -1
}

// ExclusionRule is a partial assignment that disqualifies every Combination
// it matches.
type ExclusionRule map[string]string

// String renders the rule with its axes in sorted order.
func (r ExclusionRule) String() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + r[k]
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Definition declares axes, their values, and exclusion rules. Axis order is
// significant: it fixes the ordering of the expanded combinations.
type Definition struct {
	Axes    []Axis
	Exclude []ExclusionRule
}

// Axis looks up an axis by name.
func (d *Definition) Axis(name string) (Axis, bool) {
	for _, a := range d.Axes {
		if a.Name == name {
			return a, true
		}
	}
	return Axis{}, false
}

// AxisNames returns the axis names in declared order.
func (d *Definition) AxisNames() []string {
	names := make([]string, len(d.Axes))
	for i, a := range d.Axes {
		names[i] = a.Name
	}
	return names
}

// Validate checks the definition for structural errors. Every failure is a
// *ConfigError.
func (d *Definition) Validate() error {
	if d == nil {
		return &ConfigError{Reason: "matrix definition is nil"}
	}
	if len(d.Axes) == 0 {
		return &ConfigError{Field: "axes", Reason: "at least one axis is required"}
	}

	seen := make(map[string]int, len(d.Axes))
	for i, a := range d.Axes {
		field := fmt.Sprintf("axes[%d]", i)
		if strings.TrimSpace(a.Name) == "" {
			return Configf(field, "axis name is empty")
		}
		if prev, dup := seen[a.Name]; dup {
			return Configf(field, "duplicate axis name %q (first declared at axes[%d])", a.Name, prev)
		}
		seen[a.Name] = i

		if len(a.Values) == 0 {
			return Configf(field, "axis %q has no values", a.Name)
		}
		values := make(map[string]struct{}, len(a.Values))
		for _, v := range a.Values {
			if _, dup := values[v]; dup {
				return Configf(field, "axis %q declares value %q twice", a.Name, v)
			}
			values[v] = struct{}{}
		}
		for v := range a.Env {
			if _, ok := values[v]; !ok {
				return Configf(field+".env", "env declared for unknown value %q of axis %q", v, a.Name)
			}
		}
	}

	for i, rule := range d.Exclude {
		field := fmt.Sprintf("exclude[%d]", i)
		if len(rule) == 0 {
			return Configf(field, "exclusion rule is empty and would exclude every combination")
		}
		for name, value := range rule {
			pos, ok := seen[name]
			if !ok {
				return Configf(field, "references undeclared axis %q", name)
			}
			if d.Axes[pos].index(value) < 0 {
				return Configf(field, "value %q is not declared for axis %q", value, name)
			}
		}
	}
	return nil
}

// Combination builds the combination assigning values, in declared axis
// order, with the same ordering as the ones Expand produces.
func (d *Definition) Combination(values ...string) (Combination, error) {
	if len(values) != len(d.Axes) {
		return Combination{}, Configf("combination", "got %d values for %d axes", len(values), len(d.Axes))
	}
	c := Combination{
		axes:    d.AxisNames(),
		values:  append([]string(nil), values...),
		ordinal: make([]int, len(values)),
	}
	for i, a := range d.Axes {
		c.ordinal[i] = a.index(values[i])
		if c.ordinal[i] < 0 {
			return Combination{}, Configf("combination", "value %q is not declared for axis %q", values[i], a.Name)
		}
	}
	return c, nil
}
