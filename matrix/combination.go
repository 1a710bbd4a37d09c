package matrix

import (
	"strings"
)

// Combination assigns exactly one value to every declared axis.
//
// Combinations are produced by Expand and share their axis name slice with
// the other combinations of the same expansion; treat them as immutable.
type Combination struct {
	axes    []string
	values  []string
	ordinal []int
}

// NewCombination builds a combination from parallel axis/value slices
// without a definition. Such combinations carry no value ordinals, so Less
// falls back to comparing values as strings; use Definition.Combination to
// get declared-order comparison.
func NewCombination(axes, values []string) Combination {
	return Combination{
		axes:   append([]string(nil), axes...),
		values: append([]string(nil), values...),
	}
}

// Len returns the number of axes.
func (c Combination) Len() int { return len(c.axes) }

// Axes returns the axis names in declared order.
func (c Combination) Axes() []string { return append([]string(nil), c.axes...) }

// Values returns the assigned values in declared axis order.
func (c Combination) Values() []string { return append([]string(nil), c.values...) }

// Get returns the value assigned to axis.
func (c Combination) Get(axis string) (string, bool) {
	for i, a := range c.axes {
		if a == axis {
			return c.values[i], true
		}
	}
	return "", false
}

// Map returns the assignment as a fresh map.
func (c Combination) Map() map[string]string {
	m := make(map[string]string, len(c.axes))
	for i, a := range c.axes {
		m[a] = c.values[i]
	}
	return m
}

// Key is the canonical text form "axis=value,axis=value" in declared order.
// Two combinations are equal iff their keys are equal.
func (c Combination) Key() string {
	var b strings.Builder
	for i, a := range c.axes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a)
		b.WriteByte('=')
		b.WriteString(c.values[i])
	}
	return b.String()
}

// String implements fmt.Stringer.
func (c Combination) String() string { return "(" + strings.Join(c.values, ",") + ")" }

// Equal reports whether both combinations assign the same values to the
// same axes.
func (c Combination) Equal(o Combination) bool {
	if len(c.axes) != len(o.axes) {
		return false
	}
	for i := range c.axes {
		if c.axes[i] != o.axes[i] || c.values[i] != o.values[i] {
			return false
		}
	}
	return true
}

// Less orders combinations lexicographically by declared axis order, then by
// each axis's value order. Combinations without ordinals (NewCombination)
// compare their values as strings instead.
func (c Combination) Less(o Combination) bool {
	if c.ordinal == nil || o.ordinal == nil {
		for i := range c.values {
			if i >= len(o.values) {
				return false
			}
			if c.values[i] != o.values[i] {
				return c.values[i] < o.values[i]
			}
		}
		return len(c.values) < len(o.values)
	}
	for i := range c.ordinal {
		if i >= len(o.ordinal) {
			return false
		}
		if c.ordinal[i] != o.ordinal[i] {
			return c.ordinal[i] < o.ordinal[i]
		}
	}
	return len(c.ordinal) < len(o.ordinal)
}

// Matches reports whether every entry of rule equals this combination's
// value for that axis.
func (c Combination) Matches(rule ExclusionRule) bool {
	for axis, want := range rule {
		got, ok := c.Get(axis)
		if !ok || got != want {
			return false
		}
	}
	return true
}
