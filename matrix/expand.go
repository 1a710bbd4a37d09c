package matrix

// Expand computes the cross product of all axes in declared order and removes
// every combination matched by one or more exclusion rules. The last axis
// varies fastest, so the output is sorted by declared axis order and then by
// each axis's value order. Identical input always yields identical output.
func Expand(def *Definition) ([]Combination, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	names := def.AxisNames()
	total := 1
	for _, a := range def.Axes {
		total *= len(a.Values)
	}

	out := make([]Combination, 0, total)
	idx := make([]int, len(def.Axes))
	for n := 0; n < total; n++ {
		c := Combination{
			axes:    names,
			values:  make([]string, len(idx)),
			ordinal: append([]int(nil), idx...),
		}
		for i, a := range def.Axes {
			c.values[i] = a.Values[idx[i]]
		}
		if !excluded(c, def.Exclude) {
			out = append(out, c)
		}
		advance(idx, def.Axes)
	}
	return out, nil
}

// Count returns len(Expand(def)) without keeping the combinations.
func Count(def *Definition) (int, error) {
	if err := def.Validate(); err != nil {
		return 0, err
	}
	total := 1
	for _, a := range def.Axes {
		total *= len(a.Values)
	}
	names := def.AxisNames()
	idx := make([]int, len(def.Axes))
	values := make([]string, len(idx))
	kept := 0
	for n := 0; n < total; n++ {
		for i, a := range def.Axes {
			values[i] = a.Values[idx[i]]
		}
		if !excluded(Combination{axes: names, values: values}, def.Exclude) {
			kept++
		}
		advance(idx, def.Axes)
	}
	return kept, nil
}

func excluded(c Combination, rules []ExclusionRule) bool {
	for _, r := range rules {
		if c.Matches(r) {
			return true
		}
	}
	return false
}

// advance increments the mixed-radix counter idx, last axis fastest.
func advance(idx []int, axes []Axis) {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < len(axes[i].Values) {
			return
		}
		idx[i] = 0
	}
}
