package matrix

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pgregory.net/rapid"
)

// drawDefinition generates a valid definition with small axis cardinalities
// and a handful of exclusion rules over declared axes and values.
func drawDefinition(rt *rapid.T) *Definition {
	numAxes := rapid.IntRange(1, 4).Draw(rt, "numAxes")
	def := &Definition{}
	for i := 0; i < numAxes; i++ {
		size := rapid.IntRange(1, 4).Draw(rt, fmt.Sprintf("size_%d", i))
		values := make([]string, size)
		for j := range values {
			values[j] = fmt.Sprintf("v%d", j)
		}
		def.Axes = append(def.Axes, Axis{Name: fmt.Sprintf("axis%d", i), Values: values})
	}

	numRules := rapid.IntRange(0, 4).Draw(rt, "numRules")
	for r := 0; r < numRules; r++ {
		rule := ExclusionRule{}
		for i, a := range def.Axes {
			if rapid.Bool().Draw(rt, fmt.Sprintf("rule_%d_use_%d", r, i)) {
				v := rapid.IntRange(0, len(a.Values)-1).Draw(rt, fmt.Sprintf("rule_%d_val_%d", r, i))
				rule[a.Name] = a.Values[v]
			}
		}
		if len(rule) == 0 {
			rule[def.Axes[0].Name] = def.Axes[0].Values[0]
		}
		def.Exclude = append(def.Exclude, rule)
	}
	return def
}

// bruteForceExcluded counts combinations of the full product matched by at
// least one rule, independently of Expand.
func bruteForceExcluded(def *Definition) (product, excludedCount int) {
	product = 1
	for _, a := range def.Axes {
		product *= len(a.Values)
	}
	var walk func(i int, assign map[string]string)
	walk = func(i int, assign map[string]string) {
		if i == len(def.Axes) {
			for _, r := range def.Exclude {
				hit := true
				for k, v := range r {
					if assign[k] != v {
						hit = false
						break
					}
				}
				if hit {
					excludedCount++
					return
				}
			}
			return
		}
		for _, v := range def.Axes[i].Values {
			assign[def.Axes[i].Name] = v
			walk(i+1, assign)
		}
	}
	walk(0, map[string]string{})
	return product, excludedCount
}

func TestProperty_ExpandCardinality(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		def := drawDefinition(rt)

		combos, err := Expand(def)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}

		product, excl := bruteForceExcluded(def)
		if len(combos) != product-excl {
			rt.Fatalf("expected %d combinations, got %d", product-excl, len(combos))
		}

		seen := make(map[string]bool, len(combos))
		for _, c := range combos {
			if seen[c.Key()] {
				rt.Fatalf("duplicate combination %s", c.Key())
			}
			seen[c.Key()] = true
			if c.Len() != len(def.Axes) {
				rt.Fatalf("combination %s does not assign every axis", c.Key())
			}
			for _, r := range def.Exclude {
				if c.Matches(r) {
					rt.Fatalf("combination %s matches exclusion %s", c.Key(), r)
				}
			}
		}
	})
}

func TestProperty_ExpandOrderedAndStable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		def := drawDefinition(rt)

		first, err := Expand(def)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		second, err := Expand(def)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if len(first) != len(second) {
			rt.Fatalf("lengths differ: %d vs %d", len(first), len(second))
		}
		for i := range first {
			if !first[i].Equal(second[i]) {
				rt.Fatalf("position %d differs: %s vs %s", i, first[i].Key(), second[i].Key())
			}
			if i > 0 && !first[i-1].Less(first[i]) {
				rt.Fatalf("not strictly ordered at %d: %s then %s", i, first[i-1].Key(), first[i].Key())
			}
		}
	})
}

// Validates: an exclusion over a single axis value removes exactly the
// slice of the product holding that value.
func TestProperty_SingleAxisExclusion(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("excluding one value of the first axis removes its whole slice", prop.ForAll(
		func(first, second, third int) bool {
			def := &Definition{}
			for i, size := range []int{first, second, third} {
				values := make([]string, size)
				for j := range values {
					values[j] = fmt.Sprintf("%d", j)
				}
				def.Axes = append(def.Axes, Axis{Name: fmt.Sprintf("a%d", i), Values: values})
			}
			def.Exclude = []ExclusionRule{{"a0": "0"}}

			combos, err := Expand(def)
			if err != nil {
				t.Logf("Expand failed: %v", err)
				return false
			}
			want := (first - 1) * second * third
			if len(combos) != want {
				t.Logf("expected %d, got %d", want, len(combos))
				return false
			}
			n, err := Count(def)
			return err == nil && n == want
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 5),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
