package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func platformRuntime() *Definition {
	return &Definition{
		Axes: []Axis{
			{Name: "platform", Values: []string{"linux", "windows"}},
			{Name: "runtime", Values: []string{"v1", "v2"}},
		},
		Exclude: []ExclusionRule{{"platform": "windows", "runtime": "v1"}},
	}
}

func TestExpand_ExcludesWindowsV1(t *testing.T) {
	combos, err := Expand(platformRuntime())
	require.NoError(t, err)
	require.Len(t, combos, 3)

	got := make([]string, len(combos))
	for i, c := range combos {
		got[i] = c.String()
	}
	assert.Equal(t, []string{"(linux,v1)", "(linux,v2)", "(windows,v2)"}, got)
}

func TestExpand_LastAxisVariesFastest(t *testing.T) {
	def := &Definition{Axes: []Axis{
		{Name: "a", Values: []string{"2", "1"}},
		{Name: "b", Values: []string{"y", "x", "z"}},
	}}
	combos, err := Expand(def)
	require.NoError(t, err)

	keys := make([]string, len(combos))
	for i, c := range combos {
		keys[i] = c.Key()
	}
	// Declared value order wins over lexical order.
	assert.Equal(t, []string{
		"a=2,b=y", "a=2,b=x", "a=2,b=z",
		"a=1,b=y", "a=1,b=x", "a=1,b=z",
	}, keys)

	for i := 1; i < len(combos); i++ {
		assert.True(t, combos[i-1].Less(combos[i]), "combos[%d] should sort before combos[%d]", i-1, i)
		assert.False(t, combos[i].Less(combos[i-1]))
	}
}

func TestExpand_Deterministic(t *testing.T) {
	first, err := Expand(platformRuntime())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Expand(platformRuntime())
		require.NoError(t, err)
		require.Len(t, again, len(first))
		for j := range first {
			assert.True(t, first[j].Equal(again[j]))
		}
	}
}

func TestExpand_PartialRuleExcludesWholeSlice(t *testing.T) {
	def := &Definition{
		Axes: []Axis{
			{Name: "os", Values: []string{"linux", "macos", "windows"}},
			{Name: "py", Values: []string{"3.6", "3.7", "3.8"}},
			{Name: "mode", Values: []string{"jit", "nojit"}},
		},
		Exclude: []ExclusionRule{
			{"os": "windows"},
			{"os": "macos", "py": "3.6"},
			{"os": "macos", "py": "3.6", "mode": "jit"}, // overlaps the rule above
		},
	}
	combos, err := Expand(def)
	require.NoError(t, err)
	assert.Len(t, combos, 18-6-2)

	for _, c := range combos {
		os, _ := c.Get("os")
		assert.NotEqual(t, "windows", os)
		for _, r := range def.Exclude {
			assert.False(t, c.Matches(r), "%s matches %s", c.Key(), r)
		}
	}

	n, err := Count(def)
	require.NoError(t, err)
	assert.Equal(t, len(combos), n)
}

func TestExpand_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		def  *Definition
		want string
	}{
		{
			name: "no axes",
			def:  &Definition{},
			want: "at least one axis",
		},
		{
			name: "empty axis",
			def:  &Definition{Axes: []Axis{{Name: "os"}}},
			want: "has no values",
		},
		{
			name: "duplicate axis",
			def: &Definition{Axes: []Axis{
				{Name: "os", Values: []string{"linux"}},
				{Name: "os", Values: []string{"windows"}},
			}},
			want: "duplicate axis name",
		},
		{
			name: "duplicate value",
			def:  &Definition{Axes: []Axis{{Name: "os", Values: []string{"linux", "linux"}}}},
			want: "twice",
		},
		{
			name: "rule references unknown axis",
			def: &Definition{
				Axes:    []Axis{{Name: "os", Values: []string{"linux"}}},
				Exclude: []ExclusionRule{{"arch": "arm64"}},
			},
			want: "undeclared axis",
		},
		{
			name: "rule references unknown value",
			def: &Definition{
				Axes:    []Axis{{Name: "os", Values: []string{"linux"}}},
				Exclude: []ExclusionRule{{"os": "plan9"}},
			},
			want: "not declared",
		},
		{
			name: "empty rule",
			def: &Definition{
				Axes:    []Axis{{Name: "os", Values: []string{"linux"}}},
				Exclude: []ExclusionRule{{}},
			},
			want: "empty",
		},
		{
			name: "env for unknown value",
			def: &Definition{Axes: []Axis{{
				Name:   "mode",
				Values: []string{"jit"},
				Env:    map[string]map[string]string{"nojit": {"NUMBA_DISABLE_JIT": "1"}},
			}}},
			want: "unknown value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			combos, err := Expand(tt.def)
			require.Error(t, err)
			assert.Nil(t, combos)
			assert.True(t, IsConfigError(err))
			assert.Contains(t, err.Error(), tt.want)

			_, err = Count(tt.def)
			assert.True(t, IsConfigError(err))
		})
	}
}

func TestExpand_AllExcluded(t *testing.T) {
	def := &Definition{
		Axes:    []Axis{{Name: "os", Values: []string{"linux"}}},
		Exclude: []ExclusionRule{{"os": "linux"}},
	}
	combos, err := Expand(def)
	require.NoError(t, err)
	assert.Empty(t, combos)
}

func TestCombination_Accessors(t *testing.T) {
	c := NewCombination([]string{"os", "py"}, []string{"linux", "3.7"})

	v, ok := c.Get("py")
	assert.True(t, ok)
	assert.Equal(t, "3.7", v)

	_, ok = c.Get("arch")
	assert.False(t, ok)

	assert.Equal(t, map[string]string{"os": "linux", "py": "3.7"}, c.Map())
	assert.Equal(t, "os=linux,py=3.7", c.Key())
	assert.Equal(t, []string{"os", "py"}, c.Axes())
	assert.Equal(t, 2, c.Len())

	assert.True(t, c.Matches(ExclusionRule{"os": "linux"}))
	assert.False(t, c.Matches(ExclusionRule{"os": "linux", "arch": "x64"}))
	assert.True(t, c.Equal(NewCombination([]string{"os", "py"}, []string{"linux", "3.7"})))
	assert.False(t, c.Equal(NewCombination([]string{"os", "py"}, []string{"linux", "3.8"})))
}

func TestCombination_LessByDeclaredOrder(t *testing.T) {
	def := &Definition{Axes: []Axis{
		{Name: "platform", Values: []string{"windows", "linux"}},
		{Name: "runtime", Values: []string{"3.10", "3.9"}},
	}}

	win, err := def.Combination("windows", "3.9")
	require.NoError(t, err)
	linux, err := def.Combination("linux", "3.10")
	require.NoError(t, err)
	assert.True(t, win.Less(linux), "declared value order, not string order")
	assert.False(t, linux.Less(win))

	combos, err := Expand(def)
	require.NoError(t, err)
	assert.True(t, combos[0].Equal(mustCombination(t, def, "windows", "3.10")))
	assert.False(t, combos[0].Less(mustCombination(t, def, "windows", "3.10")))

	_, err = def.Combination("macos", "3.9")
	assert.True(t, IsConfigError(err))
	_, err = def.Combination("linux")
	assert.True(t, IsConfigError(err))
}

func TestCombination_LessWithoutDefinition(t *testing.T) {
	a := NewCombination([]string{"os"}, []string{"linux"})
	b := NewCombination([]string{"os"}, []string{"windows"})
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}

func mustCombination(t *testing.T, def *Definition, values ...string) Combination {
	t.Helper()
	c, err := def.Combination(values...)
	require.NoError(t, err)
	return c
}

func TestExclusionRule_String(t *testing.T) {
	r := ExclusionRule{"runtime": "v1", "platform": "windows"}
	assert.Equal(t, "{platform=windows,runtime=v1}", r.String())
}
