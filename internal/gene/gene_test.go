package gene

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRegex(t *testing.T, name, pattern string) *Regex {
	t.Helper()
	g, err := NewRegex(name, pattern)
	require.NoError(t, err)
	return g
}

func sampleGenes(t *testing.T) []Gene {
	t.Helper()
	return []Gene{
		NewBoolean("flag"),
		NewInteger("count", 0, 10),
		NewInteger("wide", -1<<62, 1<<62),
		NewFloat("ratio", -1.5, 2.5),
		NewEnum("color", "red", "green", "blue"),
		NewString("label", 1, 8, "abc"),
		mustRegex(t, "code", `[A-Z]{2}-\d{3}(x|yz)?`),
		NewOptional("note", NewString("text", 0, 4, "")),
		NewArray("tags", NewEnum("tag", "a", "b"), 1, 4),
		NewObject("item",
			NewString("name", 1, 5, ""),
			NewInteger("qty", 1, 99),
			NewOptional("discount", NewFloat("pct", 0, 1)),
		),
		NewMap("attrs", NewInteger("v", 0, 3), 3),
	}
}

func TestMutationsStayInsideDomain(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, g := range sampleGenes(t) {
		g.Randomize(rng, false)
		require.NoError(t, g.Validate(), g.Name())
		for i := 0; i < 1000; i++ {
			if g.Mutable() {
				require.NoError(t, g.Mutate(rng, StaticControl(float64(i)/1000)), g.Name())
			}
			require.NoError(t, g.Validate(), "%s after %d mutations: %s", g.Name(), i, g.RawString())
		}
	}
}

func TestIntegerMutationBoundsAndForceNew(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	g := NewInteger("x", 0, 10)
	g.Randomize(rng, false)
	for i := 0; i < 1000; i++ {
		require.NoError(t, g.Mutate(rng, StaticControl(0.3)))
		require.GreaterOrEqual(t, g.Value(), int64(0))
		require.LessOrEqual(t, g.Value(), int64(10))
	}
	for i := 0; i < 1000; i++ {
		before := g.Value()
		g.Randomize(rng, true)
		require.NotEqual(t, before, g.Value())
	}
}

func TestForceNewChangesEveryVariant(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	genes := []Gene{
		NewBoolean("b"),
		NewInteger("i", 5, 6),
		NewFloat("f", 0, 1),
		NewEnum("e", "x", "y"),
		NewString("s", 1, 3, "ab"),
		mustRegex(t, "r", `[ab]{2}`),
	}
	for _, g := range genes {
		g.Randomize(rng, false)
		for i := 0; i < 200; i++ {
			before := g.RawString()
			g.Randomize(rng, true)
			require.NotEqual(t, before, g.RawString(), g.Name())
		}
	}
}

func TestMutateBeforeRandomizeFails(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, g := range sampleGenes(t) {
		err := g.Mutate(rng, nil)
		require.ErrorIs(t, err, ErrNotInitialized, g.Name())
	}
}

func TestFrozenGeneIgnoresRandomizeAndRejectsMutate(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	g := NewInteger("fixed", 0, 100)
	require.True(t, g.SetValue(42))
	Freeze(g)

	g.Randomize(rng, true)
	require.Equal(t, int64(42), g.Value())
	require.False(t, g.Mutable())
	require.True(t, errors.Is(g.Mutate(rng, nil), ErrFrozen))
	require.True(t, g.SetFromString("42"))
	require.False(t, g.SetFromString("43"))

	copied := g.Copy()
	require.True(t, Frozen(copied))
}

func TestEnumSingleValueIsNotMutable(t *testing.T) {
	g := NewEnum("only", "one")
	g.Randomize(rand.New(rand.NewSource(1)), true)
	assert.False(t, g.Mutable())
	assert.Equal(t, "one", g.RawString())
}

func TestCopyIsIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	for _, g := range sampleGenes(t) {
		g.Randomize(rng, false)
		c := g.Copy()
		require.True(t, Equal(g, c), g.Name())
		for i := 0; i < 20 && g.Mutable(); i++ {
			before := c.RawString()
			require.NoError(t, g.Mutate(rng, nil))
			require.Equal(t, before, c.RawString(), g.Name())
		}
		for _, child := range c.Children() {
			require.Same(t, c, child.Parent())
		}
	}
}

func TestRegexOutputsMatchPattern(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	g := mustRegex(t, "id", `(foo|ba[rz])_[0-9a-f]+`)
	for i := 0; i < 300; i++ {
		if i%2 == 0 {
			g.Randomize(rng, i%4 == 0)
		} else {
			require.NoError(t, g.Mutate(rng, nil))
		}
		require.Regexp(t, `^(foo|ba[rz])_[0-9a-f]+$`, g.RawString())
	}
	require.True(t, g.SetFromString("baz_ff"))
	require.Equal(t, "baz_ff", g.RawString())
	require.False(t, g.SetFromString("qux_1"))
}

func TestRegexRejectsUnsupportedPattern(t *testing.T) {
	_, err := NewRegex("bad", `(`)
	require.Error(t, err)
}

func TestStringExamplesOutsideDomainAreDropped(t *testing.T) {
	g := NewString("s", 2, 4, "abc").WithExamples("ab", "abca", "zz", "a", "abcd")
	require.Equal(t, []string{"ab", "abca"}, g.Examples())
}

func TestObjectRoundTripsThroughJSON(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	src := NewObject("item",
		NewString("name", 1, 5, ""),
		NewInteger("qty", 1, 99),
		NewOptional("discount", NewFloat("pct", 0, 1)),
		NewArray("tags", NewEnum("tag", "a", "b"), 0, 3),
	)
	for i := 0; i < 50; i++ {
		src.Randomize(rng, false)
		dst := src.Copy().(*Object)
		dst.Randomize(rng, true)
		require.True(t, dst.SetFromString(src.RawString()), src.RawString())
		require.Equal(t, src.RawString(), dst.RawString())
	}
}

func TestObjectRejectsMissingRequiredField(t *testing.T) {
	g := NewObject("o", NewInteger("a", 0, 5), NewOptional("b", NewBoolean("flag")))
	g.Randomize(rand.New(rand.NewSource(1)), false)
	before := g.RawString()

	require.False(t, g.SetFromString(`{"b":true}`))
	require.Equal(t, before, g.RawString())
	require.False(t, g.SetFromString(`{"a":3,"c":1}`))
	require.True(t, g.SetFromString(`{"a":3}`))
	require.Equal(t, `{"a":3}`, g.RawString())
}

func TestOptionalActivatedAfterAbsenceStaysInsideDomain(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	g := NewOptional("o", NewString("s", 3, 5, ""))
	require.True(t, g.SetFromString(""))
	for i := 0; i < 50; i++ {
		require.NoError(t, g.Mutate(rng, StaticControl(0.5)), "mutation %d", i)
		require.NoError(t, g.Validate(), "mutation %d: %q", i, g.RawString())
	}

	obj := NewObject("o", NewInteger("a", 0, 5), NewOptional("b", NewString("s", 3, 5, "")))
	require.True(t, obj.SetFromString(`{"a":3}`))
	for i := 0; i < 50; i++ {
		require.NoError(t, obj.Mutate(rng, StaticControl(0.5)), "mutation %d", i)
		require.NoError(t, obj.Validate(), "mutation %d: %s", i, obj.RawString())
	}
}

func TestArraySetFromStringHonoursBounds(t *testing.T) {
	g := NewArray("xs", NewInteger("x", 0, 9), 1, 2)
	require.False(t, g.SetFromString(`[]`))
	require.False(t, g.SetFromString(`[1,2,3]`))
	require.False(t, g.SetFromString(`[1,20]`))
	require.True(t, g.SetFromString(`[4,5]`))
	require.Equal(t, "[4,5]", g.RawString())
	require.Len(t, g.Children(), 2)
}

func TestMapKeepsInsertionOrder(t *testing.T) {
	g := NewMap("m", NewBoolean("v"), -1)
	first := NewBoolean("v")
	first.SetValue(true)
	second := NewBoolean("v")
	g.Put("z", first)
	g.Put("a", second)
	require.Equal(t, `{"z":true,"a":false}`, g.RawString())
	require.Equal(t, []string{"z", "a"}, g.Keys())
	require.Same(t, g, first.Parent())
}

func TestRandomizeDetachesReplacedChildren(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	arr := NewArray("xs", NewInteger("x", 0, 9), 2, 4)
	m := NewMap("m", NewBoolean("v"), 3)
	m.Put("k", NewBoolean("v"))
	arr.Randomize(rng, false)
	oldElements := arr.Elements()
	oldValue, _ := m.Get("k")

	arr.Randomize(rng, true)
	m.Randomize(rng, true)
	for _, e := range oldElements {
		require.Nil(t, e.Parent())
	}
	require.Nil(t, oldValue.Parent())
	for _, e := range arr.Elements() {
		require.Same(t, arr, e.Parent())
	}
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		require.Same(t, m, v.Parent())
	}
}

func TestFlattenIsDepthFirst(t *testing.T) {
	inner := NewInteger("qty", 0, 1)
	obj := NewObject("o", NewBoolean("a"), NewOptional("opt", inner))
	names := make([]string, 0)
	for _, g := range Flatten(obj) {
		names = append(names, g.Name())
	}
	require.Equal(t, []string{"o", "a", "opt", "qty"}, names)
}
