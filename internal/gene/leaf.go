package gene

import (
	"fmt"
	"math/rand"
	"strconv"

	"mioforge/internal/tree"
)

type Boolean struct {
	base
	value bool
}

func NewBoolean(name string) *Boolean {
	return &Boolean{base: base{name: name}}
}

func (g *Boolean) Kind() Kind            { return KindBoolean }
func (g *Boolean) Children() []tree.Node { return nil }
func (g *Boolean) Mutable() bool         { return !g.frozen }
func (g *Boolean) Value() bool           { return g.value }
func (g *Boolean) RawString() string     { return strconv.FormatBool(g.value) }
func (g *Boolean) Size() int             { return 1 }
func (g *Boolean) Validate() error       { return nil }

func (g *Boolean) SetValue(v bool) {
	g.value = v
	g.initialized = true
}

func (g *Boolean) Randomize(rng *rand.Rand, forceNew bool) {
	if g.frozen {
		return
	}
	if forceNew && g.initialized {
		g.value = !g.value
		return
	}
	g.value = rng.Intn(2) == 0
	g.initialized = true
}

func (g *Boolean) Mutate(_ *rand.Rand, _ Control) error {
	if err := g.checkMutate(); err != nil {
		return err
	}
	g.value = !g.value
	return nil
}

func (g *Boolean) Copy() Gene {
	return &Boolean{base: g.clone(), value: g.value}
}

func (g *Boolean) SetFromString(s string) bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	if g.frozen {
		return v == g.value
	}
	g.SetValue(v)
	return true
}

// Enum holds an index into a fixed, non-empty value set.
type Enum struct {
	base
	values []string
	index  int
}

func NewEnum(name string, values ...string) *Enum {
	return &Enum{base: base{name: name}, values: append([]string(nil), values...)}
}

func (g *Enum) Kind() Kind            { return KindEnum }
func (g *Enum) Children() []tree.Node { return nil }
func (g *Enum) Mutable() bool         { return !g.frozen && len(g.values) > 1 }
func (g *Enum) Index() int            { return g.index }
func (g *Enum) Values() []string      { return append([]string(nil), g.values...) }
func (g *Enum) Size() int             { return 1 }

func (g *Enum) RawString() string {
	if g.index < 0 || g.index >= len(g.values) {
		return ""
	}
	return g.values[g.index]
}

func (g *Enum) Randomize(rng *rand.Rand, forceNew bool) {
	if g.frozen || len(g.values) == 0 {
		return
	}
	if forceNew && g.initialized && len(g.values) > 1 {
		g.index = g.otherIndex(rng)
		return
	}
	g.index = rng.Intn(len(g.values))
	g.initialized = true
}

func (g *Enum) Mutate(rng *rand.Rand, _ Control) error {
	if err := g.checkMutate(); err != nil {
		return err
	}
	if len(g.values) < 2 {
		return nil
	}
	g.index = g.otherIndex(rng)
	return nil
}

func (g *Enum) otherIndex(rng *rand.Rand) int {
	return (g.index + 1 + rng.Intn(len(g.values)-1)) % len(g.values)
}

func (g *Enum) Copy() Gene {
	return &Enum{base: g.clone(), values: g.values, index: g.index}
}

func (g *Enum) SetFromString(s string) bool {
	for i, v := range g.values {
		if v != s {
			continue
		}
		if g.frozen {
			return i == g.index
		}
		g.index = i
		g.initialized = true
		return true
	}
	return false
}

func (g *Enum) Validate() error {
	if len(g.values) == 0 {
		return fmt.Errorf("%w: %s has no values", ErrInvalidDomain, g.name)
	}
	if g.index < 0 || g.index >= len(g.values) {
		return fmt.Errorf("%w: %s index %d of %d", ErrOutOfDomain, g.name, g.index, len(g.values))
	}
	return nil
}
