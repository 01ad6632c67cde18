// Package gene implements the typed, mutable value nodes that make up the
// inputs of an individual. The variant set is closed: every Gene is one of
// Boolean, Integer, Float, Enum, String, Regex, Optional, Array, Object or
// Map, and callers switch over those types exhaustively.
package gene

import (
	"errors"
	"fmt"
	"math/rand"

	"mioforge/internal/tree"
)

type Kind string

const (
	KindBoolean  Kind = "boolean"
	KindInteger  Kind = "integer"
	KindFloat    Kind = "float"
	KindEnum     Kind = "enum"
	KindString   Kind = "string"
	KindRegex    Kind = "regex"
	KindOptional Kind = "optional"
	KindArray    Kind = "array"
	KindObject   Kind = "object"
	KindMap      Kind = "map"
)

var (
	ErrNotInitialized = errors.New("gene mutated before randomization")
	ErrFrozen         = errors.New("gene is frozen")
	ErrOutOfDomain    = errors.New("gene value outside its domain")
	ErrInvalidDomain  = errors.New("invalid gene domain")
)

// forceNewAttempts bounds rejection sampling in Randomize(forceNew=true)
// before a variant falls back to a deterministic neighbour.
const forceNewAttempts = 16

// Gene is a typed value node. Composite genes own their children exclusively.
type Gene interface {
	tree.Node
	Name() string
	Kind() Kind
	// Mutable reports whether the gene (or, for composites, any descendant)
	// may change value.
	Mutable() bool
	Initialized() bool
	// Randomize assigns a value inside the domain. With forceNew the value
	// differs from the current one whenever the domain allows it.
	Randomize(rng *rand.Rand, forceNew bool)
	// Mutate perturbs the current value with the variant's strategy.
	Mutate(rng *rand.Rand, ctl Control) error
	Copy() Gene
	RawString() string
	// SetFromString parses s into the gene and reports success. On failure
	// the gene is left unchanged.
	SetFromString(s string) bool
	Validate() error
	// Size is a structural complexity measure used to prefer smaller tests.
	Size() int

	core() *base
}

// Control exposes search progress to mutation strategies.
type Control interface {
	// Progress is the consumed fraction of the search budget in [0,1].
	Progress() float64
}

// StaticControl is a fixed progress value.
type StaticControl float64

func (c StaticControl) Progress() float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return float64(c)
	}
}

type base struct {
	tree.Base
	name        string
	frozen      bool
	initialized bool
}

func (b *base) Name() string { return b.name }

func (b *base) Initialized() bool { return b.initialized }

func (b *base) core() *base { return b }

func (b *base) clone() base {
	return base{name: b.name, frozen: b.frozen, initialized: b.initialized}
}

func (b *base) checkMutate() error {
	if b.frozen {
		return fmt.Errorf("%w: %s", ErrFrozen, b.name)
	}
	if !b.initialized {
		return fmt.Errorf("%w: %s", ErrNotInitialized, b.name)
	}
	return nil
}

// Freeze turns g into a fixed constant: Randomize leaves it untouched and
// Mutate fails. A frozen gene counts as initialized.
func Freeze(g Gene) Gene {
	b := g.core()
	b.frozen = true
	b.initialized = true
	return g
}

// Frozen reports whether g itself was frozen.
func Frozen(g Gene) bool {
	return g.core().frozen
}

// Equal compares genes by value, ignoring identity.
func Equal(a, b Gene) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Kind() == b.Kind() && a.Name() == b.Name() && a.RawString() == b.RawString()
}

// Flatten returns g and all its descendants in depth-first order.
func Flatten(g Gene) []Gene {
	var out []Gene
	_ = tree.Walk(g, func(n tree.Node, _ []int) error {
		if child, ok := n.(Gene); ok {
			out = append(out, child)
		}
		return nil
	})
	return out
}

func genesToNodes(genes []Gene) []tree.Node {
	out := make([]tree.Node, len(genes))
	for i, g := range genes {
		out[i] = g
	}
	return out
}

func copyGenes(genes []Gene, parent tree.Node) []Gene {
	if genes == nil {
		return nil
	}
	out := make([]Gene, len(genes))
	for i, g := range genes {
		out[i] = g.Copy()
		out[i].SetParent(parent)
	}
	return out
}
