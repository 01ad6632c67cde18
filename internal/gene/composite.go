package gene

import (
	"fmt"
	"math/rand"

	"mioforge/internal/tree"
)

// maxRandomElements bounds freshly sampled arrays and maps above their minimum
// size.
const maxRandomElements = 3

// toggleProbability is the chance that mutating an active Optional removes it.
const toggleProbability = 0.2

// Optional wraps a gene that may be absent.
type Optional struct {
	base
	active bool
	inner  Gene
}

func NewOptional(name string, inner Gene) *Optional {
	g := &Optional{base: base{name: name}, inner: inner}
	inner.SetParent(g)
	return g
}

func (g *Optional) Kind() Kind            { return KindOptional }
func (g *Optional) Children() []tree.Node { return []tree.Node{g.inner} }
func (g *Optional) Mutable() bool         { return !g.frozen }
func (g *Optional) Active() bool          { return g.active }
func (g *Optional) Inner() Gene           { return g.inner }

func (g *Optional) SetActive(active bool) {
	g.active = active
	g.initialized = true
}

func (g *Optional) Size() int {
	if !g.active {
		return 0
	}
	return 1 + g.inner.Size()
}

func (g *Optional) RawString() string {
	if !g.active {
		return ""
	}
	return g.inner.RawString()
}

func (g *Optional) Randomize(rng *rand.Rand, forceNew bool) {
	if g.frozen {
		return
	}
	g.inner.Randomize(rng, false)
	if forceNew && g.initialized {
		g.active = !g.active
		return
	}
	g.active = rng.Intn(2) == 0
	g.initialized = true
}

func (g *Optional) Mutate(rng *rand.Rand, ctl Control) error {
	if err := g.checkMutate(); err != nil {
		return err
	}
	if !g.active || !g.inner.Mutable() || rng.Float64() < toggleProbability {
		g.active = !g.active
		// Absence set from a string or JSON leaves the inner gene unsampled.
		if g.active && !g.inner.Initialized() {
			g.inner.Randomize(rng, false)
		}
		return nil
	}
	return g.inner.Mutate(rng, ctl)
}

func (g *Optional) Copy() Gene {
	out := &Optional{base: g.clone(), active: g.active, inner: g.inner.Copy()}
	out.inner.SetParent(out)
	return out
}

// SetFromString treats the empty string as absence.
func (g *Optional) SetFromString(s string) bool {
	if g.frozen {
		return s == g.RawString()
	}
	if s == "" {
		g.active = false
		g.initialized = true
		return true
	}
	if !g.inner.SetFromString(s) {
		return false
	}
	g.active = true
	g.initialized = true
	return true
}

func (g *Optional) Validate() error {
	if !g.active {
		return nil
	}
	return g.inner.Validate()
}

// Array is a variable-length sequence of genes built from one template.
type Array struct {
	base
	template Gene
	minSize  int
	maxSize  int
	elements []Gene
}

func NewArray(name string, template Gene, minSize, maxSize int) *Array {
	return &Array{base: base{name: name}, template: template, minSize: minSize, maxSize: maxSize}
}

func (g *Array) Kind() Kind                 { return KindArray }
func (g *Array) Children() []tree.Node      { return genesToNodes(g.elements) }
func (g *Array) Mutable() bool              { return !g.frozen }
func (g *Array) Elements() []Gene           { return append([]Gene(nil), g.elements...) }
func (g *Array) Template() Gene             { return g.template }
func (g *Array) SizeBounds() (min, max int) { return g.minSize, g.maxSize }

func (g *Array) Size() int {
	total := 1
	for _, e := range g.elements {
		total += e.Size()
	}
	return total
}

func (g *Array) RawString() string { return renderJSON(g) }

func (g *Array) Randomize(rng *rand.Rand, forceNew bool) {
	if g.frozen {
		return
	}
	old := g.RawString()
	wasSet := g.initialized
	g.initialized = true
	upper := g.minSize + maxRandomElements
	if g.maxSize >= 0 && g.maxSize < upper {
		upper = g.maxSize
	}
	for attempt := 0; attempt < forceNewAttempts; attempt++ {
		n := g.minSize
		if upper > n {
			n += rng.Intn(upper - n + 1)
		}
		elements := make([]Gene, 0, n)
		for i := 0; i < n; i++ {
			elements = append(elements, g.newElement(rng))
		}
		g.setElements(elements)
		if !forceNew || !wasSet || g.RawString() != old {
			return
		}
	}
}

func (g *Array) newElement(rng *rand.Rand) Gene {
	e := g.template.Copy()
	e.SetParent(g)
	e.Randomize(rng, false)
	return e
}

// Mutate adds one element, removes one, or mutates one existing element.
func (g *Array) Mutate(rng *rand.Rand, ctl Control) error {
	if err := g.checkMutate(); err != nil {
		return err
	}
	type op int
	const (
		opAdd op = iota
		opRemove
		opChild
	)
	ops := make([]op, 0, 3)
	if g.maxSize < 0 || len(g.elements) < g.maxSize {
		ops = append(ops, opAdd)
	}
	if len(g.elements) > g.minSize {
		ops = append(ops, opRemove)
	}
	mutableChildren := mutableGenes(g.elements)
	if len(mutableChildren) > 0 {
		ops = append(ops, opChild)
	}
	if len(ops) == 0 {
		return nil
	}
	switch ops[rng.Intn(len(ops))] {
	case opAdd:
		pos := rng.Intn(len(g.elements) + 1)
		g.elements = append(g.elements, nil)
		copy(g.elements[pos+1:], g.elements[pos:])
		g.elements[pos] = g.newElement(rng)
	case opRemove:
		pos := rng.Intn(len(g.elements))
		g.elements[pos].SetParent(nil)
		g.elements = append(g.elements[:pos], g.elements[pos+1:]...)
	case opChild:
		return mutableChildren[rng.Intn(len(mutableChildren))].Mutate(rng, ctl)
	}
	return nil
}

func (g *Array) Copy() Gene {
	out := &Array{base: g.clone(), template: g.template, minSize: g.minSize, maxSize: g.maxSize}
	out.elements = copyGenes(g.elements, out)
	return out
}

func (g *Array) SetFromString(s string) bool {
	if g.frozen {
		return s == g.RawString()
	}
	return setFromJSON(g, s)
}

func (g *Array) setElements(elements []Gene) {
	for _, e := range g.elements {
		e.SetParent(nil)
	}
	g.elements = elements
	for _, e := range elements {
		e.SetParent(g)
	}
	g.initialized = true
}

func (g *Array) Validate() error {
	if g.minSize < 0 || (g.maxSize >= 0 && g.minSize > g.maxSize) {
		return fmt.Errorf("%w: %s size [%d,%d]", ErrInvalidDomain, g.name, g.minSize, g.maxSize)
	}
	if len(g.elements) < g.minSize || (g.maxSize >= 0 && len(g.elements) > g.maxSize) {
		return fmt.Errorf("%w: %s has %d elements, want [%d,%d]", ErrOutOfDomain, g.name, len(g.elements), g.minSize, g.maxSize)
	}
	for _, e := range g.elements {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Object is a fixed, ordered set of named heterogeneous fields.
type Object struct {
	base
	fields []Gene
}

func NewObject(name string, fields ...Gene) *Object {
	g := &Object{base: base{name: name}, fields: fields}
	for _, f := range fields {
		f.SetParent(g)
	}
	return g
}

func (g *Object) Kind() Kind            { return KindObject }
func (g *Object) Children() []tree.Node { return genesToNodes(g.fields) }
func (g *Object) Fields() []Gene        { return append([]Gene(nil), g.fields...) }
func (g *Object) RawString() string     { return renderJSON(g) }

func (g *Object) Mutable() bool {
	return !g.frozen && len(mutableGenes(g.fields)) > 0
}

// Field returns the field called name.
func (g *Object) Field(name string) (Gene, bool) {
	for _, f := range g.fields {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

func (g *Object) Size() int {
	total := 1
	for _, f := range g.fields {
		total += f.Size()
	}
	return total
}

func (g *Object) Randomize(rng *rand.Rand, forceNew bool) {
	if g.frozen {
		return
	}
	wasSet := g.initialized
	g.initialized = true
	if forceNew && wasSet {
		for _, f := range g.fields {
			f.Randomize(rng, false)
		}
		if candidates := mutableGenes(g.fields); len(candidates) > 0 {
			candidates[rng.Intn(len(candidates))].Randomize(rng, true)
		}
		return
	}
	for _, f := range g.fields {
		f.Randomize(rng, false)
	}
}

// Mutate delegates to exactly one randomly chosen mutable field.
func (g *Object) Mutate(rng *rand.Rand, ctl Control) error {
	if err := g.checkMutate(); err != nil {
		return err
	}
	candidates := mutableGenes(g.fields)
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rng.Intn(len(candidates))].Mutate(rng, ctl)
}

func (g *Object) Copy() Gene {
	out := &Object{base: g.clone()}
	out.fields = copyGenes(g.fields, out)
	return out
}

func (g *Object) SetFromString(s string) bool {
	if g.frozen {
		return s == g.RawString()
	}
	return setFromJSON(g, s)
}

func (g *Object) Validate() error {
	seen := make(map[string]struct{}, len(g.fields))
	for _, f := range g.fields {
		if _, dup := seen[f.Name()]; dup {
			return fmt.Errorf("%w: %s has duplicate field %s", ErrInvalidDomain, g.name, f.Name())
		}
		seen[f.Name()] = struct{}{}
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func mutableGenes(genes []Gene) []Gene {
	out := make([]Gene, 0, len(genes))
	for _, g := range genes {
		if g.Mutable() {
			out = append(out, g)
		}
	}
	return out
}
