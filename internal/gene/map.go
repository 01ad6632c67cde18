package gene

import (
	"fmt"
	"math/rand"

	"mioforge/internal/tree"
)

// Map is a dynamic key to gene mapping for payloads whose shape is not known
// up front. Entries keep insertion order.
type Map struct {
	base
	template Gene
	maxSize  int
	keys     []string
	values   []Gene
	nextKey  int
}

func NewMap(name string, template Gene, maxSize int) *Map {
	return &Map{base: base{name: name}, template: template, maxSize: maxSize}
}

func (g *Map) Kind() Kind            { return KindMap }
func (g *Map) Children() []tree.Node { return genesToNodes(g.values) }
func (g *Map) Mutable() bool         { return !g.frozen }
func (g *Map) Keys() []string        { return append([]string(nil), g.keys...) }
func (g *Map) Len() int              { return len(g.keys) }
func (g *Map) RawString() string     { return renderJSON(g) }

// Get returns the value stored under key.
func (g *Map) Get(key string) (Gene, bool) {
	for i, k := range g.keys {
		if k == key {
			return g.values[i], true
		}
	}
	return nil, false
}

// Put stores value under key, replacing an existing entry.
func (g *Map) Put(key string, value Gene) {
	value.SetParent(g)
	g.initialized = true
	for i, k := range g.keys {
		if k == key {
			g.values[i].SetParent(nil)
			g.values[i] = value
			return
		}
	}
	g.keys = append(g.keys, key)
	g.values = append(g.values, value)
}

func (g *Map) Size() int {
	total := 1
	for _, v := range g.values {
		total += v.Size()
	}
	return total
}

func (g *Map) Randomize(rng *rand.Rand, forceNew bool) {
	if g.frozen {
		return
	}
	old := g.RawString()
	wasSet := g.initialized
	g.initialized = true
	upper := maxRandomElements
	if g.maxSize >= 0 && g.maxSize < upper {
		upper = g.maxSize
	}
	for attempt := 0; attempt < forceNewAttempts; attempt++ {
		g.replaceEntries(nil, nil)
		n := rng.Intn(upper + 1)
		for i := 0; i < n; i++ {
			g.addEntry(rng)
		}
		if !forceNew || !wasSet || g.RawString() != old {
			return
		}
	}
}

func (g *Map) addEntry(rng *rand.Rand) {
	key := fmt.Sprintf("%s_%d", g.name, g.nextKey)
	g.nextKey++
	value := g.template.Copy()
	value.Randomize(rng, false)
	g.Put(key, value)
}

func (g *Map) Mutate(rng *rand.Rand, ctl Control) error {
	if err := g.checkMutate(); err != nil {
		return err
	}
	canAdd := g.maxSize < 0 || len(g.keys) < g.maxSize
	canRemove := len(g.keys) > 0
	mutableValues := mutableGenes(g.values)
	switch choice := rng.Intn(3); {
	case choice == 0 && canAdd, !canRemove && len(mutableValues) == 0 && canAdd:
		g.addEntry(rng)
	case choice == 1 && canRemove, len(mutableValues) == 0 && canRemove:
		pos := rng.Intn(len(g.keys))
		g.values[pos].SetParent(nil)
		g.keys = append(g.keys[:pos], g.keys[pos+1:]...)
		g.values = append(g.values[:pos], g.values[pos+1:]...)
	case len(mutableValues) > 0:
		return mutableValues[rng.Intn(len(mutableValues))].Mutate(rng, ctl)
	}
	return nil
}

func (g *Map) Copy() Gene {
	out := &Map{
		base:     g.clone(),
		template: g.template,
		maxSize:  g.maxSize,
		keys:     append([]string(nil), g.keys...),
		nextKey:  g.nextKey,
	}
	out.values = copyGenes(g.values, out)
	return out
}

func (g *Map) SetFromString(s string) bool {
	if g.frozen {
		return s == g.RawString()
	}
	return setFromJSON(g, s)
}

func (g *Map) replaceEntries(keys []string, values []Gene) {
	for _, v := range g.values {
		v.SetParent(nil)
	}
	g.keys, g.values = keys, values
	for _, v := range values {
		v.SetParent(g)
	}
	g.initialized = true
}

func (g *Map) Validate() error {
	if g.maxSize >= 0 && len(g.keys) > g.maxSize {
		return fmt.Errorf("%w: %s has %d entries, max %d", ErrOutOfDomain, g.name, len(g.keys), g.maxSize)
	}
	seen := make(map[string]struct{}, len(g.keys))
	for i, k := range g.keys {
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: %s has duplicate key %q", ErrOutOfDomain, g.name, k)
		}
		seen[k] = struct{}{}
		if err := g.values[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
