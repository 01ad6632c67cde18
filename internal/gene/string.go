package gene

import (
	"fmt"
	"math/rand"
	"unicode/utf8"

	"mioforge/internal/tree"
)

// DefaultCharset is the pool used when a String gene declares none.
const DefaultCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"

const (
	// maxRandomLength bounds freshly sampled strings above their minimum
	// length so unbounded domains stay small.
	maxRandomLength = 16
	// exampleProbability is the chance that Randomize draws a declared
	// example value instead of a random string.
	exampleProbability = 0.3
)

// String is a text value with inclusive length bounds over a character pool.
type String struct {
	base
	minLength int
	maxLength int
	charset   []rune
	allowed   map[rune]struct{}
	examples  []string
	value     []rune
}

// NewString builds a String gene. An empty charset selects DefaultCharset;
// maxLength < 0 means unbounded.
func NewString(name string, minLength, maxLength int, charset string) *String {
	if charset == "" {
		charset = DefaultCharset
	}
	pool := dedupeRunes([]rune(charset))
	allowed := make(map[rune]struct{}, len(pool))
	for _, r := range pool {
		allowed[r] = struct{}{}
	}
	return &String{
		base:      base{name: name},
		minLength: minLength,
		maxLength: maxLength,
		charset:   pool,
		allowed:   allowed,
	}
}

// WithExamples registers specialisation values drawn by Randomize. Values
// outside the domain are ignored.
func (g *String) WithExamples(examples ...string) *String {
	for _, ex := range examples {
		if g.accepts([]rune(ex)) {
			g.examples = append(g.examples, ex)
		}
	}
	return g
}

func (g *String) Kind() Kind            { return KindString }
func (g *String) Children() []tree.Node { return nil }
func (g *String) Mutable() bool         { return !g.frozen && (g.maxLength != 0 || g.minLength > 0) }
func (g *String) Value() string         { return string(g.value) }
func (g *String) RawString() string     { return string(g.value) }
func (g *String) Size() int             { return 1 + len(g.value) }
func (g *String) Examples() []string    { return append([]string(nil), g.examples...) }

func (g *String) LengthBounds() (min, max int) { return g.minLength, g.maxLength }

func (g *String) Randomize(rng *rand.Rand, forceNew bool) {
	if g.frozen {
		return
	}
	old := string(g.value)
	wasSet := g.initialized
	g.initialized = true
	for attempt := 0; attempt < forceNewAttempts; attempt++ {
		if len(g.examples) > 0 && rng.Float64() < exampleProbability {
			g.value = []rune(g.examples[rng.Intn(len(g.examples))])
		} else {
			g.value = g.randomRunes(rng)
		}
		if !forceNew || !wasSet || string(g.value) != old {
			return
		}
	}
	_ = g.Mutate(rng, nil)
}

func (g *String) randomRunes(rng *rand.Rand) []rune {
	upper := g.minLength + maxRandomLength
	if g.maxLength >= 0 && g.maxLength < upper {
		upper = g.maxLength
	}
	n := g.minLength
	if upper > n {
		n += rng.Intn(upper - n + 1)
	}
	out := make([]rune, n)
	for i := range out {
		out[i] = g.charset[rng.Intn(len(g.charset))]
	}
	return out
}

// Mutate inserts, deletes or replaces one character. Only operations that
// keep the length inside its bounds are eligible.
func (g *String) Mutate(rng *rand.Rand, _ Control) error {
	if err := g.checkMutate(); err != nil {
		return err
	}
	type op int
	const (
		opInsert op = iota
		opDelete
		opReplace
	)
	ops := make([]op, 0, 3)
	if g.maxLength < 0 || len(g.value) < g.maxLength {
		ops = append(ops, opInsert)
	}
	if len(g.value) > g.minLength {
		ops = append(ops, opDelete)
	}
	if len(g.value) > 0 && len(g.charset) > 1 {
		ops = append(ops, opReplace)
	}
	if len(ops) == 0 {
		return nil
	}
	switch ops[rng.Intn(len(ops))] {
	case opInsert:
		pos := rng.Intn(len(g.value) + 1)
		r := g.charset[rng.Intn(len(g.charset))]
		next := make([]rune, 0, len(g.value)+1)
		next = append(next, g.value[:pos]...)
		next = append(next, r)
		g.value = append(next, g.value[pos:]...)
	case opDelete:
		pos := rng.Intn(len(g.value))
		next := make([]rune, 0, len(g.value)-1)
		next = append(next, g.value[:pos]...)
		g.value = append(next, g.value[pos+1:]...)
	case opReplace:
		pos := rng.Intn(len(g.value))
		next := append([]rune(nil), g.value...)
		current := next[pos]
		r := g.charset[rng.Intn(len(g.charset))]
		for r == current {
			r = g.charset[rng.Intn(len(g.charset))]
		}
		next[pos] = r
		g.value = next
	}
	return nil
}

func (g *String) Copy() Gene {
	return &String{
		base:      g.clone(),
		minLength: g.minLength,
		maxLength: g.maxLength,
		charset:   g.charset,
		allowed:   g.allowed,
		examples:  g.examples,
		value:     append([]rune(nil), g.value...),
	}
}

func (g *String) SetFromString(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	if g.frozen {
		return s == string(g.value)
	}
	runes := []rune(s)
	if !g.accepts(runes) {
		return false
	}
	g.value = runes
	g.initialized = true
	return true
}

func (g *String) accepts(runes []rune) bool {
	if len(runes) < g.minLength || (g.maxLength >= 0 && len(runes) > g.maxLength) {
		return false
	}
	for _, r := range runes {
		if _, ok := g.allowed[r]; !ok {
			return false
		}
	}
	return true
}

func (g *String) Validate() error {
	if g.minLength < 0 || (g.maxLength >= 0 && g.minLength > g.maxLength) || len(g.charset) == 0 {
		return fmt.Errorf("%w: %s length [%d,%d]", ErrInvalidDomain, g.name, g.minLength, g.maxLength)
	}
	if g.frozen {
		return nil
	}
	if !g.accepts(g.value) {
		return fmt.Errorf("%w: %s=%q", ErrOutOfDomain, g.name, string(g.value))
	}
	return nil
}

func dedupeRunes(in []rune) []rune {
	seen := make(map[rune]struct{}, len(in))
	out := make([]rune, 0, len(in))
	for _, r := range in {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
