package gene

import (
	"fmt"
	"math/rand"
	"regexp"
	"regexp/syntax"
	"strings"

	"mioforge/internal/tree"
)

// maxUnboundedRepeat caps '*', '+' and '{n,}' repetitions.
const maxUnboundedRepeat = 4

// Regex generates strings matching a pattern. The pattern is compiled into a
// tree of character classes, alternations and repetitions, each holding its
// current choice, so mutation can change one choice at a time.
type Regex struct {
	base
	pattern  string
	matcher  *regexp.Regexp
	root     regexNode
	override *string
}

func NewRegex(name, pattern string) (*Regex, error) {
	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, fmt.Errorf("parse pattern %q: %w", pattern, err)
	}
	matcher, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	root, err := buildRegexNode(parsed)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	return &Regex{base: base{name: name}, pattern: pattern, matcher: matcher, root: root}, nil
}

func (g *Regex) Kind() Kind            { return KindRegex }
func (g *Regex) Children() []tree.Node { return nil }
func (g *Regex) Mutable() bool         { return !g.frozen && g.root.variable() }
func (g *Regex) Pattern() string       { return g.pattern }
func (g *Regex) Size() int             { return 1 + len(g.RawString()) }

func (g *Regex) RawString() string {
	if g.override != nil {
		return *g.override
	}
	var sb strings.Builder
	g.root.render(&sb)
	return sb.String()
}

func (g *Regex) Randomize(rng *rand.Rand, forceNew bool) {
	if g.frozen {
		return
	}
	old := g.RawString()
	wasSet := g.initialized
	g.initialized = true
	g.override = nil
	for attempt := 0; attempt < forceNewAttempts; attempt++ {
		g.root.randomize(rng)
		if !forceNew || !wasSet || !g.root.variable() || g.RawString() != old {
			return
		}
	}
}

// Mutate re-draws exactly one variable node of the pattern tree.
func (g *Regex) Mutate(rng *rand.Rand, _ Control) error {
	if err := g.checkMutate(); err != nil {
		return err
	}
	if g.override != nil {
		g.override = nil
	}
	var candidates []regexNode
	collectVariable(g.root, &candidates)
	if len(candidates) == 0 {
		return nil
	}
	candidates[rng.Intn(len(candidates))].mutate(rng)
	return nil
}

func (g *Regex) Copy() Gene {
	out := &Regex{base: g.clone(), pattern: g.pattern, matcher: g.matcher, root: g.root.clone()}
	if g.override != nil {
		v := *g.override
		out.override = &v
	}
	return out
}

// SetFromString accepts any string matching the pattern. The value is kept
// verbatim until the next randomization or mutation.
func (g *Regex) SetFromString(s string) bool {
	if !g.matcher.MatchString(s) {
		return false
	}
	if g.frozen {
		return s == g.RawString()
	}
	g.override = &s
	g.initialized = true
	return true
}

func (g *Regex) Validate() error {
	if v := g.RawString(); !g.matcher.MatchString(v) {
		return fmt.Errorf("%w: %s=%q does not match %q", ErrOutOfDomain, g.name, v, g.pattern)
	}
	return nil
}

type regexNode interface {
	randomize(rng *rand.Rand)
	mutate(rng *rand.Rand)
	render(sb *strings.Builder)
	variable() bool
	clone() regexNode
	children() []regexNode
}

func collectVariable(n regexNode, out *[]regexNode) {
	switch n.(type) {
	case *classNode, *alternateNode, *repeatNode:
		if n.variable() {
			*out = append(*out, n)
		}
	}
	for _, child := range n.children() {
		collectVariable(child, out)
	}
}

func buildRegexNode(re *syntax.Regexp) (regexNode, error) {
	switch re.Op {
	case syntax.OpEmptyMatch, syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return &literalNode{}, nil
	case syntax.OpLiteral:
		return &literalNode{runes: append([]rune(nil), re.Rune...)}, nil
	case syntax.OpCharClass:
		return newClassNode(re.Rune), nil
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return newClassNode([]rune{0x20, 0x7e}), nil
	case syntax.OpCapture:
		return buildRegexNode(re.Sub[0])
	case syntax.OpStar:
		return newRepeatNode(re.Sub[0], 0, -1)
	case syntax.OpPlus:
		return newRepeatNode(re.Sub[0], 1, -1)
	case syntax.OpQuest:
		return newRepeatNode(re.Sub[0], 0, 1)
	case syntax.OpRepeat:
		return newRepeatNode(re.Sub[0], re.Min, re.Max)
	case syntax.OpConcat:
		items := make([]regexNode, 0, len(re.Sub))
		for _, sub := range re.Sub {
			item, err := buildRegexNode(sub)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return &concatNode{items: items}, nil
	case syntax.OpAlternate:
		options := make([]regexNode, 0, len(re.Sub))
		for _, sub := range re.Sub {
			option, err := buildRegexNode(sub)
			if err != nil {
				return nil, err
			}
			options = append(options, option)
		}
		return &alternateNode{options: options}, nil
	default:
		return nil, fmt.Errorf("unsupported regex operator %v", re.Op)
	}
}

type literalNode struct {
	runes []rune
}

func (n *literalNode) randomize(*rand.Rand)       {}
func (n *literalNode) mutate(*rand.Rand)          {}
func (n *literalNode) render(sb *strings.Builder) { sb.WriteString(string(n.runes)) }
func (n *literalNode) variable() bool             { return false }
func (n *literalNode) clone() regexNode           { return n }
func (n *literalNode) children() []regexNode      { return nil }

// classNode picks one rune from a set of inclusive ranges. Ranges are
// narrowed to printable ASCII when they overlap it.
type classNode struct {
	ranges []rune
	total  int
	choice rune
}

func newClassNode(ranges []rune) *classNode {
	printable := intersectRanges(ranges, 0x20, 0x7e)
	if len(printable) > 0 {
		ranges = printable
	}
	n := &classNode{ranges: ranges}
	for i := 0; i+1 < len(ranges); i += 2 {
		n.total += int(ranges[i+1]-ranges[i]) + 1
	}
	if len(ranges) >= 2 {
		n.choice = ranges[0]
	}
	return n
}

func intersectRanges(ranges []rune, lo, hi rune) []rune {
	var out []rune
	for i := 0; i+1 < len(ranges); i += 2 {
		a, b := ranges[i], ranges[i+1]
		if b < lo || a > hi {
			continue
		}
		out = append(out, max(a, lo), min(b, hi))
	}
	return out
}

func (n *classNode) pick(rng *rand.Rand) rune {
	if n.total == 0 {
		return n.choice
	}
	k := rng.Intn(n.total)
	for i := 0; i+1 < len(n.ranges); i += 2 {
		width := int(n.ranges[i+1]-n.ranges[i]) + 1
		if k < width {
			return n.ranges[i] + rune(k)
		}
		k -= width
	}
	return n.ranges[0]
}

func (n *classNode) randomize(rng *rand.Rand) { n.choice = n.pick(rng) }

func (n *classNode) mutate(rng *rand.Rand) {
	if n.total < 2 {
		return
	}
	current := n.choice
	for n.choice == current {
		n.choice = n.pick(rng)
	}
}

func (n *classNode) render(sb *strings.Builder) { sb.WriteRune(n.choice) }
func (n *classNode) variable() bool             { return n.total > 1 }
func (n *classNode) children() []regexNode      { return nil }

func (n *classNode) clone() regexNode {
	out := *n
	return &out
}

type concatNode struct {
	items []regexNode
}

func (n *concatNode) randomize(rng *rand.Rand) {
	for _, item := range n.items {
		item.randomize(rng)
	}
}

func (n *concatNode) mutate(rng *rand.Rand) {
	if len(n.items) > 0 {
		n.items[rng.Intn(len(n.items))].mutate(rng)
	}
}

func (n *concatNode) render(sb *strings.Builder) {
	for _, item := range n.items {
		item.render(sb)
	}
}

func (n *concatNode) variable() bool {
	for _, item := range n.items {
		if item.variable() {
			return true
		}
	}
	return false
}

func (n *concatNode) clone() regexNode {
	out := &concatNode{items: make([]regexNode, len(n.items))}
	for i, item := range n.items {
		out.items[i] = item.clone()
	}
	return out
}

func (n *concatNode) children() []regexNode { return n.items }

type alternateNode struct {
	options []regexNode
	chosen  int
}

func (n *alternateNode) randomize(rng *rand.Rand) {
	n.chosen = rng.Intn(len(n.options))
	n.options[n.chosen].randomize(rng)
}

func (n *alternateNode) mutate(rng *rand.Rand) {
	if len(n.options) < 2 {
		n.options[n.chosen].mutate(rng)
		return
	}
	n.chosen = (n.chosen + 1 + rng.Intn(len(n.options)-1)) % len(n.options)
	n.options[n.chosen].randomize(rng)
}

func (n *alternateNode) render(sb *strings.Builder) { n.options[n.chosen].render(sb) }

func (n *alternateNode) variable() bool {
	return len(n.options) > 1 || n.options[0].variable()
}

func (n *alternateNode) clone() regexNode {
	out := &alternateNode{options: make([]regexNode, len(n.options)), chosen: n.chosen}
	for i, option := range n.options {
		out.options[i] = option.clone()
	}
	return out
}

// children exposes only the active branch; inactive branches do not
// contribute to the rendered value.
func (n *alternateNode) children() []regexNode { return []regexNode{n.options[n.chosen]} }

type repeatNode struct {
	min      int
	max      int
	template regexNode
	items    []regexNode
}

func newRepeatNode(sub *syntax.Regexp, min, max int) (*repeatNode, error) {
	template, err := buildRegexNode(sub)
	if err != nil {
		return nil, err
	}
	if max < 0 {
		max = min + maxUnboundedRepeat
	}
	n := &repeatNode{min: min, max: max, template: template}
	for i := 0; i < min; i++ {
		n.items = append(n.items, template.clone())
	}
	return n, nil
}

func (n *repeatNode) randomize(rng *rand.Rand) {
	count := n.min + rng.Intn(n.max-n.min+1)
	n.items = n.items[:0]
	for i := 0; i < count; i++ {
		item := n.template.clone()
		item.randomize(rng)
		n.items = append(n.items, item)
	}
}

func (n *repeatNode) mutate(rng *rand.Rand) {
	canGrow := len(n.items) < n.max
	canShrink := len(n.items) > n.min
	switch {
	case canGrow && (!canShrink || rng.Intn(2) == 0):
		item := n.template.clone()
		item.randomize(rng)
		pos := rng.Intn(len(n.items) + 1)
		n.items = append(n.items, nil)
		copy(n.items[pos+1:], n.items[pos:])
		n.items[pos] = item
	case canShrink:
		pos := rng.Intn(len(n.items))
		n.items = append(n.items[:pos], n.items[pos+1:]...)
	default:
		if len(n.items) > 0 {
			n.items[rng.Intn(len(n.items))].mutate(rng)
		}
	}
}

func (n *repeatNode) render(sb *strings.Builder) {
	for _, item := range n.items {
		item.render(sb)
	}
}

func (n *repeatNode) variable() bool {
	return n.max > n.min || n.template.variable()
}

func (n *repeatNode) clone() regexNode {
	out := &repeatNode{min: n.min, max: n.max, template: n.template, items: make([]regexNode, len(n.items))}
	for i, item := range n.items {
		out.items[i] = item.clone()
	}
	return out
}

func (n *repeatNode) children() []regexNode { return n.items }
