package model

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"mioforge/internal/gene"
	"mioforge/internal/tree"
)

var (
	ErrNoMainAction       = errors.New("individual has no main action")
	ErrGroupOrder         = errors.New("action placed in the wrong group")
	ErrBindingOutsideTree = errors.New("binding endpoint outside the individual")
	ErrBindingOrder       = errors.New("binding source does not precede its dependent")
	ErrActionIndex        = errors.New("action index out of range")
)

type Group string

const (
	GroupSetup Group = "setup"
	GroupMain  Group = "main"
)

// Binding relates two genes of the same individual by their index paths from
// the individual root. From is the dependent gene and To its source. Paths
// survive copying, so a copied binding always resolves inside the copy.
type Binding struct {
	From []int `json:"from"`
	To   []int `json:"to"`
}

func (b Binding) clone() Binding {
	return Binding{From: tree.ClonePath(b.From), To: tree.ClonePath(b.To)}
}

// IDSource issues individual ids from a seeded stream so that runs with the
// same seed name their individuals identically. It is not safe for
// concurrent use.
type IDSource struct {
	r *rand.Rand
}

func NewIDSource(seed int64) *IDSource {
	return &IDSource{r: rand.New(rand.NewSource(seed))}
}

// next falls back to random ids when s is nil.
func (s *IDSource) next() string {
	if s == nil {
		return uuid.NewString()
	}
	id, err := uuid.NewRandomFromReader(s.r)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Individual is one candidate test: setup actions followed by main actions.
// It is the root of its structural tree.
type Individual struct {
	id        string
	parentID  string
	operation string
	ids       *IDSource

	setup    []*Action
	main     []*Action
	bindings []Binding

	incomplete bool
	reason     string
}

// NewIndividual takes ownership of the given actions.
func NewIndividual(setup, main []*Action) (*Individual, error) {
	if len(main) == 0 {
		return nil, ErrNoMainAction
	}
	for _, a := range setup {
		if !a.setup {
			return nil, fmt.Errorf("%w: %s is not a setup action", ErrGroupOrder, a.ID())
		}
	}
	for _, a := range main {
		if a.setup {
			return nil, fmt.Errorf("%w: setup action %s in main group", ErrGroupOrder, a.ID())
		}
	}
	ind := &Individual{
		id:    uuid.NewString(),
		setup: append([]*Action(nil), setup...),
		main:  append([]*Action(nil), main...),
	}
	for _, a := range ind.actions() {
		a.SetParent(ind)
	}
	return ind, nil
}

// AssignIDs renames ind from src. Copies of ind draw their ids from src too.
func (ind *Individual) AssignIDs(src *IDSource) {
	if src == nil {
		return
	}
	ind.ids = src
	ind.id = src.next()
}

func (ind *Individual) Parent() tree.Node   { return nil }
func (ind *Individual) SetParent(tree.Node) {}

func (ind *Individual) Children() []tree.Node {
	all := ind.actions()
	out := make([]tree.Node, len(all))
	for i, a := range all {
		out[i] = a
	}
	return out
}

func (ind *Individual) ID() string               { return ind.id }
func (ind *Individual) ParentID() string         { return ind.parentID }
func (ind *Individual) Operation() string        { return ind.operation }
func (ind *Individual) Setup() []*Action         { return append([]*Action(nil), ind.setup...) }
func (ind *Individual) Main() []*Action          { return append([]*Action(nil), ind.main...) }
func (ind *Individual) Actions() []*Action       { return ind.actions() }
func (ind *Individual) Len() int                 { return len(ind.setup) + len(ind.main) }
func (ind *Individual) Incomplete() bool         { return ind.incomplete }
func (ind *Individual) IncompleteReason() string { return ind.reason }

// SetOperation records the operator that produced this individual.
func (ind *Individual) SetOperation(op string) { ind.operation = op }

// SetLineage records the parent and the operation that produced ind. Copies
// made while mutating would otherwise point at intermediate individuals.
func (ind *Individual) SetLineage(parentID, op string) {
	ind.parentID = parentID
	ind.operation = op
}

// MarkIncomplete flags a missing dependency. Reasons accumulate.
func (ind *Individual) MarkIncomplete(reason string) {
	ind.incomplete = true
	if reason == "" {
		return
	}
	if ind.reason == "" {
		ind.reason = reason
		return
	}
	if !strings.Contains(ind.reason, reason) {
		ind.reason += "; " + reason
	}
}

// MarkComplete clears the incomplete flag after a successful repair.
func (ind *Individual) MarkComplete() {
	ind.incomplete = false
	ind.reason = ""
}

func (ind *Individual) actions() []*Action {
	out := make([]*Action, 0, len(ind.setup)+len(ind.main))
	out = append(out, ind.setup...)
	return append(out, ind.main...)
}

// ActionAt returns the action at absolute position i (setup first).
func (ind *Individual) ActionAt(i int) (*Action, error) {
	switch {
	case i < 0 || i >= ind.Len():
		return nil, fmt.Errorf("%w: %d", ErrActionIndex, i)
	case i < len(ind.setup):
		return ind.setup[i], nil
	default:
		return ind.main[i-len(ind.setup)], nil
	}
}

// IndexOf returns the absolute position of a, or -1.
func (ind *Individual) IndexOf(a *Action) int {
	for i, candidate := range ind.actions() {
		if candidate == a {
			return i
		}
	}
	return -1
}

// Copy deep-copies the individual. Bindings are replayed against the new
// tree and must resolve there.
func (ind *Individual) Copy() (*Individual, error) {
	out := &Individual{
		id:         ind.ids.next(),
		ids:        ind.ids,
		parentID:   ind.id,
		operation:  ind.operation,
		incomplete: ind.incomplete,
		reason:     ind.reason,
		setup:      make([]*Action, len(ind.setup)),
		main:       make([]*Action, len(ind.main)),
		bindings:   make([]Binding, len(ind.bindings)),
	}
	for i, a := range ind.setup {
		out.setup[i] = a.Copy()
		out.setup[i].SetParent(out)
	}
	for i, a := range ind.main {
		out.main[i] = a.Copy()
		out.main[i].SetParent(out)
	}
	for i, b := range ind.bindings {
		out.bindings[i] = b.clone()
	}
	if err := out.checkBindings(); err != nil {
		return nil, err
	}
	return out, nil
}

// Bind makes dependent follow source. Both genes must belong to this
// individual and source must not come after dependent.
func (ind *Individual) Bind(dependent, source gene.Gene) error {
	from, err := tree.PathFrom(ind, dependent)
	if err != nil {
		return fmt.Errorf("%w: dependent %s: %v", ErrBindingOutsideTree, dependent.Name(), err)
	}
	to, err := tree.PathFrom(ind, source)
	if err != nil {
		return fmt.Errorf("%w: source %s: %v", ErrBindingOutsideTree, source.Name(), err)
	}
	b := Binding{From: from, To: to}
	if err := checkOrder(b, ind.responseSource(b)); err != nil {
		return err
	}
	for i := range ind.bindings {
		if pathsEqual(ind.bindings[i].From, from) {
			ind.bindings[i] = b
			return nil
		}
	}
	ind.bindings = append(ind.bindings, b)
	return nil
}

func (ind *Individual) Bindings() []Binding {
	out := make([]Binding, len(ind.bindings))
	for i, b := range ind.bindings {
		out[i] = b.clone()
	}
	return out
}

// BindingSource returns the gene g is bound to.
func (ind *Individual) BindingSource(g gene.Gene) (gene.Gene, bool) {
	path, err := tree.PathFrom(ind, g)
	if err != nil {
		return nil, false
	}
	for _, b := range ind.bindings {
		if pathsEqual(b.From, path) {
			source, err := ind.geneAt(b.To)
			if err != nil {
				return nil, false
			}
			return source, true
		}
	}
	return nil, false
}

// Dependents returns every gene whose value follows a binding source.
func (ind *Individual) Dependents() []gene.Gene {
	out := make([]gene.Gene, 0, len(ind.bindings))
	for _, b := range ind.bindings {
		if g, err := ind.geneAt(b.From); err == nil {
			out = append(out, g)
		}
	}
	return out
}

// IsSource reports whether any binding reads from the action at absolute
// position i while the dependent lives in another action.
func (ind *Individual) IsSource(i int) bool {
	for _, b := range ind.bindings {
		if b.To[0] == i && b.From[0] != i {
			return true
		}
	}
	return false
}

// SyncBindings copies source values into dependents. Sources produced by a
// response are resolved at execution time and skipped here. It returns the
// number of dependents that could not take their source value.
func (ind *Individual) SyncBindings() int {
	failed := 0
	for _, b := range ind.bindings {
		if ind.responseSource(b) {
			continue
		}
		dependent, err := ind.geneAt(b.From)
		if err != nil {
			failed++
			continue
		}
		source, err := ind.geneAt(b.To)
		if err != nil {
			failed++
			continue
		}
		if dependent.RawString() == source.RawString() {
			continue
		}
		if !dependent.SetFromString(source.RawString()) {
			failed++
		}
	}
	return failed
}

// IsResponseBound reports whether g takes its value from a response at
// execution time.
func (ind *Individual) IsResponseBound(g gene.Gene) bool {
	path, err := tree.PathFrom(ind, g)
	if err != nil {
		return false
	}
	for _, b := range ind.bindings {
		if pathsEqual(b.From, path) {
			return ind.responseSource(b)
		}
	}
	return false
}

func (ind *Individual) responseSource(b Binding) bool {
	p, err := ind.paramAt(b.To)
	return err == nil && p.IsResponse()
}

// InsertMain inserts actions into the main group at pos and shifts binding
// paths behind the insertion point.
func (ind *Individual) InsertMain(pos int, actions ...*Action) error {
	if pos < 0 || pos > len(ind.main) {
		return fmt.Errorf("%w: insert at %d", ErrActionIndex, pos)
	}
	for _, a := range actions {
		if a.setup {
			return fmt.Errorf("%w: setup action %s in main group", ErrGroupOrder, a.ID())
		}
	}
	abs := len(ind.setup) + pos
	k := len(actions)
	for i := range ind.bindings {
		shiftFrom(ind.bindings[i].From, abs, k)
		shiftFrom(ind.bindings[i].To, abs, k)
	}
	next := make([]*Action, 0, len(ind.main)+k)
	next = append(next, ind.main[:pos]...)
	next = append(next, actions...)
	ind.main = append(next, ind.main[pos:]...)
	for _, a := range actions {
		a.SetParent(ind)
	}
	return nil
}

// RemoveMain drops the main action at pos together with every binding that
// touches it. The last main action cannot be removed.
func (ind *Individual) RemoveMain(pos int) error {
	if pos < 0 || pos >= len(ind.main) {
		return fmt.Errorf("%w: remove at %d", ErrActionIndex, pos)
	}
	if len(ind.main) == 1 {
		return ErrNoMainAction
	}
	abs := len(ind.setup) + pos
	kept := ind.bindings[:0]
	for _, b := range ind.bindings {
		if b.From[0] == abs || b.To[0] == abs {
			continue
		}
		shiftFrom(b.From, abs+1, -1)
		shiftFrom(b.To, abs+1, -1)
		kept = append(kept, b)
	}
	ind.bindings = kept
	ind.main[pos].SetParent(nil)
	ind.main = append(ind.main[:pos:pos], ind.main[pos+1:]...)
	return nil
}

// SwapMain exchanges two main actions. The swap is refused when it would put
// a binding source after its dependent.
func (ind *Individual) SwapMain(i, j int) error {
	if i < 0 || j < 0 || i >= len(ind.main) || j >= len(ind.main) {
		return fmt.Errorf("%w: swap %d,%d", ErrActionIndex, i, j)
	}
	if i == j {
		return nil
	}
	ai, aj := len(ind.setup)+i, len(ind.setup)+j
	remap := func(path []int) {
		switch path[0] {
		case ai:
			path[0] = aj
		case aj:
			path[0] = ai
		}
	}
	for _, b := range ind.bindings {
		next := b.clone()
		remap(next.From)
		remap(next.To)
		if err := checkOrder(next, ind.responseSource(b)); err != nil {
			return err
		}
	}
	for _, b := range ind.bindings {
		remap(b.From)
		remap(b.To)
	}
	ind.main[i], ind.main[j] = ind.main[j], ind.main[i]
	return nil
}

// Validate checks the structural invariants: at least one main action, group
// membership, gene domains, and resolvable, correctly ordered bindings.
func (ind *Individual) Validate() error {
	if len(ind.main) == 0 {
		return ErrNoMainAction
	}
	for _, a := range ind.setup {
		if !a.setup {
			return fmt.Errorf("%w: %s is not a setup action", ErrGroupOrder, a.ID())
		}
	}
	for _, a := range ind.main {
		if a.setup {
			return fmt.Errorf("%w: setup action %s in main group", ErrGroupOrder, a.ID())
		}
	}
	for _, a := range ind.actions() {
		if a.Parent() != tree.Node(ind) {
			return fmt.Errorf("%w: %s is owned by another tree", ErrBindingOutsideTree, a.ID())
		}
		if err := a.Validate(); err != nil {
			return err
		}
	}
	if err := ind.checkBindings(); err != nil {
		return err
	}
	for _, b := range ind.bindings {
		if err := checkOrder(b, ind.responseSource(b)); err != nil {
			return err
		}
	}
	return nil
}

func (ind *Individual) checkBindings() error {
	for _, b := range ind.bindings {
		if _, err := ind.geneAt(b.From); err != nil {
			return fmt.Errorf("%w: dependent %v: %v", ErrBindingOutsideTree, b.From, err)
		}
		if _, err := ind.geneAt(b.To); err != nil {
			return fmt.Errorf("%w: source %v: %v", ErrBindingOutsideTree, b.To, err)
		}
	}
	return nil
}

// checkOrder enforces creation before use: a response source must belong to
// an earlier action, any other source to the same or an earlier one.
func checkOrder(b Binding, response bool) error {
	if len(b.From) < 3 || len(b.To) < 3 {
		return fmt.Errorf("%w: binding paths must address genes", ErrBindingOutsideTree)
	}
	if pathsEqual(b.From, b.To) {
		return fmt.Errorf("%w: gene bound to itself", ErrBindingOrder)
	}
	src, dep := b.To[0], b.From[0]
	if src > dep || (src == dep && response) {
		return fmt.Errorf("%w: source action %d, dependent action %d", ErrBindingOrder, src, dep)
	}
	return nil
}

func (ind *Individual) paramAt(path []int) (*Param, error) {
	if len(path) < 2 {
		return nil, tree.ErrInvalidPath
	}
	n, err := tree.TargetWithIndex(ind, path[:2])
	if err != nil {
		return nil, err
	}
	p, ok := n.(*Param)
	if !ok {
		return nil, tree.ErrInvalidPath
	}
	return p, nil
}

// GeneAt resolves an index path to a gene.
func (ind *Individual) GeneAt(path []int) (gene.Gene, error) {
	return ind.geneAt(path)
}

func (ind *Individual) geneAt(path []int) (gene.Gene, error) {
	n, err := tree.TargetWithIndex(ind, path)
	if err != nil {
		return nil, err
	}
	g, ok := n.(gene.Gene)
	if !ok {
		return nil, fmt.Errorf("%w: %v is not a gene", tree.ErrInvalidPath, path)
	}
	return g, nil
}

// Complexity orders individuals by action count, then total gene size.
type Complexity struct {
	Actions int `json:"actions"`
	Size    int `json:"size"`
}

func (c Complexity) Less(other Complexity) bool {
	if c.Actions != other.Actions {
		return c.Actions < other.Actions
	}
	return c.Size < other.Size
}

func (ind *Individual) Complexity() Complexity {
	c := Complexity{Actions: ind.Len()}
	for _, a := range ind.actions() {
		c.Size += a.size()
	}
	return c
}

// Signature fingerprints the individual by value: action ids, param values
// and bindings. Identical tests yield identical signatures regardless of id.
func (ind *Individual) Signature() string {
	parts := make([]string, 0, ind.Len()+len(ind.bindings))
	for _, a := range ind.actions() {
		values := make([]string, 0, len(a.params))
		for _, p := range a.params {
			if p.IsResponse() {
				continue
			}
			values = append(values, p.name+"="+p.Value())
		}
		parts = append(parts, a.ID()+"("+strings.Join(values, ",")+")")
	}
	for _, b := range ind.bindings {
		parts = append(parts, fmt.Sprintf("%v<-%v", b.From, b.To))
	}
	digest := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(digest[:8])
}

func (ind *Individual) String() string {
	ids := make([]string, 0, ind.Len())
	for _, a := range ind.actions() {
		ids = append(ids, a.ID())
	}
	return "[" + strings.Join(ids, ", ") + "]"
}

func shiftFrom(path []int, from, delta int) {
	if len(path) > 0 && path[0] >= from {
		path[0] += delta
	}
}

func pathsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func renderValues(values []any) string {
	raw, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(raw)
}
