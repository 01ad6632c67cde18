package model

import (
	"errors"
	"fmt"
	"math/rand"

	"mioforge/internal/gene"
	"mioforge/internal/tree"
)

var ErrInvalidAction = errors.New("invalid action")

// Action is one call against the system under test. Its structure is fixed
// once built from the catalogue; only the genes of its params change.
type Action struct {
	tree.Base
	kind     ActionKind
	identity Identity
	setup    bool
	params   []*Param
}

// NewAction builds an action template. Setup actions may only appear in the
// setup group of an individual.
func NewAction(kind ActionKind, identity Identity, setup bool, params ...*Param) (*Action, error) {
	if kind == nil {
		return nil, fmt.Errorf("%w: nil kind", ErrInvalidAction)
	}
	a := &Action{kind: kind, identity: identity, setup: setup, params: append([]*Param(nil), params...)}
	seen := make(map[string]struct{}, len(params))
	for _, p := range a.params {
		if _, dup := seen[p.name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate param %s", ErrInvalidAction, a.ID(), p.name)
		}
		seen[p.name] = struct{}{}
		p.SetParent(a)
	}
	if err := kind.Validate(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Action) ID() string           { return a.kind.ID(a.identity) }
func (a *Action) Kind() ActionKind     { return a.kind }
func (a *Action) Identity() Identity   { return a.identity }
func (a *Action) Setup() bool          { return a.setup }
func (a *Action) Params() []*Param     { return append([]*Param(nil), a.params...) }
func (a *Action) Creates() bool        { return a.kind.Creates(a) }
func (a *Action) Resource() string     { return a.kind.Resource(a) }
func (a *Action) References() []*Param { return a.kind.References(a) }
func (a *Action) Produced() []*Param   { return a.kind.Produced(a) }

func (a *Action) Children() []tree.Node {
	out := make([]tree.Node, len(a.params))
	for i, p := range a.params {
		out[i] = p
	}
	return out
}

func (a *Action) Param(name string) (*Param, bool) {
	for _, p := range a.params {
		if p.name == name {
			return p, true
		}
	}
	return nil, false
}

// Copy returns an independent action with copied params.
func (a *Action) Copy() *Action {
	out := &Action{kind: a.kind, identity: a.identity, setup: a.setup, params: make([]*Param, len(a.params))}
	for i, p := range a.params {
		out.params[i] = p.Copy()
		out.params[i].SetParent(out)
	}
	return out
}

// Randomize assigns fresh values to every input gene. Response params keep
// their placeholder values.
func (a *Action) Randomize(rng *rand.Rand) {
	for _, p := range a.params {
		if p.IsResponse() {
			continue
		}
		for _, g := range p.genes {
			g.Randomize(rng, false)
		}
	}
}

// Genes returns every gene of every param, depth-first.
func (a *Action) Genes() []gene.Gene {
	var out []gene.Gene
	for _, p := range a.params {
		for _, g := range p.genes {
			out = append(out, gene.Flatten(g)...)
		}
	}
	return out
}

func (a *Action) Validate() error {
	if err := a.kind.Validate(a); err != nil {
		return err
	}
	for _, p := range a.params {
		if p.IsResponse() {
			continue
		}
		for _, g := range p.genes {
			if err := g.Validate(); err != nil {
				return fmt.Errorf("%s.%s: %w", a.ID(), p.name, err)
			}
		}
	}
	return nil
}

func (a *Action) size() int {
	total := 1
	for _, p := range a.params {
		total += p.size()
	}
	return total
}
