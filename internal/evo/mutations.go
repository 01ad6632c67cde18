package evo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"mioforge/internal/gene"
	"mioforge/internal/model"
	"mioforge/internal/resource"
	"mioforge/internal/sampler"
)

// ValueMutation mutates the values of a random subset of input genes. Every
// candidate is picked with probability 1/n and at least one always is, so the
// number of touched genes follows a binomial draw centred on one.
type ValueMutation struct {
	Rand    *rand.Rand
	Control gene.Control
}

func (o *ValueMutation) Name() string { return "value" }

func (o *ValueMutation) Applicable(ind *model.Individual) bool {
	return len(mutableGenes(ind)) > 0
}

func (o *ValueMutation) Apply(ctx context.Context, ind *model.Individual) (*model.Individual, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	child, err := ind.Copy()
	if err != nil {
		return nil, err
	}
	candidates := mutableGenes(child)
	if len(candidates) == 0 {
		return nil, ErrNoMutationChoice
	}
	ctl := o.Control
	if ctl == nil {
		ctl = gene.StaticControl(0)
	}
	p := 1 / float64(len(candidates))
	picked := false
	for _, g := range candidates {
		if o.Rand.Float64() >= p {
			continue
		}
		if err := g.Mutate(o.Rand, ctl); err != nil {
			return nil, fmt.Errorf("mutate %s: %w", g.Name(), err)
		}
		picked = true
	}
	if !picked {
		g := candidates[o.Rand.Intn(len(candidates))]
		if err := g.Mutate(o.Rand, ctl); err != nil {
			return nil, fmt.Errorf("mutate %s: %w", g.Name(), err)
		}
	}
	child.SyncBindings()
	return child, nil
}

// mutableGenes lists the top-level input genes whose value the search owns:
// response values and binding dependents follow other genes.
func mutableGenes(ind *model.Individual) []gene.Gene {
	dependents := make(map[gene.Gene]struct{})
	for _, g := range ind.Dependents() {
		dependents[g] = struct{}{}
	}
	var out []gene.Gene
	for _, a := range ind.Actions() {
		for _, p := range a.Params() {
			if p.IsResponse() {
				continue
			}
			for _, g := range p.Genes() {
				if _, bound := dependents[g]; bound || !g.Mutable() {
					continue
				}
				out = append(out, g)
			}
		}
	}
	return out
}

// AddAction appends a freshly sampled target, with its creation chain, at a
// random position of the main group.
type AddAction struct {
	Rand    *rand.Rand
	Sampler *sampler.Sampler
	// MaxActions bounds the main group; zero means unbounded.
	MaxActions int
}

func (o *AddAction) Name() string     { return "add_action" }
func (o *AddAction) Structural() bool { return true }

func (o *AddAction) Applicable(ind *model.Individual) bool {
	return o.MaxActions <= 0 || len(ind.Main()) < o.MaxActions
}

func (o *AddAction) Apply(ctx context.Context, ind *model.Individual) (*model.Individual, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chain, err := o.Sampler.Chain(o.Sampler.RandomTargetID())
	if err != nil {
		return nil, err
	}
	main := len(ind.Main())
	if !chain.Complete || (o.MaxActions > 0 && main+len(chain.Actions) > o.MaxActions) {
		return nil, ErrNoMutationChoice
	}
	child, err := ind.Copy()
	if err != nil {
		return nil, err
	}
	if err := child.InsertMain(o.Rand.Intn(main+1), chain.Actions...); err != nil {
		return nil, err
	}
	if err := sampler.BindChain(child, chain); err != nil {
		return nil, err
	}
	child.SyncBindings()
	return child, nil
}

// RemoveAction drops a main action no other action reads from.
type RemoveAction struct {
	Rand *rand.Rand
}

func (o *RemoveAction) Name() string     { return "remove_action" }
func (o *RemoveAction) Structural() bool { return true }

func (o *RemoveAction) Applicable(ind *model.Individual) bool {
	return len(removable(ind)) > 0
}

func (o *RemoveAction) Apply(ctx context.Context, ind *model.Individual) (*model.Individual, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candidates := removable(ind)
	if len(candidates) == 0 {
		return nil, ErrNoMutationChoice
	}
	child, err := ind.Copy()
	if err != nil {
		return nil, err
	}
	if err := child.RemoveMain(candidates[o.Rand.Intn(len(candidates))]); err != nil {
		return nil, err
	}
	return child, nil
}

func removable(ind *model.Individual) []int {
	main := len(ind.Main())
	if main < 2 {
		return nil
	}
	offset := len(ind.Setup())
	var out []int
	for i := 0; i < main; i++ {
		if !ind.IsSource(offset + i) {
			out = append(out, i)
		}
	}
	return out
}

// SwapActions exchanges two main actions. Pairs that would move a binding
// source behind its dependent are skipped.
type SwapActions struct {
	Rand *rand.Rand
}

func (o *SwapActions) Name() string     { return "swap_actions" }
func (o *SwapActions) Structural() bool { return true }

func (o *SwapActions) Applicable(ind *model.Individual) bool {
	return len(ind.Main()) > 1
}

func (o *SwapActions) Apply(ctx context.Context, ind *model.Individual) (*model.Individual, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	main := len(ind.Main())
	if main < 2 {
		return nil, ErrNoMutationChoice
	}
	child, err := ind.Copy()
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < main; attempt++ {
		i := o.Rand.Intn(main)
		j := o.Rand.Intn(main - 1)
		if j >= i {
			j++
		}
		err := child.SwapMain(i, j)
		if err == nil {
			return child, nil
		}
		if !errors.Is(err, model.ErrBindingOrder) {
			return nil, err
		}
	}
	return nil, ErrNoMutationChoice
}

// RebuildChain replaces the creation chain feeding one main action with an
// alternative from the resource-dependency graph. The new producers are
// inserted right before the action and its references are rebound to them;
// the old producers stay until RemoveAction drops them. Actions with unbound
// references are preferred, so incomplete individuals get repaired first.
type RebuildChain struct {
	Rand    *rand.Rand
	Sampler *sampler.Sampler
	// MaxActions bounds the main group; zero means unbounded.
	MaxActions int
}

func (o *RebuildChain) Name() string     { return "rebuild_chain" }
func (o *RebuildChain) Structural() bool { return true }

func (o *RebuildChain) Applicable(ind *model.Individual) bool {
	_, ok := o.pick(ind, false)
	return ok
}

func (o *RebuildChain) Apply(ctx context.Context, ind *model.Individual) (*model.Individual, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pos, ok := o.pick(ind, true)
	if !ok {
		return nil, ErrNoMutationChoice
	}
	target := ind.Main()[pos]
	alternatives, err := o.Sampler.Alternatives(target.ID())
	if err != nil {
		return nil, err
	}
	var usable []resource.Chain
	for _, c := range alternatives {
		if c.Complete && len(c.Actions) > 1 {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return nil, ErrNoMutationChoice
	}
	alt := usable[o.Rand.Intn(len(usable))]
	producers := alt.Actions[:len(alt.Actions)-1]
	if o.MaxActions > 0 && len(ind.Main())+len(producers) > o.MaxActions {
		return nil, ErrNoMutationChoice
	}

	child, err := ind.Copy()
	if err != nil {
		return nil, err
	}
	if err := child.InsertMain(pos, producers...); err != nil {
		return nil, err
	}
	placed := resource.Chain{
		Actions:  append(append([]*model.Action(nil), producers...), child.Main()[pos+len(producers)]),
		Links:    alt.Links,
		Complete: true,
	}
	if err := sampler.BindChain(child, placed); err != nil {
		return nil, err
	}
	child.SyncBindings()
	repairCompleteness(child)
	return child, nil
}

// pick chooses a main action with references, preferring unbound ones when
// prefer is set.
func (o *RebuildChain) pick(ind *model.Individual, prefer bool) (int, bool) {
	var bound, unbound []int
	for i, a := range ind.Main() {
		if !o.Sampler.Resources().NeedsChain(a.ID()) {
			continue
		}
		if unboundReferences(ind, a) > 0 {
			unbound = append(unbound, i)
		} else {
			bound = append(bound, i)
		}
	}
	switch {
	case prefer && len(unbound) > 0:
		return unbound[o.Rand.Intn(len(unbound))], true
	case !prefer:
		return 0, len(bound)+len(unbound) > 0
	}
	all := append(bound, unbound...)
	if len(all) == 0 {
		return 0, false
	}
	return all[o.Rand.Intn(len(all))], true
}

func unboundReferences(ind *model.Individual, a *model.Action) int {
	n := 0
	for _, ref := range a.References() {
		if _, ok := ind.BindingSource(ref.Primary()); !ok {
			n++
		}
	}
	return n
}

// repairCompleteness clears the incomplete flag once every reference in the
// main group is bound.
func repairCompleteness(ind *model.Individual) {
	if !ind.Incomplete() {
		return
	}
	for _, a := range ind.Main() {
		if unboundReferences(ind, a) > 0 {
			return
		}
	}
	ind.MarkComplete()
}
