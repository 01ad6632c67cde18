package evo

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"mioforge/internal/model"
	"mioforge/internal/sampler"
	"mioforge/internal/sut"
)

func newSampler(t *testing.T, rng *rand.Rand) *sampler.Sampler {
	t.Helper()
	catalogue, err := sut.Catalogue()
	require.NoError(t, err)
	s, err := sampler.New(sampler.Config{Catalogue: catalogue, Rand: rng, IDs: model.NewIDSource(1)})
	require.NoError(t, err)
	return s
}

// bare builds an individual from randomized catalogue actions with no chain.
func bare(t *testing.T, rng *rand.Rand, ids ...string) *model.Individual {
	t.Helper()
	catalogue, err := sut.Catalogue()
	require.NoError(t, err)
	byID := make(map[string]*model.Action, len(catalogue))
	for _, a := range catalogue {
		byID[a.ID()] = a
	}
	main := make([]*model.Action, 0, len(ids))
	for _, id := range ids {
		a := byID[id].Copy()
		a.Randomize(rng)
		main = append(main, a)
	}
	ind, err := model.NewIndividual(nil, main)
	require.NoError(t, err)
	return ind
}

func TestValueMutationLeavesParentAndDependentsAlone(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s := newSampler(t, rng)
	parent, err := s.SampleFor("PUT /items/{id}")
	require.NoError(t, err)
	require.Len(t, parent.Main(), 2)
	signature := parent.Signature()
	boundID := func(ind *model.Individual) string {
		p, ok := ind.Main()[1].Param("id")
		require.True(t, ok)
		return p.Value()
	}
	before := boundID(parent)

	op := &ValueMutation{Rand: rng}
	require.True(t, op.Applicable(parent))
	for i := 0; i < 50; i++ {
		child, err := op.Apply(context.Background(), parent)
		require.NoError(t, err)
		require.NoError(t, child.Validate())
		require.Equal(t, before, boundID(child))
	}
	require.Equal(t, signature, parent.Signature())
}

func TestValueMutationEventuallyChangesValues(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	parent := bare(t, rng, "GET /items")
	op := &ValueMutation{Rand: rng}
	changed := false
	for i := 0; i < 20 && !changed; i++ {
		child, err := op.Apply(context.Background(), parent)
		require.NoError(t, err)
		changed = child.Signature() != parent.Signature()
	}
	require.True(t, changed)
}

func TestAddActionKeepsCreationBeforeUse(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	s := newSampler(t, rng)
	parent := bare(t, rng, "GET /items")
	op := &AddAction{Rand: rng, Sampler: s, MaxActions: 6}

	grown := 0
	for i := 0; i < 30; i++ {
		child, err := op.Apply(context.Background(), parent)
		if errors.Is(err, ErrNoMutationChoice) {
			continue
		}
		require.NoError(t, err)
		require.NoError(t, child.Validate())
		require.Greater(t, child.Len(), parent.Len())
		require.LessOrEqual(t, len(child.Main()), 6)
		grown++
	}
	require.Positive(t, grown)
	require.Equal(t, 1, parent.Len())
}

func TestAddActionRespectsBound(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	op := &AddAction{Rand: rng, Sampler: newSampler(t, rng), MaxActions: 1}
	parent := bare(t, rng, "GET /items")
	require.False(t, op.Applicable(parent))
	_, err := op.Apply(context.Background(), parent)
	require.ErrorIs(t, err, ErrNoMutationChoice)
}

func TestRemoveActionKeepsBindingSources(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	s := newSampler(t, rng)
	parent, err := s.SampleFor("GET /items/{id}")
	require.NoError(t, err)
	require.Len(t, parent.Main(), 2)

	op := &RemoveAction{Rand: rng}
	for i := 0; i < 10; i++ {
		child, err := op.Apply(context.Background(), parent)
		require.NoError(t, err)
		require.NoError(t, child.Validate())
		require.Len(t, child.Main(), 1)
		require.Equal(t, "POST /items", child.Main()[0].ID())
		require.Empty(t, child.Bindings())
	}
	require.Len(t, parent.Main(), 2)

	single := bare(t, rng, "GET /items")
	require.False(t, op.Applicable(single))
	_, err = op.Apply(context.Background(), single)
	require.ErrorIs(t, err, ErrNoMutationChoice)
}

func TestSwapActionsRespectsBindings(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	s := newSampler(t, rng)
	bound, err := s.SampleFor("GET /items/{id}")
	require.NoError(t, err)
	op := &SwapActions{Rand: rng}
	_, err = op.Apply(context.Background(), bound)
	require.ErrorIs(t, err, ErrNoMutationChoice)

	free := bare(t, rng, "GET /items", "DELETE /items/{id}")
	child, err := op.Apply(context.Background(), free)
	require.NoError(t, err)
	require.Equal(t, "DELETE /items/{id}", child.Main()[0].ID())
	require.Equal(t, "GET /items", child.Main()[1].ID())
	require.Equal(t, "GET /items", free.Main()[0].ID())
}

func TestRebuildChainRepairsIncompleteIndividual(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	s := newSampler(t, rng)
	parent := bare(t, rng, "GET /items/{id}")
	parent.MarkIncomplete("no creator for id")

	op := &RebuildChain{Rand: rng, Sampler: s}
	require.True(t, op.Applicable(parent))
	child, err := op.Apply(context.Background(), parent)
	require.NoError(t, err)
	require.NoError(t, child.Validate())
	require.False(t, child.Incomplete())
	require.Equal(t, "[POST /items, GET /items/{id}]", child.String())

	id, ok := child.Main()[1].Param("id")
	require.True(t, ok)
	require.True(t, child.IsResponseBound(id.Primary()))

	require.True(t, parent.Incomplete())
	require.Equal(t, 1, parent.Len())
}

func TestRebuildChainNeedsReferences(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	op := &RebuildChain{Rand: rng, Sampler: newSampler(t, rng)}
	parent := bare(t, rng, "GET /items")
	require.False(t, op.Applicable(parent))
	_, err := op.Apply(context.Background(), parent)
	require.ErrorIs(t, err, ErrNoMutationChoice)
}
