package sut

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mioforge/internal/fitness"
	"mioforge/internal/model"
	"mioforge/internal/sampler"
)

func templates(t *testing.T) map[string]*model.Action {
	t.Helper()
	catalogue, err := Catalogue()
	require.NoError(t, err)
	out := make(map[string]*model.Action, len(catalogue))
	for _, a := range catalogue {
		out[a.ID()] = a
	}
	return out
}

// instance copies a template, randomizes it and overrides the given params.
func instance(t *testing.T, templates map[string]*model.Action, id string, values map[string]string) *model.Action {
	t.Helper()
	a := templates[id].Copy()
	a.Randomize(rand.New(rand.NewSource(1)))
	for name, v := range values {
		p, ok := a.Param(name)
		require.True(t, ok, name)
		require.True(t, p.Primary().SetFromString(v), "%s=%s", name, v)
	}
	return a
}

func evaluate(t *testing.T, s *Server, main ...*model.Action) *model.EvaluatedIndividual {
	t.Helper()
	ind, err := model.NewIndividual(nil, main)
	require.NoError(t, err)
	ev, err := s.Evaluate(context.Background(), ind)
	require.NoError(t, err)
	return ev
}

func TestCatalogueIsValid(t *testing.T) {
	catalogue, err := Catalogue()
	require.NoError(t, err)
	require.Len(t, catalogue, 6)
	require.True(t, catalogue[0].Setup())
	rng := rand.New(rand.NewSource(1))
	for _, a := range catalogue {
		sample := a.Copy()
		sample.Randomize(rng)
		require.NoError(t, sample.Validate(), a.ID())
	}
}

func TestEveryEvaluationReportsAllTargets(t *testing.T) {
	tpl := templates(t)
	ev := evaluate(t, New(Config{}), instance(t, tpl, "GET /items/{id}", map[string]string{"id": "5"}))
	require.ElementsMatch(t, Targets(), ev.Fitness().Targets())
	assert.Equal(t, 1.0, ev.FitnessFor(targetNotFound))
	assert.Zero(t, ev.FitnessFor(targetFound))
}

func TestResponseBindingReachesCreatedItem(t *testing.T) {
	catalogue, err := Catalogue()
	require.NoError(t, err)
	s, err := sampler.New(sampler.Config{Catalogue: catalogue, Rand: rand.New(rand.NewSource(7))})
	require.NoError(t, err)
	ind, err := s.SampleFor("GET /items/{id}")
	require.NoError(t, err)
	require.False(t, ind.Incomplete())

	ev, err := New(Config{}).Evaluate(context.Background(), ind)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ev.FitnessFor(targetCreated))
	assert.Equal(t, 1.0, ev.FitnessFor(targetFound))
	results := ev.Results()
	require.Len(t, results, ind.Len())
	assert.Equal(t, 200, results[len(results)-1].StatusCode)
}

func TestBranchDistanceGuidesTowardsExistingIDs(t *testing.T) {
	tpl := templates(t)
	create := func() *model.Action {
		return instance(t, tpl, "POST /items", nil)
	}
	near := evaluate(t, New(Config{}), create(), instance(t, tpl, "GET /items/{id}", map[string]string{"id": "2"}))
	far := evaluate(t, New(Config{}), create(), instance(t, tpl, "GET /items/{id}", map[string]string{"id": "900"}))
	hit := evaluate(t, New(Config{}), create(), instance(t, tpl, "GET /items/{id}", map[string]string{"id": "1"}))

	assert.Greater(t, near.FitnessFor(targetFound), far.FitnessFor(targetFound))
	assert.Less(t, near.FitnessFor(targetFound), 1.0)
	assert.Equal(t, 1.0, hit.FitnessFor(targetFound))
}

func TestFaultsAreReported(t *testing.T) {
	tpl := templates(t)
	ev := evaluate(t, New(Config{}), instance(t, tpl, "GET /items", map[string]string{"limit": "0"}))
	assert.Equal(t, 1.0, ev.FitnessFor(faultEmptyPage))
	assert.Equal(t, model.StatusFault, ev.Results()[0].Status)

	stale := evaluate(t, New(Config{}),
		instance(t, tpl, "POST /items", nil),
		instance(t, tpl, "DELETE /items/{id}", map[string]string{"id": "1"}),
		instance(t, tpl, "GET /items/{id}", map[string]string{"id": "1"}),
	)
	assert.Equal(t, 1.0, stale.FitnessFor(targetDeleted))
	assert.Equal(t, 1.0, stale.FitnessFor(faultStaleRead))
}

func TestUnavailableEvaluationsAreRecoverable(t *testing.T) {
	tpl := templates(t)
	s := New(Config{UnavailableEvery: 2})
	ind, err := model.NewIndividual(nil, []*model.Action{instance(t, tpl, "GET /items", map[string]string{"limit": "3"})})
	require.NoError(t, err)

	first, err := fitness.Execute(context.Background(), s, ind)
	require.NoError(t, err)
	require.False(t, first.Failed())

	second, err := fitness.Execute(context.Background(), s, ind)
	require.NoError(t, err)
	require.True(t, second.Failed())
	require.Equal(t, 2, s.Evaluations())
}

func TestStringDistance(t *testing.T) {
	assert.Zero(t, stringDistance("pear", "pear"))
	assert.Equal(t, 1.0, stringDistance("pear", "peas"))
	assert.Equal(t, 128.0, stringDistance("pear", "pea"))
}
