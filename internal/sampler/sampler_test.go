package sampler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"mioforge/internal/gene"
	"mioforge/internal/model"
	"mioforge/internal/resource"
)

func param(t *testing.T, name string, loc model.Location, g gene.Gene) *model.Param {
	t.Helper()
	p, err := model.NewParam(name, loc, g)
	require.NoError(t, err)
	return p
}

func action(t *testing.T, verb, path string, setup bool, params ...*model.Param) *model.Action {
	t.Helper()
	a, err := model.NewAction(model.RESTKind{}, model.Identity{Scope: verb, Operation: path}, setup, params...)
	require.NoError(t, err)
	return a
}

func itemsCatalogue(t *testing.T) []*model.Action {
	t.Helper()
	return []*model.Action{
		action(t, "POST", "/items", false,
			param(t, "body", model.LocationBody, gene.NewObject("body", gene.NewString("name", 1, 6, ""))),
			param(t, "id", model.LocationResponse, gene.NewInteger("id", 0, 1<<20)),
		),
		action(t, "GET", "/items/{id}", false,
			param(t, "id", model.LocationPath, gene.NewInteger("id", 0, 1<<20)),
		),
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Catalogue: itemsCatalogue(t)})
	require.ErrorIs(t, err, ErrNilRand)

	_, err = New(Config{Rand: rand.New(rand.NewSource(1))})
	require.ErrorIs(t, err, ErrEmptyCatalogue)

	onlySetup := []*model.Action{action(t, "POST", "/reset", true)}
	_, err = New(Config{Catalogue: onlySetup, Rand: rand.New(rand.NewSource(1))})
	require.ErrorIs(t, err, ErrEmptyCatalogue)

	_, err = New(Config{Catalogue: itemsCatalogue(t), Rand: rand.New(rand.NewSource(1)), MaxMainActions: -1})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSampleForPrependsCreationChain(t *testing.T) {
	s, err := New(Config{Catalogue: itemsCatalogue(t), Rand: rand.New(rand.NewSource(1))})
	require.NoError(t, err)

	ind, err := s.SampleFor("GET /items/{id}")
	require.NoError(t, err)
	require.NoError(t, ind.Validate())
	require.Equal(t, "[POST /items, GET /items/{id}]", ind.String())
	require.False(t, ind.Incomplete())

	main := ind.Main()
	postID, ok := main[0].Param("id")
	require.True(t, ok)
	pathID, ok := main[1].Param("id")
	require.True(t, ok)
	source, ok := ind.BindingSource(pathID.Primary())
	require.True(t, ok)
	require.Same(t, postID.Primary(), source)
	require.True(t, ind.IsResponseBound(pathID.Primary()))
}

func TestSampleWithoutCreatorIsMarkedIncomplete(t *testing.T) {
	catalogue := []*model.Action{
		action(t, "GET", "/items/{id}", false, param(t, "id", model.LocationPath, gene.NewInteger("id", 0, 10))),
	}
	s, err := New(Config{Catalogue: catalogue, Rand: rand.New(rand.NewSource(1))})
	require.NoError(t, err)

	ind, err := s.SampleFor("GET /items/{id}")
	require.NoError(t, err)
	require.Equal(t, 1, ind.Len())
	require.True(t, ind.Incomplete())
	require.NotEmpty(t, ind.IncompleteReason())
}

func TestSamplingIsDeterministicForSeed(t *testing.T) {
	sample := func() []string {
		s, err := New(Config{Catalogue: itemsCatalogue(t), Rand: rand.New(rand.NewSource(99)), MaxMainActions: 3})
		require.NoError(t, err)
		var out []string
		for i := 0; i < 20; i++ {
			ind, err := s.SampleRandomIndividual()
			require.NoError(t, err)
			require.NoError(t, ind.Validate())
			out = append(out, ind.Signature())
		}
		return out
	}
	require.Equal(t, sample(), sample())
}

func TestSampleRespectsMaxActions(t *testing.T) {
	s, err := New(Config{Catalogue: itemsCatalogue(t), Rand: rand.New(rand.NewSource(5)), MaxMainActions: 5, MaxActions: 3})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		ind, err := s.SampleRandomIndividual()
		require.NoError(t, err)
		require.LessOrEqual(t, len(ind.Main()), 3)
		require.GreaterOrEqual(t, len(ind.Main()), 1)
	}
}

func TestSetupActionsPrecedeMain(t *testing.T) {
	catalogue := append(itemsCatalogue(t), action(t, "POST", "/reset", true))
	s, err := New(Config{Catalogue: catalogue, Rand: rand.New(rand.NewSource(2))})
	require.NoError(t, err)
	require.Equal(t, []string{"POST /items", "GET /items/{id}"}, s.Targets())

	ind, err := s.SampleRandomIndividual()
	require.NoError(t, err)
	require.Len(t, ind.Setup(), 1)
	require.Equal(t, "POST /reset", ind.Setup()[0].ID())
}

func TestSeedsAreServedFirstAndOnce(t *testing.T) {
	catalogue := itemsCatalogue(t)
	rng := rand.New(rand.NewSource(3))
	seedAction := catalogue[1].Copy()
	seedAction.Randomize(rng)
	seed, err := model.NewIndividual(nil, []*model.Action{seedAction})
	require.NoError(t, err)

	s, err := New(Config{Catalogue: catalogue, Rand: rng, Seeds: []*model.Individual{seed}})
	require.NoError(t, err)
	require.Equal(t, 1, s.PendingSeeds())

	first, err := s.Sample()
	require.NoError(t, err)
	require.Equal(t, seed.Signature(), first.Signature())
	require.Equal(t, "seed", first.Operation())
	require.Zero(t, s.PendingSeeds())

	second, err := s.Sample()
	require.NoError(t, err)
	require.Equal(t, "sample", second.Operation())
}

func TestTemplatesAreNeverRandomizedInPlace(t *testing.T) {
	catalogue := itemsCatalogue(t)
	template, _ := catalogue[1].Param("id")
	before := template.Primary().RawString()
	s, err := New(Config{Catalogue: catalogue, Rand: rand.New(rand.NewSource(4))})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := s.SampleRandomIndividual()
		require.NoError(t, err)
	}
	require.Equal(t, before, template.Primary().RawString())
	require.False(t, template.Primary().Initialized())
}

func TestAlternativesAreRandomizedCopies(t *testing.T) {
	catalogue := append(itemsCatalogue(t), action(t, "POST", "/archive/items",
		false, param(t, "id", model.LocationResponse, gene.NewInteger("id", 0, 1<<20))))
	s, err := New(Config{Catalogue: catalogue, Rand: rand.New(rand.NewSource(6))})
	require.NoError(t, err)

	chains, err := s.Alternatives("GET /items/{id}")
	require.NoError(t, err)
	require.Len(t, chains, 2)
	for _, c := range chains {
		require.True(t, c.Complete)
		for _, a := range c.Actions {
			for _, p := range a.Params() {
				if !p.IsResponse() {
					require.True(t, p.Primary().Initialized(), "%s.%s", a.ID(), p.Name())
				}
			}
		}
	}
	_, err = s.Alternatives("GET /nothing")
	require.ErrorIs(t, err, resource.ErrUnknownAction)
}
