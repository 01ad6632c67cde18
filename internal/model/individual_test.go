package model

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"mioforge/internal/gene"
	"mioforge/internal/tree"
)

func mustParam(t *testing.T, name string, loc Location, g gene.Gene) *Param {
	t.Helper()
	p, err := NewParam(name, loc, g)
	require.NoError(t, err)
	return p
}

func postItems(t *testing.T) *Action {
	t.Helper()
	body := gene.NewObject("body", gene.NewString("name", 1, 8, ""), gene.NewInteger("qty", 0, 50))
	a, err := NewAction(RESTKind{}, Identity{Scope: "POST", Operation: "/items"}, false,
		mustParam(t, "body", LocationBody, body),
		mustParam(t, "id", LocationResponse, gene.NewInteger("id", 0, 1<<31)),
	)
	require.NoError(t, err)
	return a
}

func getItem(t *testing.T) *Action {
	t.Helper()
	a, err := NewAction(RESTKind{}, Identity{Scope: "GET", Operation: "/items/{id}"}, false,
		mustParam(t, "id", LocationPath, gene.NewInteger("id", 0, 1<<31)),
	)
	require.NoError(t, err)
	return a
}

func searchItems(t *testing.T) *Action {
	t.Helper()
	a, err := NewAction(RESTKind{}, Identity{Scope: "GET", Operation: "/items"}, false,
		mustParam(t, "a", LocationQuery, gene.NewInteger("a", 0, 100)),
		mustParam(t, "b", LocationQuery, gene.NewInteger("b", 0, 100)),
	)
	require.NoError(t, err)
	return a
}

func randomized(t *testing.T, seed int64, setup []*Action, main ...*Action) *Individual {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	for _, a := range append(append([]*Action(nil), setup...), main...) {
		a.Randomize(rng)
	}
	ind, err := NewIndividual(setup, main)
	require.NoError(t, err)
	return ind
}

func TestNewIndividualRequiresMainAction(t *testing.T) {
	_, err := NewIndividual(nil, nil)
	require.ErrorIs(t, err, ErrNoMainAction)
}

func TestNewIndividualEnforcesGroups(t *testing.T) {
	reset, err := NewAction(RESTKind{}, Identity{Scope: "POST", Operation: "/reset"}, true)
	require.NoError(t, err)

	_, err = NewIndividual(nil, []*Action{reset})
	require.ErrorIs(t, err, ErrGroupOrder)
	_, err = NewIndividual([]*Action{getItem(t)}, []*Action{getItem(t)})
	require.ErrorIs(t, err, ErrGroupOrder)

	ind, err := NewIndividual([]*Action{reset}, []*Action{getItem(t)})
	require.NoError(t, err)
	require.Len(t, ind.Setup(), 1)
	require.Equal(t, "[POST /reset, GET /items/{id}]", ind.String())
}

func TestSeededIDSourceNamesLineageReproducibly(t *testing.T) {
	lineage := func() []string {
		ind := randomized(t, 1, nil, getItem(t))
		ind.AssignIDs(NewIDSource(42))
		child, err := ind.Copy()
		require.NoError(t, err)
		grandchild, err := child.Copy()
		require.NoError(t, err)
		require.Equal(t, child.ID(), grandchild.ParentID())
		return []string{ind.ID(), child.ID(), grandchild.ID()}
	}
	first, second := lineage(), lineage()
	require.Equal(t, first, second)
	require.NotEqual(t, first[0], first[1])

	free := randomized(t, 1, nil, getItem(t))
	free.AssignIDs(nil)
	copied, err := free.Copy()
	require.NoError(t, err)
	require.NotEqual(t, free.ID(), copied.ID())
}

func TestPathRoundTripOverIndividual(t *testing.T) {
	ind := randomized(t, 1, nil, postItems(t), getItem(t))
	visited := 0
	err := tree.Walk(ind, func(n tree.Node, path []int) error {
		back, err := tree.TraverseBackIndex(n)
		require.NoError(t, err)
		require.Equal(t, append([]int{}, path...), append([]int{}, back...))
		target, err := tree.TargetWithIndex(ind, back)
		require.NoError(t, err)
		require.Same(t, n, target)
		visited++
		return nil
	})
	require.NoError(t, err)
	require.Greater(t, visited, 5)
}

func TestCopyRebindsAndStaysIndependent(t *testing.T) {
	action := searchItems(t)
	ind := randomized(t, 2, nil, action)
	a := action.params[0].Primary()
	b := action.params[1].Primary()
	require.NoError(t, ind.Bind(a, b))
	require.Zero(t, ind.SyncBindings())
	require.Equal(t, b.RawString(), a.RawString())
	originalA := a.RawString()

	cp, err := ind.Copy()
	require.NoError(t, err)
	require.Equal(t, ind.ID(), cp.ParentID())
	copiedAction := cp.Main()[0]
	aCopy := copiedAction.params[0].Primary()
	bCopy := copiedAction.params[1].Primary()

	source, ok := cp.BindingSource(aCopy)
	require.True(t, ok)
	require.Same(t, bCopy, source)
	require.NotSame(t, b, source)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 10; i++ {
		require.NoError(t, aCopy.Mutate(rng, nil))
	}
	require.Equal(t, originalA, a.RawString())

	origSource, ok := ind.BindingSource(a)
	require.True(t, ok)
	require.Same(t, b, origSource)
}

func TestBindRejectsForeignGenes(t *testing.T) {
	ind := randomized(t, 4, nil, getItem(t))
	stranger := gene.NewInteger("stranger", 0, 1)
	err := ind.Bind(ind.Main()[0].params[0].Primary(), stranger)
	require.ErrorIs(t, err, ErrBindingOutsideTree)
}

func TestBindRequiresCreationBeforeUse(t *testing.T) {
	post, get := postItems(t), getItem(t)
	ind := randomized(t, 5, nil, get, post)
	idOut := post.params[1].Primary()
	err := ind.Bind(get.params[0].Primary(), idOut)
	require.ErrorIs(t, err, ErrBindingOrder)
}

func TestResponseBindingsAreNotSyncedStatically(t *testing.T) {
	post, get := postItems(t), getItem(t)
	ind := randomized(t, 6, nil, post, get)
	dependent := get.params[0].Primary()
	require.NoError(t, ind.Bind(dependent, post.params[1].Primary()))
	before := dependent.RawString()
	require.Zero(t, ind.SyncBindings())
	require.Equal(t, before, dependent.RawString())
	require.True(t, ind.IsResponseBound(dependent))
	require.True(t, ind.IsSource(0))
	require.False(t, ind.IsSource(1))
}

func TestStructuralEditsShiftBindings(t *testing.T) {
	post, get := postItems(t), getItem(t)
	ind := randomized(t, 7, nil, post, get)
	dependent := get.params[0].Primary()
	require.NoError(t, ind.Bind(dependent, post.params[1].Primary()))

	extra := searchItems(t)
	extra.Randomize(rand.New(rand.NewSource(1)))
	require.NoError(t, ind.InsertMain(0, extra))
	require.NoError(t, ind.Validate())
	source, ok := ind.BindingSource(dependent)
	require.True(t, ok)
	require.Same(t, post.params[1].Primary(), source)

	require.ErrorIs(t, ind.SwapMain(1, 2), ErrBindingOrder)
	require.ErrorIs(t, ind.SwapMain(0, 2), ErrBindingOrder)
	require.NoError(t, ind.SwapMain(0, 1))
	require.NoError(t, ind.Validate())
	require.Equal(t, "[POST /items, GET /items, GET /items/{id}]", ind.String())

	require.NoError(t, ind.RemoveMain(1))
	require.Len(t, ind.Bindings(), 1)
	require.NoError(t, ind.RemoveMain(0))
	require.Empty(t, ind.Bindings())
	require.ErrorIs(t, ind.RemoveMain(0), ErrNoMainAction)
}

func TestParamDescriptionIsWriteOnce(t *testing.T) {
	p := mustParam(t, "q", LocationQuery, gene.NewBoolean("q"))
	require.NoError(t, p.SetDescription("first"))
	require.ErrorIs(t, p.SetDescription("second"), ErrDescriptionSet)
	require.Equal(t, "first", p.Description())

	_, err := NewParam("empty", LocationQuery)
	require.ErrorIs(t, err, ErrEmptyParam)
}

func TestSignatureIgnoresIdentity(t *testing.T) {
	ind := randomized(t, 8, nil, postItems(t), getItem(t))
	cp, err := ind.Copy()
	require.NoError(t, err)
	require.NotEqual(t, ind.ID(), cp.ID())
	require.Equal(t, ind.Signature(), cp.Signature())

	g := cp.Main()[1].params[0].Primary()
	g.Randomize(rand.New(rand.NewSource(1)), true)
	require.NotEqual(t, ind.Signature(), cp.Signature())
}

func TestComplexityPrefersFewerActions(t *testing.T) {
	small := randomized(t, 9, nil, getItem(t))
	large := randomized(t, 9, nil, postItems(t), getItem(t))
	require.True(t, small.Complexity().Less(large.Complexity()))
	require.False(t, large.Complexity().Less(small.Complexity()))
}

func TestActionKindsValidate(t *testing.T) {
	_, err := NewAction(RESTKind{}, Identity{Scope: "GET", Operation: "/items/{id}"}, false)
	require.ErrorIs(t, err, ErrInvalidAction)
	_, err = NewAction(RESTKind{}, Identity{Scope: "FETCH", Operation: "/items"}, false)
	require.ErrorIs(t, err, ErrInvalidAction)

	create, err := NewAction(GraphQLKind{}, Identity{Scope: "Mutation", Operation: "createItem"}, false,
		mustParam(t, "itemId", LocationResponse, gene.NewInteger("itemId", 0, 10)))
	require.NoError(t, err)
	require.True(t, create.Creates())
	require.Equal(t, "item", create.Resource())
	require.Equal(t, "Mutation.createItem", create.ID())

	read, err := NewAction(RPCKind{}, Identity{Scope: "ItemService", Operation: "GetItem"}, false,
		mustParam(t, "itemId", LocationArgument, gene.NewInteger("itemId", 0, 10)))
	require.NoError(t, err)
	require.False(t, read.Creates())
	require.Len(t, read.References(), 1)
	require.Equal(t, "ItemService/GetItem", read.ID())
}

func TestEvaluatedIndividualIsImmutable(t *testing.T) {
	ind := randomized(t, 10, nil, getItem(t))
	results := []ActionResult{{ActionID: "GET /items/{id}", Status: StatusOK, Values: map[string]string{"k": "v"}}}
	fitness := FitnessVector{"t1": 0.5, "t2": 1}
	ev, err := NewEvaluatedIndividual(ind, results, fitness)
	require.NoError(t, err)

	results[0].Values["k"] = "changed"
	fitness["t1"] = 0
	ind.Main()[0].params[0].Primary().Randomize(rand.New(rand.NewSource(1)), true)

	require.Equal(t, "v", ev.Results()[0].Values["k"])
	require.Equal(t, 0.5, ev.Fitness()["t1"])
	require.NotEqual(t, ind.Signature(), ev.Signature())
	require.Equal(t, []string{"t2"}, ev.Fitness().Covered())

	_, err = NewEvaluatedIndividual(ind, nil, FitnessVector{"bad": 1.5})
	require.ErrorIs(t, err, ErrFitnessRange)
}
