package evo

import (
	"context"
	"errors"

	"mioforge/internal/model"
)

var ErrNoMutationChoice = errors.New("no mutation choice available")

// Operator returns a mutated copy of ind. The input individual is never
// modified, so an archive member can be handed in directly. An operator that
// finds nothing to change returns ErrNoMutationChoice.
type Operator interface {
	Name() string
	Apply(ctx context.Context, ind *model.Individual) (*model.Individual, error)
}

// ContextualOperator can declare whether it is applicable to an individual.
// The Mutator uses this to avoid selecting operators that cannot act.
type ContextualOperator interface {
	Operator
	Applicable(ind *model.Individual) bool
}

// StructuralOperator marks operators that add, remove or reorder actions.
// Their selection weight decays as the budget is consumed.
type StructuralOperator interface {
	Operator
	Structural() bool
}

func isStructural(op Operator) bool {
	s, ok := op.(StructuralOperator)
	return ok && s.Structural()
}

func applicable(op Operator, ind *model.Individual) bool {
	c, ok := op.(ContextualOperator)
	return !ok || c.Applicable(ind)
}
