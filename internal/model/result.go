package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrFitnessRange = errors.New("fitness value outside [0,1]")

type Status string

const (
	StatusOK      Status = "ok"
	StatusFault   Status = "fault"
	StatusTimeout Status = "timeout"
	StatusFailed  Status = "failed"
)

// ActionResult is the outcome of executing one action.
type ActionResult struct {
	ActionID   string            `json:"action_id"`
	Status     Status            `json:"status"`
	StatusCode int               `json:"status_code,omitempty"`
	Body       string            `json:"body,omitempty"`
	Values     map[string]string `json:"values,omitempty"`
}

func (r ActionResult) clone() ActionResult {
	out := r
	if r.Values != nil {
		out.Values = make(map[string]string, len(r.Values))
		for k, v := range r.Values {
			out.Values[k] = v
		}
	}
	return out
}

// Failure describes an execution that did not produce a usable result.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// FitnessVector maps target ids to heuristic values in [0,1]; 1 means
// covered.
type FitnessVector map[string]float64

func (f FitnessVector) Validate() error {
	for target, h := range f {
		if math.IsNaN(h) || h < 0 || h > 1 {
			return fmt.Errorf("%w: %s=%g", ErrFitnessRange, target, h)
		}
	}
	return nil
}

func (f FitnessVector) Clone() FitnessVector {
	out := make(FitnessVector, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Targets returns the target ids in sorted order.
func (f FitnessVector) Targets() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Covered returns the sorted ids of targets with fitness 1.
func (f FitnessVector) Covered() []string {
	var out []string
	for _, k := range f.Targets() {
		if f[k] == 1 {
			out = append(out, k)
		}
	}
	return out
}

// EvaluatedIndividual pairs an individual with its execution results and
// fitness. It is immutable: the constructor and every getter copy.
type EvaluatedIndividual struct {
	individual *Individual
	results    []ActionResult
	fitness    FitnessVector
	failure    *Failure
}

// NewEvaluatedIndividual takes a private copy of ind.
func NewEvaluatedIndividual(ind *Individual, results []ActionResult, fitness FitnessVector) (*EvaluatedIndividual, error) {
	if err := fitness.Validate(); err != nil {
		return nil, err
	}
	owned, err := ind.Copy()
	if err != nil {
		return nil, err
	}
	owned.id = ind.id
	owned.parentID = ind.parentID
	ev := &EvaluatedIndividual{individual: owned, fitness: fitness.Clone()}
	for _, r := range results {
		ev.results = append(ev.results, r.clone())
	}
	return ev, nil
}

// FailedEvaluation records an execution failure. Every target scores zero,
// which the archive treats as non-improving.
func FailedEvaluation(ind *Individual, failure Failure) (*EvaluatedIndividual, error) {
	ev, err := NewEvaluatedIndividual(ind, nil, FitnessVector{})
	if err != nil {
		return nil, err
	}
	ev.failure = &failure
	return ev, nil
}

// Individual returns a copy of the evaluated individual.
func (e *EvaluatedIndividual) Individual() (*Individual, error) {
	out, err := e.individual.Copy()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *EvaluatedIndividual) ID() string                  { return e.individual.id }
func (e *EvaluatedIndividual) Signature() string           { return e.individual.Signature() }
func (e *EvaluatedIndividual) Complexity() Complexity      { return e.individual.Complexity() }
func (e *EvaluatedIndividual) Fitness() FitnessVector      { return e.fitness.Clone() }
func (e *EvaluatedIndividual) Failed() bool                { return e.failure != nil }
func (e *EvaluatedIndividual) Incomplete() bool            { return e.individual.incomplete }
func (e *EvaluatedIndividual) Describe() string            { return e.individual.String() }
func (e *EvaluatedIndividual) FitnessFor(t string) float64 { return e.fitness[t] }

func (e *EvaluatedIndividual) Failure() (Failure, bool) {
	if e.failure == nil {
		return Failure{}, false
	}
	return *e.failure, true
}

func (e *EvaluatedIndividual) Results() []ActionResult {
	out := make([]ActionResult, len(e.results))
	for i, r := range e.results {
		out[i] = r.clone()
	}
	return out
}

// Record flattens the evaluated individual for persistence and export.
func (e *EvaluatedIndividual) Record() EvaluatedRecord {
	rec := EvaluatedRecord{
		Individual: e.individual.Record(),
		Fitness:    e.fitness.Clone(),
		Results:    e.Results(),
	}
	if e.failure != nil {
		f := *e.failure
		rec.Failure = &f
	}
	return rec
}
