package tuning

import (
	"fmt"
	"time"
)

// Budget is the stopping criterion the search loop polls once per
// iteration. It owns no timers.
type Budget interface {
	// Progress is the consumed fraction in [0,1] after evaluations.
	Progress(evaluations int) float64
	Exhausted(evaluations int) bool
	String() string
}

// EvaluationBudget stops after Max fitness evaluations.
type EvaluationBudget struct {
	Max int
}

func (b EvaluationBudget) Progress(evaluations int) float64 {
	if b.Max <= 0 {
		return 1
	}
	return clampUnit(float64(evaluations) / float64(b.Max))
}

func (b EvaluationBudget) Exhausted(evaluations int) bool { return evaluations >= b.Max }
func (b EvaluationBudget) String() string                 { return fmt.Sprintf("%d evaluations", b.Max) }

// TimeBudget stops once Limit has elapsed since Start according to Now.
type TimeBudget struct {
	Start time.Time
	Limit time.Duration
	Now   func() time.Time
}

func NewTimeBudget(limit time.Duration) TimeBudget {
	return TimeBudget{Start: time.Now(), Limit: limit, Now: time.Now}
}

func (b TimeBudget) elapsed() time.Duration {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	return now().Sub(b.Start)
}

func (b TimeBudget) Progress(int) float64 {
	if b.Limit <= 0 {
		return 1
	}
	return clampUnit(float64(b.elapsed()) / float64(b.Limit))
}

func (b TimeBudget) Exhausted(int) bool { return b.elapsed() >= b.Limit }
func (b TimeBudget) String() string     { return b.Limit.String() }

// FirstOf combines budgets; it is exhausted as soon as any member is and
// reports the furthest progress.
type FirstOf []Budget

func (f FirstOf) Progress(evaluations int) float64 {
	progress := 0.0
	for _, b := range f {
		progress = max(progress, b.Progress(evaluations))
	}
	return progress
}

func (f FirstOf) Exhausted(evaluations int) bool {
	for _, b := range f {
		if b.Exhausted(evaluations) {
			return true
		}
	}
	return false
}

func (f FirstOf) String() string {
	out := ""
	for i, b := range f {
		if i > 0 {
			out += " or "
		}
		out += b.String()
	}
	return out
}
