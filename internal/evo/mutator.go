package evo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"mioforge/internal/model"
	"mioforge/internal/tuning"
)

var ErrInvalidMutatorConfig = errors.New("invalid mutator config")

const (
	DefaultAdaptiveWindow = 100
	// adaptiveDeltaLimit bounds how far the observed improvement rate can move
	// an operator weight away from its configured value.
	adaptiveDeltaLimit = 0.2
	// adaptiveMinSamples is the number of outcomes an operator needs before
	// its weight is adjusted.
	adaptiveMinSamples = 10
)

type WeightedOperator struct {
	Operator Operator
	Weight   float64
}

type MutatorConfig struct {
	Operators []WeightedOperator
	Rand      *rand.Rand
	// AttemptPolicy decides how many operators are stacked on one child.
	// Nil means tuning.FixedAttemptPolicy.
	AttemptPolicy tuning.AttemptPolicy
	BaseAttempts  int
	// StructuralDecay in [0,1] scales structural weights by
	// (1 - progress*StructuralDecay).
	StructuralDecay float64
	Adaptive        bool
	Window          int
	Logger          *zap.Logger
}

// window is a ring of recent improvement outcomes.
type window struct {
	outcomes []bool
	next     int
	full     bool
}

func (w *window) push(improved bool) {
	w.outcomes[w.next] = improved
	w.next = (w.next + 1) % len(w.outcomes)
	if w.next == 0 {
		w.full = true
	}
}

func (w *window) samples() int {
	if w.full {
		return len(w.outcomes)
	}
	return w.next
}

func (w *window) rate() float64 {
	n := w.samples()
	if n == 0 {
		return 0
	}
	hits := 0
	for _, ok := range w.outcomes[:n] {
		if ok {
			hits++
		}
	}
	return float64(hits) / float64(n)
}

// Mutator picks weighted operators and applies them to a copy of a parent.
type Mutator struct {
	cfg     MutatorConfig
	windows map[string]*window
}

func NewMutator(cfg MutatorConfig) (*Mutator, error) {
	if cfg.Rand == nil {
		return nil, fmt.Errorf("%w: random source is required", ErrInvalidMutatorConfig)
	}
	if len(cfg.Operators) == 0 {
		return nil, fmt.Errorf("%w: at least one operator is required", ErrInvalidMutatorConfig)
	}
	total := 0.0
	for _, item := range cfg.Operators {
		if item.Operator == nil {
			return nil, fmt.Errorf("%w: nil operator", ErrInvalidMutatorConfig)
		}
		if item.Weight < 0 {
			return nil, fmt.Errorf("%w: negative weight for %s", ErrInvalidMutatorConfig, item.Operator.Name())
		}
		total += item.Weight
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: operator weights sum to zero", ErrInvalidMutatorConfig)
	}
	if cfg.StructuralDecay < 0 || cfg.StructuralDecay > 1 {
		return nil, fmt.Errorf("%w: structural decay %v outside [0,1]", ErrInvalidMutatorConfig, cfg.StructuralDecay)
	}
	if cfg.BaseAttempts < 0 {
		return nil, fmt.Errorf("%w: negative base attempts", ErrInvalidMutatorConfig)
	}
	if cfg.BaseAttempts == 0 {
		cfg.BaseAttempts = 1
	}
	if cfg.AttemptPolicy == nil {
		cfg.AttemptPolicy = tuning.FixedAttemptPolicy{}
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultAdaptiveWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	m := &Mutator{cfg: cfg, windows: make(map[string]*window, len(cfg.Operators))}
	for _, item := range cfg.Operators {
		m.windows[item.Operator.Name()] = &window{outcomes: make([]bool, cfg.Window)}
	}
	return m, nil
}

// Mutate copies parent and stacks the policy's number of operators on the
// copy. Operators without a valid choice are skipped; when none applies the
// plain copy is returned. The names of the applied operators are returned
// in order.
func (m *Mutator) Mutate(ctx context.Context, parent *model.Individual, progress float64) (*model.Individual, []string, error) {
	child, err := parent.Copy()
	if err != nil {
		return nil, nil, err
	}
	attempts := m.cfg.AttemptPolicy.Attempts(m.cfg.BaseAttempts, progress, parent.Complexity())
	if attempts < 1 {
		attempts = 1
	}
	var applied []string
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		op := m.choose(child, progress)
		if op == nil {
			break
		}
		next, err := op.Apply(ctx, child)
		if errors.Is(err, ErrNoMutationChoice) {
			m.cfg.Logger.Debug("mutation skipped", zap.String("operator", op.Name()))
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op.Name(), err)
		}
		child = next
		applied = append(applied, op.Name())
	}
	operation := "copy"
	if len(applied) > 0 {
		operation = strings.Join(applied, "+")
	}
	child.SetLineage(parent.ID(), operation)
	return child, applied, nil
}

// Record feeds the improvement outcome of a child back into the adaptive
// weights of the operators that produced it.
func (m *Mutator) Record(operators []string, improved bool) {
	seen := make(map[string]struct{}, len(operators))
	for _, name := range operators {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if w, ok := m.windows[name]; ok {
			w.push(improved)
		}
	}
}

// Weights returns the effective weight of every operator at progress.
func (m *Mutator) Weights(progress float64) map[string]float64 {
	out := make(map[string]float64, len(m.cfg.Operators))
	mean := m.meanRate()
	for _, item := range m.cfg.Operators {
		out[item.Operator.Name()] = m.weight(item, progress, mean)
	}
	return out
}

func (m *Mutator) choose(ind *model.Individual, progress float64) Operator {
	mean := m.meanRate()
	weights := make([]float64, len(m.cfg.Operators))
	total := 0.0
	for i, item := range m.cfg.Operators {
		if !applicable(item.Operator, ind) {
			continue
		}
		weights[i] = m.weight(item, progress, mean)
		total += weights[i]
	}
	if total <= 0 {
		return nil
	}
	pick := m.cfg.Rand.Float64() * total
	acc := 0.0
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		acc += w
		last = i
		if pick <= acc {
			return m.cfg.Operators[i].Operator
		}
	}
	return m.cfg.Operators[last].Operator
}

func (m *Mutator) weight(item WeightedOperator, progress float64, mean float64) float64 {
	w := item.Weight
	if isStructural(item.Operator) {
		w *= 1 - clamp(progress, 0, 1)*m.cfg.StructuralDecay
	}
	if !m.cfg.Adaptive || mean <= 0 {
		return w
	}
	win := m.windows[item.Operator.Name()]
	if win.samples() < adaptiveMinSamples {
		return w
	}
	delta := clamp((win.rate()-mean)/mean, -1, 1) * adaptiveDeltaLimit
	return w * (1 + delta)
}

// meanRate is the average improvement rate of operators with enough samples.
func (m *Mutator) meanRate() float64 {
	sum, n := 0.0, 0
	for _, item := range m.cfg.Operators {
		win := m.windows[item.Operator.Name()]
		if win.samples() < adaptiveMinSamples {
			continue
		}
		sum += win.rate()
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
