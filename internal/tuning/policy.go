package tuning

import (
	"fmt"
	"math"

	"mioforge/internal/model"
)

// AttemptPolicy decides how many mutation rounds a child receives before it
// is evaluated.
type AttemptPolicy interface {
	Name() string
	Attempts(baseAttempts int, progress float64, complexity model.Complexity) int
}

type FixedAttemptPolicy struct{}

func (FixedAttemptPolicy) Name() string { return "fixed" }

func (FixedAttemptPolicy) Attempts(baseAttempts int, _ float64, _ model.Complexity) int {
	if baseAttempts < 0 {
		return 0
	}
	return baseAttempts
}

// LinearDecayAttemptPolicy starts at baseAttempts and decays to MinAttempts
// as the budget is consumed, so late mutations stay local.
type LinearDecayAttemptPolicy struct {
	MinAttempts int
}

func (LinearDecayAttemptPolicy) Name() string { return "linear_decay" }

func (p LinearDecayAttemptPolicy) Attempts(baseAttempts int, progress float64, _ model.Complexity) int {
	if baseAttempts <= 0 {
		return 0
	}
	progress = clampUnit(progress)
	attempts := int(math.Round(float64(baseAttempts) * (1 - progress)))
	if attempts < p.MinAttempts {
		attempts = p.MinAttempts
	}
	if attempts < 0 {
		return 0
	}
	return attempts
}

// SizeScaledAttemptPolicy grows the attempt count with the number of genes so
// large individuals are not under-mutated.
type SizeScaledAttemptPolicy struct {
	Scale       float64
	MinAttempts int
	MaxAttempts int
}

func (SizeScaledAttemptPolicy) Name() string { return "size_scaled" }

func (p SizeScaledAttemptPolicy) Attempts(baseAttempts int, _ float64, complexity model.Complexity) int {
	if baseAttempts <= 0 {
		return 0
	}
	scale := p.Scale
	if scale <= 0 {
		scale = 1.0
	}
	attempts := int(float64(baseAttempts) * scale * (1.0 + float64(complexity.Size)/50.0))
	if attempts < p.MinAttempts {
		attempts = p.MinAttempts
	}
	if p.MaxAttempts > 0 && attempts > p.MaxAttempts {
		attempts = p.MaxAttempts
	}
	return attempts
}

func AttemptPolicyFromConfig(name string, param float64) (AttemptPolicy, error) {
	switch NormalizeAttemptPolicyName(name) {
	case "fixed":
		return FixedAttemptPolicy{}, nil
	case "linear_decay":
		min := int(param)
		if min < 1 {
			min = 1
		}
		return LinearDecayAttemptPolicy{MinAttempts: min}, nil
	case "size_scaled":
		scale := param
		if scale <= 0 {
			scale = 1.0
		}
		return SizeScaledAttemptPolicy{Scale: scale, MinAttempts: 1, MaxAttempts: 10}, nil
	default:
		return nil, fmt.Errorf("unsupported mutation attempt policy: %s", name)
	}
}

func NormalizeAttemptPolicyName(name string) string {
	switch name {
	case "", "fixed", "const":
		return "fixed"
	case "linear_decay", "decay":
		return "linear_decay"
	case "size_scaled", "size":
		return "size_scaled"
	default:
		return name
	}
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
