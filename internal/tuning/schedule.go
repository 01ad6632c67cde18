// Package tuning holds the budget-driven parameter control of the search:
// the phase schedule, budgets and mutation attempt policies.
package tuning

import (
	"errors"
	"fmt"
)

type Phase string

const (
	PhaseExploration Phase = "exploration"
	PhaseFocused     Phase = "focused"
)

var ErrInvalidSchedule = errors.New("invalid phase schedule")

// Schedule maps the consumed budget fraction to search parameters. During
// exploration the sampling probability and the population cap move linearly
// from their initial to their focused values; from FocusStart on they stay
// at the focused values.
type Schedule struct {
	// FocusStart is the budget fraction at which the focused phase begins.
	FocusStart               float64 `json:"focus_start" yaml:"focus_start" toml:"focus_start"`
	SampleProbability        float64 `json:"sample_probability" yaml:"sample_probability" toml:"sample_probability"`
	FocusedSampleProbability float64 `json:"focused_sample_probability" yaml:"focused_sample_probability" toml:"focused_sample_probability"`
	PopulationSize           int     `json:"population_size" yaml:"population_size" toml:"population_size"`
	FocusedPopulationSize    int     `json:"focused_population_size" yaml:"focused_population_size" toml:"focused_population_size"`
}

func DefaultSchedule() Schedule {
	return Schedule{
		FocusStart:               0.5,
		SampleProbability:        0.5,
		FocusedSampleProbability: 0,
		PopulationSize:           10,
		FocusedPopulationSize:    1,
	}
}

func (s Schedule) Validate() error {
	switch {
	case s.FocusStart < 0 || s.FocusStart > 1:
		return fmt.Errorf("%w: focus start %g not in [0,1]", ErrInvalidSchedule, s.FocusStart)
	case s.SampleProbability < 0 || s.SampleProbability > 1:
		return fmt.Errorf("%w: sample probability %g not in [0,1]", ErrInvalidSchedule, s.SampleProbability)
	case s.FocusedSampleProbability < 0 || s.FocusedSampleProbability > 1:
		return fmt.Errorf("%w: focused sample probability %g not in [0,1]", ErrInvalidSchedule, s.FocusedSampleProbability)
	case s.PopulationSize < 1 || s.FocusedPopulationSize < 1:
		return fmt.Errorf("%w: population sizes must be >= 1", ErrInvalidSchedule)
	case s.FocusedPopulationSize > s.PopulationSize:
		return fmt.Errorf("%w: focused population %d exceeds population %d", ErrInvalidSchedule, s.FocusedPopulationSize, s.PopulationSize)
	}
	return nil
}

func (s Schedule) PhaseAt(progress float64) Phase {
	if clampUnit(progress) >= s.FocusStart {
		return PhaseFocused
	}
	return PhaseExploration
}

// SampleProbabilityAt is the chance of sampling a fresh individual instead of
// mutating an archive member.
func (s Schedule) SampleProbabilityAt(progress float64) float64 {
	return s.SampleProbability + (s.FocusedSampleProbability-s.SampleProbability)*s.ramp(progress)
}

// PopulationCapAt is the per-target population limit.
func (s Schedule) PopulationCapAt(progress float64) int {
	span := float64(s.FocusedPopulationSize - s.PopulationSize)
	return s.PopulationSize + int(span*s.ramp(progress))
}

func (s Schedule) ramp(progress float64) float64 {
	progress = clampUnit(progress)
	if s.FocusStart <= 0 || progress >= s.FocusStart {
		return 1
	}
	return progress / s.FocusStart
}
