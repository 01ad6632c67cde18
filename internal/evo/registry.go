package evo

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"mioforge/internal/gene"
	"mioforge/internal/sampler"
)

var ErrOperatorNotFound = errors.New("operator not found")

// OperatorEnv carries the run-scoped state operators are built from.
type OperatorEnv struct {
	Rand       *rand.Rand
	Sampler    *sampler.Sampler
	Control    gene.Control
	MaxActions int
}

type operatorFactory func(env OperatorEnv) Operator

var operatorFactories = map[string]operatorFactory{
	"value": func(env OperatorEnv) Operator {
		return &ValueMutation{Rand: env.Rand, Control: env.Control}
	},
	"add_action": func(env OperatorEnv) Operator {
		return &AddAction{Rand: env.Rand, Sampler: env.Sampler, MaxActions: env.MaxActions}
	},
	"remove_action": func(env OperatorEnv) Operator {
		return &RemoveAction{Rand: env.Rand}
	},
	"swap_actions": func(env OperatorEnv) Operator {
		return &SwapActions{Rand: env.Rand}
	},
	"rebuild_chain": func(env OperatorEnv) Operator {
		return &RebuildChain{Rand: env.Rand, Sampler: env.Sampler, MaxActions: env.MaxActions}
	},
}

// OperatorNames lists the built-in operators in sorted order.
func OperatorNames() []string {
	names := make([]string, 0, len(operatorFactories))
	for name := range operatorFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func NewOperator(name string, env OperatorEnv) (Operator, error) {
	factory, ok := operatorFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperatorNotFound, name)
	}
	if env.Rand == nil {
		return nil, fmt.Errorf("operator %s: random source is required", name)
	}
	if env.Sampler == nil && name != "value" && name != "remove_action" && name != "swap_actions" {
		return nil, fmt.Errorf("operator %s: sampler is required", name)
	}
	return factory(env), nil
}

// DefaultWeights favours value mutation, the only operator that can move a
// branch distance without changing the test's shape.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"value":         4,
		"add_action":    1,
		"remove_action": 1,
		"swap_actions":  0.5,
		"rebuild_chain": 1,
	}
}

// OperatorsFromWeights builds the weighted operator list in name order.
// Zero-weight entries are dropped.
func OperatorsFromWeights(weights map[string]float64, env OperatorEnv) ([]WeightedOperator, error) {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]WeightedOperator, 0, len(names))
	for _, name := range names {
		w := weights[name]
		if w < 0 {
			return nil, fmt.Errorf("operator %s: negative weight %v", name, w)
		}
		if w == 0 {
			continue
		}
		op, err := NewOperator(name, env)
		if err != nil {
			return nil, err
		}
		out = append(out, WeightedOperator{Operator: op, Weight: w})
	}
	return out, nil
}
