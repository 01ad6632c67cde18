// Package sampler builds fresh individuals from an action catalogue,
// prepending resource creation chains where actions need existing data.
package sampler

import (
	"errors"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"mioforge/internal/model"
	"mioforge/internal/resource"
)

var (
	ErrEmptyCatalogue = errors.New("sampler catalogue has no main actions")
	ErrNilRand        = errors.New("sampler requires a random source")
	ErrInvalidConfig  = errors.New("invalid sampler config")
)

const (
	DefaultMaxMainActions = 2
	DefaultMaxActions     = 8
)

type Config struct {
	Catalogue []*model.Action
	// Resources is built from Catalogue when nil.
	Resources *resource.Manager
	Rand      *rand.Rand
	// MaxMainActions bounds how many targeted actions (each with its chain)
	// one random individual holds.
	MaxMainActions int
	// MaxActions bounds the main group length, chains included. A single
	// chain longer than this is still sampled whole.
	MaxActions int
	// Seeds are injected verbatim, once each, before random sampling.
	Seeds []*model.Individual
	// IDs names sampled individuals and their descendants. Ids are random
	// when nil.
	IDs    *model.IDSource
	Logger *zap.Logger
}

type Sampler struct {
	rng            *rand.Rand
	resources      *resource.Manager
	setup          []*model.Action
	targets        []*model.Action
	maxMainActions int
	maxActions     int
	seeds          []*model.Individual
	nextSeed       int
	ids            *model.IDSource
	logger         *zap.Logger
}

func New(cfg Config) (*Sampler, error) {
	if cfg.Rand == nil {
		return nil, ErrNilRand
	}
	if cfg.MaxMainActions < 0 || cfg.MaxActions < 0 {
		return nil, fmt.Errorf("%w: negative action bounds (%d, %d)", ErrInvalidConfig, cfg.MaxMainActions, cfg.MaxActions)
	}
	if cfg.MaxMainActions == 0 {
		cfg.MaxMainActions = DefaultMaxMainActions
	}
	if cfg.MaxActions == 0 {
		cfg.MaxActions = DefaultMaxActions
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Sampler{
		rng:            cfg.Rand,
		maxMainActions: cfg.MaxMainActions,
		maxActions:     cfg.MaxActions,
		ids:            cfg.IDs,
		logger:         cfg.Logger,
	}
	for _, a := range cfg.Catalogue {
		if a.Setup() {
			s.setup = append(s.setup, a)
		} else {
			s.targets = append(s.targets, a)
		}
	}
	if len(s.targets) == 0 {
		return nil, ErrEmptyCatalogue
	}
	s.resources = cfg.Resources
	if s.resources == nil {
		m, err := resource.NewManager(resource.Config{Catalogue: cfg.Catalogue, Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		s.resources = m
	}
	for i, seed := range cfg.Seeds {
		if err := seed.Validate(); err != nil {
			return nil, fmt.Errorf("%w: seed %d: %v", ErrInvalidConfig, i, err)
		}
		owned, err := seed.Copy()
		if err != nil {
			return nil, fmt.Errorf("%w: seed %d: %v", ErrInvalidConfig, i, err)
		}
		owned.SetOperation("seed")
		owned.AssignIDs(cfg.IDs)
		s.seeds = append(s.seeds, owned)
	}
	return s, nil
}

func (s *Sampler) Resources() *resource.Manager { return s.resources }
func (s *Sampler) PendingSeeds() int            { return len(s.seeds) - s.nextSeed }

// Targets lists the ids of the actions that can be sampled as main actions.
func (s *Sampler) Targets() []string {
	out := make([]string, len(s.targets))
	for i, a := range s.targets {
		out[i] = a.ID()
	}
	return out
}

// Sample returns the next seed individual while any remain, then random
// individuals.
func (s *Sampler) Sample() (*model.Individual, error) {
	if s.nextSeed < len(s.seeds) {
		seed := s.seeds[s.nextSeed]
		s.nextSeed++
		return seed.Copy()
	}
	return s.SampleRandomIndividual()
}

// SampleRandomIndividual picks between one and MaxMainActions targets and
// samples each with its creation chain.
func (s *Sampler) SampleRandomIndividual() (*model.Individual, error) {
	n := 1 + s.rng.Intn(s.maxMainActions)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, s.RandomTargetID())
	}
	ind, err := s.build(ids)
	if err != nil {
		return nil, err
	}
	ind.SetOperation("sample")
	return ind, nil
}

// SampleFor samples an individual whose last main action is the given
// catalogue action.
func (s *Sampler) SampleFor(id string) (*model.Individual, error) {
	ind, err := s.build([]string{id})
	if err != nil {
		return nil, err
	}
	ind.SetOperation("sample")
	return ind, nil
}

func (s *Sampler) RandomTargetID() string {
	return s.targets[s.rng.Intn(len(s.targets))].ID()
}

// Chain resolves and randomizes the creation chain ending in id. An
// incomplete preferred chain is retried against the alternatives.
func (s *Sampler) Chain(id string) (resource.Chain, error) {
	chain, err := s.resources.CreationChainFor(id)
	if err != nil {
		return resource.Chain{}, err
	}
	if !chain.Complete {
		alternatives, err := s.resources.Alternatives(id)
		if err != nil {
			return resource.Chain{}, err
		}
		for _, alt := range alternatives {
			if alt.Complete {
				chain = alt
				break
			}
		}
	}
	for _, a := range chain.Actions {
		a.Randomize(s.rng)
	}
	return chain, nil
}

// Alternatives returns every distinct creation chain ending in id, each with
// freshly randomized actions.
func (s *Sampler) Alternatives(id string) ([]resource.Chain, error) {
	chains, err := s.resources.Alternatives(id)
	if err != nil {
		return nil, err
	}
	for _, c := range chains {
		for _, a := range c.Actions {
			a.Randomize(s.rng)
		}
	}
	return chains, nil
}

func (s *Sampler) build(ids []string) (*model.Individual, error) {
	var (
		main    []*model.Action
		pending []resource.Chain
	)
	for _, id := range ids {
		chain, err := s.Chain(id)
		if err != nil {
			return nil, err
		}
		if len(main) > 0 && len(main)+len(chain.Actions) > s.maxActions {
			break
		}
		pending = append(pending, chain)
		main = append(main, chain.Actions...)
	}
	setup := make([]*model.Action, len(s.setup))
	for i, template := range s.setup {
		setup[i] = template.Copy()
		setup[i].Randomize(s.rng)
	}
	ind, err := model.NewIndividual(setup, main)
	if err != nil {
		return nil, err
	}
	ind.AssignIDs(s.ids)
	for _, chain := range pending {
		if err := BindChain(ind, chain); err != nil {
			return nil, err
		}
		if !chain.Complete {
			ind.MarkIncomplete(chain.Reason)
		}
	}
	if failed := ind.SyncBindings(); failed > 0 {
		s.logger.Debug("bindings could not take source values", zap.Int("failed", failed))
	}
	return ind, nil
}

// BindChain binds the links of a chain whose actions are already part of
// ind.
func BindChain(ind *model.Individual, chain resource.Chain) error {
	for _, l := range chain.Links {
		producer, consumer := chain.Actions[l.Producer], chain.Actions[l.Consumer]
		out, ok := producer.Param(l.Output)
		if !ok {
			return fmt.Errorf("%w: %s has no output %s", resource.ErrUnknownAction, producer.ID(), l.Output)
		}
		in, ok := consumer.Param(l.Input)
		if !ok {
			return fmt.Errorf("%w: %s has no input %s", resource.ErrUnknownAction, consumer.ID(), l.Input)
		}
		if err := ind.Bind(in.Primary(), out.Primary()); err != nil {
			return err
		}
	}
	return nil
}
