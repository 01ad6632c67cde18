// Package archive keeps, per coverage target, a bounded population of the
// best evaluated individuals found so far.
package archive

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"mioforge/internal/model"
)

const (
	DefaultMaxPopulationSize = 10
	DefaultResampleThreshold = 100
)

var (
	ErrNoParent      = errors.New("archive holds no uncovered target with members")
	ErrInvalidConfig = errors.New("invalid archive config")
)

type Config struct {
	MaxPopulationSize int
	// ResampleThreshold is the number of non-improving mutations of one
	// target after which its next selection asks for a fresh sample.
	ResampleThreshold int
	Logger            *zap.Logger
}

// Outcome reports what one AddIfImproving call changed.
type Outcome struct {
	// Added lists the targets whose population took the individual.
	Added        []string
	NewlyCovered []string
}

func (o Outcome) Improved() bool { return len(o.Added) > 0 }

// Selection is the result of SampleParent. When Resample is set the target
// has stagnated and Parent is nil: the caller should sample a fresh
// individual instead of mutating.
type Selection struct {
	Target   string
	Parent   *model.Individual
	Resample bool
}

type member struct {
	ev  *model.EvaluatedIndividual
	h   float64
	seq int
}

type population struct {
	target       string
	members      []member
	covered      bool
	stale        int
	lastImproved int
}

// Archive is owned by the search loop and is not safe for concurrent use.
type Archive struct {
	maxSize   int
	limit     int
	threshold int
	pops      map[string]*population
	order     []string
	covered   map[string]struct{}
	tick      int
	seq       int
	picks     int
	logger    *zap.Logger
}

func New(cfg Config) (*Archive, error) {
	if cfg.MaxPopulationSize < 0 || cfg.ResampleThreshold < 0 {
		return nil, fmt.Errorf("%w: negative bounds (%d, %d)", ErrInvalidConfig, cfg.MaxPopulationSize, cfg.ResampleThreshold)
	}
	if cfg.MaxPopulationSize == 0 {
		cfg.MaxPopulationSize = DefaultMaxPopulationSize
	}
	if cfg.ResampleThreshold == 0 {
		cfg.ResampleThreshold = DefaultResampleThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Archive{
		maxSize:   cfg.MaxPopulationSize,
		limit:     cfg.MaxPopulationSize,
		threshold: cfg.ResampleThreshold,
		pops:      make(map[string]*population),
		covered:   make(map[string]struct{}),
		logger:    cfg.Logger,
	}, nil
}

func (a *Archive) PopulationLimit() int { return a.limit }

// MaxPopulationSize is the configured cap. PopulationLimit never exceeds it.
func (a *Archive) MaxPopulationSize() int { return a.maxSize }

// Targets is the number of targets seen so far.
func (a *Archive) Targets() int { return len(a.order) }

// Len returns the population size of target.
func (a *Archive) Len(target string) int {
	if p, ok := a.pops[target]; ok {
		return len(p.members)
	}
	return 0
}

// CoveredTargets returns the sorted ids of every target ever covered. The set
// only grows.
func (a *Archive) CoveredTargets() []string {
	out := make([]string, 0, len(a.covered))
	for t := range a.covered {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (a *Archive) IsCovered(target string) bool {
	_, ok := a.covered[target]
	return ok
}

func (a *Archive) population(target string) *population {
	p, ok := a.pops[target]
	if !ok {
		p = &population{target: target, lastImproved: -1}
		a.pops[target] = p
		a.order = append(a.order, target)
	}
	return p
}

// AddIfImproving offers ev to the population of every target it scores on.
// A failed evaluation is never improving. A score of 1 collapses the
// population to that single individual; a covered population only accepts a
// simpler covering individual afterwards.
func (a *Archive) AddIfImproving(ev *model.EvaluatedIndividual) Outcome {
	a.tick++
	var out Outcome
	if ev.Failed() {
		return out
	}
	fitness := ev.Fitness()
	for _, target := range fitness.Targets() {
		p := a.population(target)
		h := fitness[target]
		if h <= 0 {
			continue
		}
		if a.offer(p, ev, h) {
			out.Added = append(out.Added, target)
			p.stale = 0
			p.lastImproved = a.tick
		}
		if h == 1 {
			if _, seen := a.covered[target]; !seen {
				a.covered[target] = struct{}{}
				out.NewlyCovered = append(out.NewlyCovered, target)
				a.logger.Debug("target covered", zap.String("target", target), zap.String("individual", ev.ID()))
			}
		}
	}
	return out
}

func (a *Archive) offer(p *population, ev *model.EvaluatedIndividual, h float64) bool {
	a.seq++
	candidate := member{ev: ev, h: h, seq: a.seq}
	if p.covered {
		if h < 1 || !ev.Complexity().Less(p.members[0].ev.Complexity()) {
			return false
		}
		p.members[0] = candidate
		return true
	}
	if h == 1 {
		p.members = []member{candidate}
		p.covered = true
		return true
	}
	p.members = append(p.members, candidate)
	evicted := a.shrink(p, a.limit)
	for _, m := range evicted {
		if m.seq == candidate.seq {
			return false
		}
	}
	return true
}

// shrink evicts the worst members until at most n remain and returns them.
func (a *Archive) shrink(p *population, n int) []member {
	var evicted []member
	for len(p.members) > n {
		worst := 0
		for i := 1; i < len(p.members); i++ {
			if worse(p.members[i], p.members[worst]) {
				worst = i
			}
		}
		evicted = append(evicted, p.members[worst])
		p.members = append(p.members[:worst:worst], p.members[worst+1:]...)
	}
	return evicted
}

// worse orders members by fitness, then by complexity; the newer of two
// otherwise equal members is worse.
func worse(x, y member) bool {
	if x.h != y.h {
		return x.h < y.h
	}
	cx, cy := x.ev.Complexity(), y.ev.Complexity()
	if cx != cy {
		return cy.Less(cx)
	}
	return x.seq > y.seq
}

// SetPopulationLimit changes the per-target cap, clamped to [1,
// MaxPopulationSize], and shrinks populations that exceed it.
func (a *Archive) SetPopulationLimit(n int) {
	n = max(1, min(n, a.maxSize))
	if n == a.limit {
		return
	}
	a.limit = n
	for _, target := range a.order {
		a.shrink(a.pops[target], n)
	}
}

// RecordMutation updates the stagnation counter of target after a mutated
// child of one of its members was evaluated.
func (a *Archive) RecordMutation(target string, improved bool) {
	p, ok := a.pops[target]
	if !ok {
		return
	}
	if improved {
		p.stale = 0
		return
	}
	p.stale++
}

// SampleParent picks an uncovered target and returns a copy of one of its
// members. Calls alternate between the least recently improved target and a
// uniformly drawn one.
func (a *Archive) SampleParent(rng *rand.Rand) (Selection, error) {
	var candidates []*population
	for _, target := range a.order {
		p := a.pops[target]
		if !p.covered && len(p.members) > 0 {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return Selection{}, ErrNoParent
	}
	a.picks++
	var p *population
	if a.picks%2 == 1 {
		p = candidates[0]
		for _, c := range candidates[1:] {
			if c.lastImproved < p.lastImproved {
				p = c
			}
		}
	} else {
		p = candidates[rng.Intn(len(candidates))]
	}
	if p.stale >= a.threshold {
		p.stale = 0
		a.logger.Debug("target stagnated, resampling", zap.String("target", p.target))
		return Selection{Target: p.target, Resample: true}, nil
	}
	m := p.members[rng.Intn(len(p.members))]
	parent, err := m.ev.Individual()
	if err != nil {
		return Selection{}, fmt.Errorf("copy parent for %s: %w", p.target, err)
	}
	return Selection{Target: p.target, Parent: parent}, nil
}

// Best returns the highest scoring member of target.
func (a *Archive) Best(target string) (*model.EvaluatedIndividual, float64, bool) {
	p, ok := a.pops[target]
	if !ok || len(p.members) == 0 {
		return nil, 0, false
	}
	best := p.members[0]
	for _, m := range p.members[1:] {
		if worse(best, m) {
			best = m
		}
	}
	return best.ev, best.h, true
}

// Fitness returns the scores held for target, best first.
func (a *Archive) Fitness(target string) []float64 {
	p, ok := a.pops[target]
	if !ok {
		return nil
	}
	members := sortedMembers(p)
	out := make([]float64, len(members))
	for i, m := range members {
		out[i] = m.h
	}
	return out
}

// Snapshot returns a read-only flat view of every population, targets in
// sorted order and members best first.
func (a *Archive) Snapshot(runID string) model.ArchiveSnapshot {
	snap := model.ArchiveSnapshot{
		VersionedRecord: model.VersionedRecord{SchemaVersion: 1, CodecVersion: 1},
		RunID:           runID,
		Targets:         len(a.order),
		Covered:         a.CoveredTargets(),
	}
	targets := append([]string(nil), a.order...)
	sort.Strings(targets)
	for _, target := range targets {
		p := a.pops[target]
		for _, m := range sortedMembers(p) {
			snap.Entries = append(snap.Entries, model.ArchiveEntry{
				Target:  target,
				Fitness: m.h,
				Covered: p.covered,
				Member:  m.ev.Record(),
			})
		}
	}
	return snap
}

func sortedMembers(p *population) []member {
	out := append([]member(nil), p.members...)
	sort.SliceStable(out, func(i, j int) bool { return worse(out[j], out[i]) })
	return out
}
