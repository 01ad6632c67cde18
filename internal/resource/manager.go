// Package resource infers which actions create the data other actions need
// and builds ordered creation chains from those relations.
package resource

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"mioforge/internal/model"
)

var (
	ErrUnknownAction = errors.New("action not in catalogue")
	ErrEmptyCatalog  = errors.New("resource manager needs a catalogue")
)

const (
	DefaultThreshold     = 0.5
	DefaultMaxDepth      = 4
	DefaultMaxCandidates = 4
	DefaultCacheSize     = 256
)

type Config struct {
	Catalogue []*model.Action
	Matcher   Matcher
	// Threshold is the minimum matcher score for a dependency edge.
	Threshold float64
	// MaxDepth bounds how many producer levels a chain may stack.
	MaxDepth int
	// MaxCandidates bounds the producers tried per reference.
	MaxCandidates int
	CacheSize     int
	Logger        *zap.Logger
}

// Edge states that Producer's Output can feed Consumer's Input.
type Edge struct {
	Producer string  `json:"producer"`
	Output   string  `json:"output"`
	Consumer string  `json:"consumer"`
	Input    string  `json:"input"`
	Score    float64 `json:"score"`

	producer int
}

// Link binds Input of the action at Consumer to Output of the action at
// Producer. Positions index Chain.Actions.
type Link struct {
	Producer int    `json:"producer"`
	Output   string `json:"output"`
	Consumer int    `json:"consumer"`
	Input    string `json:"input"`
}

// Chain is an ordered action sequence ending in the requested target. Actions
// are fresh, unrandomized copies of catalogue templates.
type Chain struct {
	Actions  []*model.Action
	Links    []Link
	Complete bool
	Reason   string
}

type plan struct {
	steps    []int
	links    []Link
	complete bool
	reasons  []string
}

// Manager owns the dependency graph of one catalogue. It is not safe for
// concurrent use; the search loop is single-threaded.
type Manager struct {
	catalogue     []*model.Action
	index         map[string]int
	matcher       Matcher
	maxDepth      int
	maxCandidates int
	edges         map[int]map[string][]Edge
	cache         *lru.Cache[string, plan]
	logger        *zap.Logger
}

func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Catalogue) == 0 {
		return nil, ErrEmptyCatalog
	}
	if cfg.Matcher == nil {
		cfg.Matcher = NameTypeMatcher{}
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cache, err := lru.New[string, plan](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("chain cache: %w", err)
	}
	m := &Manager{
		catalogue:     cfg.Catalogue,
		index:         make(map[string]int, len(cfg.Catalogue)),
		matcher:       cfg.Matcher,
		maxDepth:      cfg.MaxDepth,
		maxCandidates: cfg.MaxCandidates,
		edges:         make(map[int]map[string][]Edge),
		cache:         cache,
		logger:        cfg.Logger,
	}
	for i, a := range cfg.Catalogue {
		if _, dup := m.index[a.ID()]; dup {
			return nil, fmt.Errorf("duplicate catalogue action %s", a.ID())
		}
		m.index[a.ID()] = i
	}
	m.buildEdges(cfg.Threshold)
	return m, nil
}

func (m *Manager) buildEdges(threshold float64) {
	for ci, consumer := range m.catalogue {
		for _, ref := range consumer.References() {
			var found []Edge
			for pi, producer := range m.catalogue {
				if pi == ci || !producer.Creates() {
					continue
				}
				for _, out := range producer.Produced() {
					score := m.matcher.Score(producer, out, consumer, ref)
					if score < threshold {
						continue
					}
					found = append(found, Edge{
						Producer: producer.ID(),
						Output:   out.Name(),
						Consumer: consumer.ID(),
						Input:    ref.Name(),
						Score:    score,
						producer: pi,
					})
				}
			}
			// Stable: equal scores keep declaration order.
			sort.SliceStable(found, func(i, j int) bool { return found[i].Score > found[j].Score })
			if m.edges[ci] == nil {
				m.edges[ci] = make(map[string][]Edge)
			}
			m.edges[ci][ref.Name()] = found
			m.logger.Debug("resource references resolved",
				zap.String("consumer", consumer.ID()),
				zap.String("input", ref.Name()),
				zap.Int("candidates", len(found)),
			)
		}
	}
}

// Edges lists every inferred dependency in catalogue order.
func (m *Manager) Edges() []Edge {
	var out []Edge
	for ci, consumer := range m.catalogue {
		for _, ref := range consumer.References() {
			out = append(out, m.edges[ci][ref.Name()]...)
		}
	}
	return out
}

// Template returns the catalogue action with the given id.
func (m *Manager) Template(id string) (*model.Action, bool) {
	i, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return m.catalogue[i], true
}

// NeedsChain reports whether the action references resources that some
// other action has to create first.
func (m *Manager) NeedsChain(id string) bool {
	i, ok := m.index[id]
	return ok && len(m.catalogue[i].References()) > 0
}

// CreationChainFor returns the preferred chain ending in the action with the
// given id. Among equally scored producers the shortest chain wins, then the
// earliest declared producer. An unresolvable reference yields an incomplete
// chain with a reason, never an error.
func (m *Manager) CreationChainFor(id string) (Chain, error) {
	ti, ok := m.index[id]
	if !ok {
		return Chain{}, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	p, hit := m.cache.Get(id)
	if !hit {
		p = m.resolve(ti, map[int]bool{}, 0, nil)
		m.cache.Add(id, p)
	}
	return m.instantiate(p), nil
}

// Alternatives returns distinct chains for the action, one per plausible
// producer of each reference, preferred chain first.
func (m *Manager) Alternatives(id string) ([]Chain, error) {
	ti, ok := m.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	preferred := m.resolve(ti, map[int]bool{}, 0, nil)
	out := []Chain{m.instantiate(preferred)}
	seen := map[string]struct{}{planKey(preferred): {}}
	target := m.catalogue[ti]
	for _, ref := range target.References() {
		for _, e := range m.candidates(ti, ref.Name()) {
			alt := m.resolve(ti, map[int]bool{}, 0, &pin{input: ref.Name(), producer: e.producer, output: e.Output})
			key := planKey(alt)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, m.instantiate(alt))
		}
	}
	return out, nil
}

type pin struct {
	input    string
	producer int
	output   string
}

func (m *Manager) candidates(consumer int, input string) []Edge {
	found := m.edges[consumer][input]
	if len(found) > m.maxCandidates {
		found = found[:m.maxCandidates]
	}
	return found
}

// resolve plans the chain for target. stack holds the catalogue indices on
// the current recursion path so cycles are cut.
func (m *Manager) resolve(target int, stack map[int]bool, depth int, pinned *pin) plan {
	action := m.catalogue[target]
	acc := plan{complete: true}
	stack[target] = true
	defer delete(stack, target)

	for _, ref := range action.References() {
		if reused, ok := acc.reuse(m, target, ref.Name()); ok {
			acc.links = append(acc.links, reused)
			continue
		}
		options := m.candidates(target, ref.Name())
		if pinned != nil && pinned.input == ref.Name() {
			options = []Edge{{producer: pinned.producer, Output: pinned.output}}
		}
		if len(options) == 0 {
			acc.fail(fmt.Sprintf("no creator found for %s.%s", action.ID(), ref.Name()))
			continue
		}
		if depth >= m.maxDepth {
			acc.fail(fmt.Sprintf("dependency depth limit %d reached at %s", m.maxDepth, action.ID()))
			continue
		}
		best, bestEdge, found := plan{}, Edge{}, false
		topScore := options[0].Score
		for _, e := range options {
			if found && e.Score < topScore && best.complete {
				break
			}
			if stack[e.producer] {
				continue
			}
			sub := m.resolve(e.producer, stack, depth+1, nil)
			if !found || better(sub, best) {
				best, bestEdge, found = sub, e, true
			}
		}
		if !found {
			acc.fail(fmt.Sprintf("only cyclic creators for %s.%s", action.ID(), ref.Name()))
			continue
		}
		producerPos := acc.merge(best)
		acc.links = append(acc.links, Link{Producer: producerPos, Output: bestEdge.Output, Consumer: -1, Input: ref.Name()})
		if !best.complete {
			acc.complete = false
			acc.reasons = append(acc.reasons, best.reasons...)
		}
	}
	acc.steps = append(acc.steps, target)
	last := len(acc.steps) - 1
	for i := range acc.links {
		if acc.links[i].Consumer == -1 {
			acc.links[i].Consumer = last
		}
	}
	return acc
}

// reuse links ref to a producer already in the plan when one matches.
func (p *plan) reuse(m *Manager, consumer int, input string) (Link, bool) {
	for _, e := range m.candidates(consumer, input) {
		for pos, step := range p.steps {
			if step == e.producer {
				return Link{Producer: pos, Output: e.Output, Consumer: -1, Input: input}, true
			}
		}
	}
	return Link{}, false
}

// merge appends the steps of sub that are not yet planned, remaps its links
// and returns the position of sub's final action.
func (p *plan) merge(sub plan) int {
	positions := make([]int, len(sub.steps))
	for i, step := range sub.steps {
		positions[i] = -1
		for pos, existing := range p.steps {
			if existing == step {
				positions[i] = pos
				break
			}
		}
		if positions[i] < 0 {
			p.steps = append(p.steps, step)
			positions[i] = len(p.steps) - 1
		}
	}
	for _, l := range sub.links {
		p.links = append(p.links, Link{
			Producer: positions[l.Producer],
			Output:   l.Output,
			Consumer: positions[l.Consumer],
			Input:    l.Input,
		})
	}
	return positions[len(positions)-1]
}

func (p *plan) fail(reason string) {
	p.complete = false
	p.reasons = append(p.reasons, reason)
}

// better prefers complete plans, then shorter ones. Earlier candidates win
// ties, which keeps declaration order.
func better(candidate, current plan) bool {
	if candidate.complete != current.complete {
		return candidate.complete
	}
	return len(candidate.steps) < len(current.steps)
}

func (m *Manager) instantiate(p plan) Chain {
	c := Chain{Complete: p.complete, Reason: strings.Join(p.reasons, "; ")}
	for _, step := range p.steps {
		c.Actions = append(c.Actions, m.catalogue[step].Copy())
	}
	c.Links = append(c.Links, p.links...)
	return c
}

func planKey(p plan) string {
	var sb strings.Builder
	for _, s := range p.steps {
		fmt.Fprintf(&sb, "%d,", s)
	}
	sb.WriteByte('|')
	for _, l := range p.links {
		fmt.Fprintf(&sb, "%d.%s>%d.%s,", l.Producer, l.Output, l.Consumer, l.Input)
	}
	return sb.String()
}
