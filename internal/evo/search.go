package evo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"mioforge/internal/archive"
	"mioforge/internal/fitness"
	"mioforge/internal/model"
	"mioforge/internal/sampler"
	"mioforge/internal/telemetry"
	"mioforge/internal/tuning"
)

var ErrInvalidSearchConfig = errors.New("invalid search config")

const DefaultHistoryEvery = 10

// Sample reasons reported to metrics.
const (
	sampleSeed       = "seed"
	sampleScheduled  = "scheduled"
	sampleNoParent   = "no_parent"
	sampleStagnation = "stagnation"
)

// ProgressControl exposes the current budget fraction to gene mutation. The
// search loop updates it before every iteration.
type ProgressControl struct {
	progress float64
}

func (c *ProgressControl) Progress() float64 { return c.progress }
func (c *ProgressControl) Set(p float64)     { c.progress = clamp(p, 0, 1) }

type Config struct {
	Sampler   *sampler.Sampler
	Mutator   *Mutator
	Archive   *archive.Archive
	Evaluator fitness.Evaluator
	Budget    tuning.Budget
	Schedule  tuning.Schedule
	// Rand must be the stream shared with the sampler and the operators.
	Rand *rand.Rand
	// Control, when set, is advanced to the current progress.
	Control *ProgressControl
	RunID   string
	// HistoryEvery records a coverage sample every n evaluations.
	HistoryEvery int
	Metrics      *telemetry.Metrics
	Logger       *zap.Logger
	Now          func() time.Time
}

type Result struct {
	RunID       string
	Evaluations int
	Failures    int
	Phase       tuning.Phase
	Covered     int
	Targets     int
	Elapsed     time.Duration
	History     []model.CoverageSample
	Snapshot    model.ArchiveSnapshot
}

// Search is the MIO driver: a single-threaded loop of sample or mutate,
// evaluate, and archive update.
type Search struct {
	cfg Config

	phase       tuning.Phase
	evaluations int
	failures    int
	started     time.Time
	history     []model.CoverageSample
}

func NewSearch(cfg Config) (*Search, error) {
	switch {
	case cfg.Sampler == nil:
		return nil, fmt.Errorf("%w: sampler is required", ErrInvalidSearchConfig)
	case cfg.Mutator == nil:
		return nil, fmt.Errorf("%w: mutator is required", ErrInvalidSearchConfig)
	case cfg.Archive == nil:
		return nil, fmt.Errorf("%w: archive is required", ErrInvalidSearchConfig)
	case cfg.Evaluator == nil:
		return nil, fmt.Errorf("%w: evaluator is required", ErrInvalidSearchConfig)
	case cfg.Budget == nil:
		return nil, fmt.Errorf("%w: budget is required", ErrInvalidSearchConfig)
	case cfg.Rand == nil:
		return nil, fmt.Errorf("%w: random source is required", ErrInvalidSearchConfig)
	}
	if err := cfg.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSearchConfig, err)
	}
	if cfg.HistoryEvery < 0 {
		return nil, fmt.Errorf("%w: negative history interval", ErrInvalidSearchConfig)
	}
	if cfg.HistoryEvery == 0 {
		cfg.HistoryEvery = DefaultHistoryEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Search{cfg: cfg, phase: tuning.PhaseExploration}, nil
}

// Run iterates until the budget is exhausted or ctx is cancelled. Cancellation
// is checked between iterations; the partial result is returned together
// with ctx.Err(). Execution failures never stop the loop, domain errors do.
func (s *Search) Run(ctx context.Context) (Result, error) {
	s.started = s.cfg.Now()
	log := s.cfg.Logger.With(zap.String("run_id", s.cfg.RunID))
	log.Info("search started", zap.Stringer("budget", s.cfg.Budget))
	s.cfg.Metrics.SetPhase(string(s.phase), string(tuning.PhaseExploration), string(tuning.PhaseFocused))

	for !s.cfg.Budget.Exhausted(s.evaluations) {
		if err := ctx.Err(); err != nil {
			log.Info("search cancelled", zap.Int("evaluations", s.evaluations), zap.Error(err))
			return s.result(), err
		}
		progress := s.cfg.Budget.Progress(s.evaluations)
		s.advance(progress, log)

		ind, ops, target, err := s.next(ctx, progress)
		if err != nil {
			return s.result(), err
		}
		if err := s.evaluate(ctx, ind, ops, target, log); err != nil {
			return s.result(), err
		}
	}
	s.sample()
	res := s.result()
	log.Info("search finished",
		zap.Int("evaluations", res.Evaluations),
		zap.Int("failures", res.Failures),
		zap.Int("covered", res.Covered),
		zap.Int("targets", res.Targets),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// advance moves the phase forward and applies the population cap. The phase
// never returns to exploration.
func (s *Search) advance(progress float64, log *zap.Logger) {
	if s.cfg.Control != nil {
		s.cfg.Control.Set(progress)
	}
	if s.phase == tuning.PhaseExploration && s.cfg.Schedule.PhaseAt(progress) == tuning.PhaseFocused {
		s.phase = tuning.PhaseFocused
		s.cfg.Metrics.SetPhase(string(s.phase), string(tuning.PhaseExploration), string(tuning.PhaseFocused))
		log.Info("focused phase started",
			zap.Int("evaluations", s.evaluations),
			zap.Int("covered", len(s.cfg.Archive.CoveredTargets())),
		)
	}
	limit := s.cfg.Schedule.PopulationCapAt(progress)
	if s.phase == tuning.PhaseFocused {
		limit = s.cfg.Schedule.FocusedPopulationSize
	}
	limit = max(1, min(limit, s.cfg.Archive.MaxPopulationSize()))
	if limit != s.cfg.Archive.PopulationLimit() {
		s.cfg.Archive.SetPopulationLimit(limit)
		s.cfg.Metrics.SetPopulationLimit(s.cfg.Archive.PopulationLimit())
	}
}

// next returns the individual to evaluate, the operators that produced it
// and the target its parent was selected for. Sampled individuals have
// neither.
func (s *Search) next(ctx context.Context, progress float64) (*model.Individual, []string, string, error) {
	reason := sampleSeed
	if s.cfg.Sampler.PendingSeeds() == 0 {
		reason = sampleScheduled
		if s.cfg.Rand.Float64() >= s.cfg.Schedule.SampleProbabilityAt(progress) {
			sel, err := s.cfg.Archive.SampleParent(s.cfg.Rand)
			switch {
			case errors.Is(err, archive.ErrNoParent):
				reason = sampleNoParent
			case err != nil:
				return nil, nil, "", err
			case sel.Resample:
				reason = sampleStagnation
			default:
				child, ops, err := s.cfg.Mutator.Mutate(ctx, sel.Parent, progress)
				if err != nil {
					return nil, nil, "", fmt.Errorf("mutate parent of %s: %w", sel.Target, err)
				}
				return child, ops, sel.Target, nil
			}
		}
	}
	ind, err := s.cfg.Sampler.Sample()
	if err != nil {
		return nil, nil, "", fmt.Errorf("sample: %w", err)
	}
	s.cfg.Metrics.ObserveSample(reason)
	return ind, nil, "", nil
}

func (s *Search) evaluate(ctx context.Context, ind *model.Individual, ops []string, target string, log *zap.Logger) error {
	start := s.cfg.Now()
	ev, err := fitness.Execute(ctx, s.cfg.Evaluator, ind)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("evaluate %s: %w", ind.ID(), err)
	}
	s.evaluations++
	s.cfg.Metrics.ObserveEvaluation(ev.Failed(), s.cfg.Now().Sub(start).Seconds())

	if failure, failed := ev.Failure(); failed {
		s.failures++
		log.Warn("evaluation failed",
			zap.String("individual", ind.ID()),
			zap.String("kind", failure.Kind),
			zap.String("message", failure.Message),
		)
	}
	outcome := s.cfg.Archive.AddIfImproving(ev)
	improved := outcome.Improved()
	if target != "" {
		s.cfg.Archive.RecordMutation(target, improved)
	}
	if len(ops) > 0 {
		s.cfg.Mutator.Record(ops, improved)
		for _, op := range ops {
			s.cfg.Metrics.ObserveMutation(op, improved)
		}
	}
	for _, covered := range outcome.NewlyCovered {
		log.Info("target covered",
			zap.String("target", covered),
			zap.Int("evaluations", s.evaluations),
			zap.String("test", ind.String()),
		)
	}
	s.cfg.Metrics.ObserveCoverage(len(s.cfg.Archive.CoveredTargets()), s.cfg.Archive.Targets())
	log.Debug("evaluated",
		zap.String("individual", ind.ID()),
		zap.String("operation", ind.Operation()),
		zap.Int("actions", ind.Len()),
		zap.Int("improved", len(outcome.Added)),
	)
	if s.evaluations%s.cfg.HistoryEvery == 0 {
		s.sample()
	}
	return nil
}

// sample appends a coverage history point unless one exists for the current
// evaluation count.
func (s *Search) sample() {
	if n := len(s.history); n > 0 && s.history[n-1].Evaluations == s.evaluations {
		return
	}
	s.history = append(s.history, model.CoverageSample{
		Evaluations: s.evaluations,
		Covered:     len(s.cfg.Archive.CoveredTargets()),
		Targets:     s.cfg.Archive.Targets(),
		Phase:       string(s.phase),
		Elapsed:     s.cfg.Now().Sub(s.started).Seconds(),
	})
}

func (s *Search) result() Result {
	return Result{
		RunID:       s.cfg.RunID,
		Evaluations: s.evaluations,
		Failures:    s.failures,
		Phase:       s.phase,
		Covered:     len(s.cfg.Archive.CoveredTargets()),
		Targets:     s.cfg.Archive.Targets(),
		Elapsed:     s.cfg.Now().Sub(s.started),
		History:     append([]model.CoverageSample(nil), s.history...),
		Snapshot:    s.cfg.Archive.Snapshot(s.cfg.RunID),
	}
}
