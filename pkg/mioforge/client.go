// Package mioforge runs MIO test-generation searches and gives access to
// their stored results.
package mioforge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mioforge/internal/archive"
	"mioforge/internal/config"
	"mioforge/internal/evo"
	"mioforge/internal/fitness"
	"mioforge/internal/model"
	"mioforge/internal/sampler"
	"mioforge/internal/stats"
	"mioforge/internal/storage"
	"mioforge/internal/sut"
	"mioforge/internal/telemetry"
)

var (
	ErrNoEvaluator = errors.New("catalogue needs an evaluator")
	ErrRunNotFound = errors.New("run not found")
	ErrNoRuns      = errors.New("no runs available")
)

type Options struct {
	Config config.Config
	Logger *zap.Logger
	// Metrics may be nil.
	Metrics *telemetry.Metrics
	// Tracer enables one span per evaluation when Config.Execution.Tracing
	// is set.
	Tracer trace.Tracer
	Now    func() time.Time
}

type Client struct {
	cfg     config.Config
	store   storage.Store
	logger  *zap.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	initialized bool
}

// RunRequest selects what to search. Without a Catalogue the configured
// catalogue file is used; without either the built-in demo API is searched.
// A catalogue other than the demo one needs an Evaluator.
type RunRequest struct {
	Catalogue []*model.Action
	Evaluator fitness.Evaluator
	Seeds     []*model.Individual
	// Seed and Evaluations override the configuration when non-zero.
	Seed        int64
	Evaluations int
}

type RunSummary struct {
	RunID        string
	Status       model.RunStatus
	Evaluations  int
	Failures     int
	Covered      int
	Targets      int
	Elapsed      time.Duration
	ArtifactsDir string
	History      []model.CoverageSample
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID       string
	Seed        int64
	Status      model.RunStatus
	StartedAt   time.Time
	Elapsed     time.Duration
	Evaluations int
	Failures    int
	Covered     int
	Targets     int
}

type ArchiveRequest struct {
	RunID  string
	Latest bool
}

type ArchiveView struct {
	Run      model.RunRecord
	Snapshot model.ArchiveSnapshot
	Best     []stats.BestTest
	History  []model.CoverageSample
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	store, err := storage.NewStore(opts.Config.Storage.Backend, opts.Config.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:     opts.Config,
		store:   store,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		now:     opts.Now,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) ensureStore(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Run executes one search and persists its record, archive snapshot and
// coverage history. A cancelled run is persisted with the cancelled status
// and returned together with ctx.Err().
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.ensureStore(ctx); err != nil {
		return RunSummary{}, err
	}
	cfg := c.cfg
	if req.Seed != 0 {
		cfg.Search.Seed = req.Seed
	}
	if req.Evaluations > 0 {
		cfg.Search.Evaluations = req.Evaluations
	}

	catalogue, evaluator, err := c.target(cfg, req)
	if err != nil {
		return RunSummary{}, err
	}

	runID := uuid.NewString()
	log := c.logger.With(zap.String("run_id", runID))
	rng := rand.New(rand.NewSource(cfg.Search.Seed))

	smp, err := sampler.New(sampler.Config{
		Catalogue:      catalogue,
		Rand:           rng,
		MaxMainActions: cfg.Sampler.MaxMainActions,
		MaxActions:     cfg.Sampler.MaxActions,
		Seeds:          req.Seeds,
		IDs:            model.NewIDSource(cfg.Search.Seed),
		Logger:         log,
	})
	if err != nil {
		return RunSummary{}, err
	}
	control := &evo.ProgressControl{}
	ops, err := evo.OperatorsFromWeights(cfg.Mutation.Weights, evo.OperatorEnv{
		Rand:       rng,
		Sampler:    smp,
		Control:    control,
		MaxActions: cfg.Sampler.MaxActions,
	})
	if err != nil {
		return RunSummary{}, err
	}
	policy, err := cfg.AttemptPolicy()
	if err != nil {
		return RunSummary{}, err
	}
	mutator, err := evo.NewMutator(evo.MutatorConfig{
		Operators:       ops,
		Rand:            rng,
		AttemptPolicy:   policy,
		BaseAttempts:    cfg.Mutation.BaseAttempts,
		StructuralDecay: cfg.Mutation.StructuralDecay,
		Adaptive:        cfg.Mutation.Adaptive,
		Window:          cfg.Mutation.Window,
		Logger:          log,
	})
	if err != nil {
		return RunSummary{}, err
	}
	arc, err := archive.New(archive.Config{
		MaxPopulationSize: cfg.Archive.MaxPopulationSize,
		ResampleThreshold: cfg.Archive.ResampleThreshold,
		Logger:            log,
	})
	if err != nil {
		return RunSummary{}, err
	}
	search, err := evo.NewSearch(evo.Config{
		Sampler:      smp,
		Mutator:      mutator,
		Archive:      arc,
		Evaluator:    c.wrap(cfg.Execution, evaluator, log),
		Budget:       cfg.Budget(),
		Schedule:     cfg.Search.Schedule,
		Rand:         rng,
		Control:      control,
		RunID:        runID,
		HistoryEvery: cfg.Search.HistoryEvery,
		Metrics:      c.metrics,
		Logger:       log,
		Now:          c.now,
	})
	if err != nil {
		return RunSummary{}, err
	}

	started := c.now().UTC()
	res, runErr := search.Run(ctx)
	status := model.RunCompleted
	switch {
	case runErr == nil:
	case ctx.Err() != nil:
		status = model.RunCancelled
	default:
		status = model.RunFailed
	}

	rawConfig, err := json.Marshal(cfg)
	if err != nil {
		return RunSummary{}, fmt.Errorf("encode run config: %w", err)
	}
	record := model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              runID,
		Seed:            cfg.Search.Seed,
		Status:          status,
		StartedAt:       started,
		FinishedAt:      started.Add(res.Elapsed),
		Evaluations:     res.Evaluations,
		Failures:        res.Failures,
		Targets:         res.Targets,
		Covered:         res.Covered,
		Config:          rawConfig,
	}
	if runErr != nil {
		record.Error = runErr.Error()
	}
	res.Snapshot.VersionedRecord = storage.Versioned()

	// Persisting must not be skipped because the run's context was cancelled.
	persistCtx := context.WithoutCancel(ctx)
	runDir, err := c.persist(persistCtx, record, res)
	if err != nil {
		return RunSummary{}, errors.Join(runErr, err)
	}

	summary := RunSummary{
		RunID:        runID,
		Status:       status,
		Evaluations:  res.Evaluations,
		Failures:     res.Failures,
		Covered:      res.Covered,
		Targets:      res.Targets,
		Elapsed:      res.Elapsed,
		ArtifactsDir: runDir,
		History:      res.History,
	}
	return summary, runErr
}

// target resolves the catalogue and evaluator of a run.
func (c *Client) target(cfg config.Config, req RunRequest) ([]*model.Action, fitness.Evaluator, error) {
	catalogue := req.Catalogue
	if len(catalogue) == 0 && cfg.Sampler.Catalogue != "" {
		loaded, err := config.LoadCatalogue(cfg.Sampler.Catalogue)
		if err != nil {
			return nil, nil, err
		}
		catalogue = loaded
	}
	if len(catalogue) == 0 {
		demo, err := sut.Catalogue()
		if err != nil {
			return nil, nil, err
		}
		ev := req.Evaluator
		if ev == nil {
			ev = sut.New(sut.Config{UnavailableEvery: cfg.Execution.UnavailableEvery, Logger: c.logger})
		}
		return demo, ev, nil
	}
	if req.Evaluator == nil {
		return nil, nil, ErrNoEvaluator
	}
	return catalogue, req.Evaluator, nil
}

// wrap applies the execution middlewares, outermost first: tracing, rate
// limit, circuit breaker, timeout.
func (c *Client) wrap(cfg config.ExecutionConfig, ev fitness.Evaluator, log *zap.Logger) fitness.Evaluator {
	var mws []fitness.Middleware
	if cfg.Tracing && c.tracer != nil {
		mws = append(mws, fitness.WithTracing(c.tracer))
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, fitness.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)))
	}
	if cfg.Breaker.Enabled {
		breaker := fitness.DefaultBreakerConfig()
		breaker.ConsecutiveFailures = cfg.Breaker.ConsecutiveFailures
		if cfg.Breaker.OpenTimeout > 0 {
			breaker.Timeout = cfg.Breaker.OpenTimeout.Std()
		}
		breaker.OnStateChange = func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
		mws = append(mws, fitness.WithCircuitBreaker(breaker))
	}
	mws = append(mws, fitness.WithTimeout(cfg.Timeout.Std()))
	return fitness.Chain(ev, mws...)
}

func (c *Client) persist(ctx context.Context, record model.RunRecord, res evo.Result) (string, error) {
	if err := c.store.SaveRun(ctx, record); err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}
	if err := c.store.SaveArchive(ctx, res.Snapshot); err != nil {
		return "", fmt.Errorf("save archive: %w", err)
	}
	if err := c.store.SaveCoverageHistory(ctx, record.ID, res.History); err != nil {
		return "", fmt.Errorf("save coverage history: %w", err)
	}

	dir := c.cfg.Storage.ArtifactsDir
	if dir == "" {
		return "", nil
	}
	runDir, err := stats.WriteRunArtifacts(dir, stats.RunArtifacts{
		Run:     record,
		Archive: res.Snapshot,
		History: res.History,
	})
	if err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(dir, stats.RunIndexEntry{
		RunID:        record.ID,
		Seed:         record.Seed,
		Status:       record.Status,
		Evaluations:  record.Evaluations,
		Covered:      record.Covered,
		Targets:      record.Targets,
		CreatedAtUTC: record.StartedAt.Format(time.RFC3339Nano),
	}); err != nil {
		return "", err
	}
	return filepath.Clean(runDir), nil
}

// Runs lists stored runs, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if req.Limit == 0 {
		req.Limit = 20
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	runs, err := c.listRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}
	out := make([]RunItem, 0, len(runs))
	for _, r := range runs {
		out = append(out, RunItem{
			RunID:       r.ID,
			Seed:        r.Seed,
			Status:      r.Status,
			StartedAt:   r.StartedAt,
			Elapsed:     r.FinishedAt.Sub(r.StartedAt),
			Evaluations: r.Evaluations,
			Failures:    r.Failures,
			Covered:     r.Covered,
			Targets:     r.Targets,
		})
	}
	return out, nil
}

// Archive reads back the final archive of a run.
func (c *Client) Archive(ctx context.Context, req ArchiveRequest) (ArchiveView, error) {
	run, err := c.resolve(ctx, req.RunID, req.Latest)
	if err != nil {
		return ArchiveView{}, err
	}
	snapshot, history, err := c.getArchive(ctx, run.ID)
	if err != nil {
		return ArchiveView{}, err
	}
	return ArchiveView{
		Run:      run,
		Snapshot: snapshot,
		Best:     stats.BestTests(snapshot),
		History:  history,
	}, nil
}

// Export writes the artifacts of a run to OutDir. Runs whose artifact
// directory is missing are rebuilt from the store.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		return ExportSummary{}, errors.New("export requires an output directory")
	}
	run, err := c.resolve(ctx, req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	if dir := c.cfg.Storage.ArtifactsDir; dir != "" {
		if _, ok, err := stats.ReadRun(dir, run.ID); err != nil {
			return ExportSummary{}, err
		} else if ok {
			exported, err := stats.ExportRunArtifacts(dir, run.ID, req.OutDir)
			if err != nil {
				return ExportSummary{}, err
			}
			return ExportSummary{RunID: run.ID, Directory: filepath.Clean(exported)}, nil
		}
	}

	view, err := c.Archive(ctx, ArchiveRequest{RunID: run.ID})
	if err != nil {
		return ExportSummary{}, err
	}
	exported, err := stats.WriteRunArtifacts(req.OutDir, stats.RunArtifacts{
		Run:     view.Run,
		Archive: view.Snapshot,
		History: view.History,
	})
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: run.ID, Directory: filepath.Clean(exported)}, nil
}

func (c *Client) resolve(ctx context.Context, runID string, latest bool) (model.RunRecord, error) {
	if runID != "" && latest {
		return model.RunRecord{}, errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return model.RunRecord{}, errors.New("run id or latest is required")
	}
	if err := c.ensureStore(ctx); err != nil {
		return model.RunRecord{}, err
	}
	if latest {
		runs, err := c.listRuns(ctx)
		if err != nil {
			return model.RunRecord{}, err
		}
		if len(runs) == 0 {
			return model.RunRecord{}, ErrNoRuns
		}
		return runs[0], nil
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok && c.cfg.Storage.ArtifactsDir != "" {
		run, ok, err = stats.ReadRun(c.cfg.Storage.ArtifactsDir, runID)
		if err != nil {
			return model.RunRecord{}, err
		}
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// The memory store only sees runs of this process. Runs written by earlier
// processes are read back from the artifacts directory.
func (c *Client) listRuns(ctx context.Context) ([]model.RunRecord, error) {
	runs, err := c.store.ListRuns(ctx)
	dir := c.cfg.Storage.ArtifactsDir
	if err != nil || len(runs) > 0 || dir == "" {
		return runs, err
	}
	entries, err := stats.ListRunIndex(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		run, ok, err := stats.ReadRun(dir, e.RunID)
		if err != nil {
			return nil, err
		}
		if ok {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

func (c *Client) getArchive(ctx context.Context, runID string) (model.ArchiveSnapshot, []model.CoverageSample, error) {
	snapshot, ok, err := c.store.GetArchive(ctx, runID)
	if err != nil {
		return model.ArchiveSnapshot{}, nil, err
	}
	if ok {
		history, _, err := c.store.GetCoverageHistory(ctx, runID)
		return snapshot, history, err
	}
	dir := c.cfg.Storage.ArtifactsDir
	if dir != "" {
		snapshot, ok, err = stats.ReadArchive(dir, runID)
		if err != nil {
			return model.ArchiveSnapshot{}, nil, err
		}
	}
	if !ok {
		return model.ArchiveSnapshot{}, nil, fmt.Errorf("%w: no archive for %s", ErrRunNotFound, runID)
	}
	history, _, err := stats.ReadCoverageSeries(dir, runID)
	return snapshot, history, err
}
