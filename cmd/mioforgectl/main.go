package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mioforge/internal/config"
	"mioforge/internal/model"
	"mioforge/internal/sampler"
	"mioforge/internal/sut"
	"mioforge/internal/telemetry"
	"mioforge/pkg/mioforge"
)

const defaultExportsDir = "exports"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:], stdout)
	case "runs":
		return runRuns(ctx, args[1:], stdout)
	case "archive":
		return runArchive(ctx, args[1:], stdout)
	case "export":
		return runExport(ctx, args[1:], stdout)
	case "catalogue":
		return runCatalogue(ctx, args[1:], stdout)
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: mioforgectl <run|runs|archive|export|catalogue> [flags]", msg)
}

func newClient(cfg config.Config, logger *zap.Logger, metrics *telemetry.Metrics) (*mioforge.Client, error) {
	return mioforge.New(mioforge.Options{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  otel.Tracer("mioforge"),
	})
}

func runRun(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	common := bindCommonFlags(fs)
	demo := fs.Bool("demo", false, "search the built-in items API, ignoring any configured catalogue")
	seed := fs.Int64("seed", 0, "random seed")
	evaluations := fs.Int("evaluations", 0, "evaluation budget")
	timeLimit := fs.Duration("time-limit", 0, "wall-clock budget")
	metricsListen := fs.String("metrics-listen", "", "serve prometheus metrics on this address")
	jsonOut := fs.Bool("json", false, "emit the run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load(fs, func(cfg *config.Config, set map[string]bool) {
		if set["seed"] {
			cfg.Search.Seed = *seed
		}
		if set["evaluations"] {
			cfg.Search.Evaluations = *evaluations
		}
		if set["time-limit"] {
			cfg.Search.TimeLimit = config.Duration(*timeLimit)
		}
		if set["metrics-listen"] {
			cfg.Metrics.Listen = *metricsListen
		}
		if *demo {
			cfg.Sampler.Catalogue = ""
		}
	})
	if err != nil {
		return err
	}
	if cfg.Sampler.Catalogue != "" {
		return fmt.Errorf("catalogue %s: %w; use --demo or embed pkg/mioforge with an evaluator", cfg.Sampler.Catalogue, mioforge.ErrNoEvaluator)
	}

	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var (
		metrics *telemetry.Metrics
		server  *http.Server
		ln      net.Listener
	)
	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		ln, err = net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		logger.Info("serving metrics", zap.String("address", ln.Addr().String()))
	}

	client, err := newClient(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	var summary mioforge.RunSummary
	g, gctx := errgroup.WithContext(ctx)
	if server != nil {
		g.Go(func() error {
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		defer func() {
			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}
		}()
		var runErr error
		summary, runErr = client.Run(gctx, mioforge.RunRequest{})
		return runErr
	})
	runErr := g.Wait()
	if summary.RunID == "" {
		return runErr
	}

	if *jsonOut {
		if err := writeJSON(stdout, summary); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(stdout, "run_id=%s status=%s evaluations=%s failures=%s covered=%d/%d elapsed=%s artifacts=%s\n",
			summary.RunID,
			summary.Status,
			humanize.Comma(int64(summary.Evaluations)),
			humanize.Comma(int64(summary.Failures)),
			summary.Covered,
			summary.Targets,
			summary.Elapsed.Round(time.Millisecond),
			summary.ArtifactsDir,
		)
	}
	return runErr
}

func runRuns(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := bindCommonFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}
	cfg, err := common.load(fs, nil)
	if err != nil {
		return err
	}
	client, err := newClient(cfg, zap.NewNop(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	runs, err := client.Runs(ctx, mioforge.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(stdout, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(stdout, "run_id=%s started=%s status=%s seed=%d evaluations=%s failures=%s covered=%d/%d elapsed=%s\n",
			r.RunID,
			humanize.Time(r.StartedAt),
			r.Status,
			r.Seed,
			humanize.Comma(int64(r.Evaluations)),
			humanize.Comma(int64(r.Failures)),
			r.Covered,
			r.Targets,
			r.Elapsed.Round(time.Millisecond),
		)
	}
	return nil
}

func runArchive(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	common := bindCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run")
	jsonOut := fs.Bool("json", false, "emit the best test per target as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("archive requires --run-id or --latest")
	}
	cfg, err := common.load(fs, nil)
	if err != nil {
		return err
	}
	client, err := newClient(cfg, zap.NewNop(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	view, err := client.Archive(ctx, mioforge.ArchiveRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(stdout, view.Best)
	}
	fmt.Fprintf(stdout, "run_id=%s covered=%d/%d\n", view.Run.ID, len(view.Snapshot.Covered), view.Snapshot.Targets)
	for _, best := range view.Best {
		fmt.Fprintf(stdout, "target=%s covered=%t fitness=%.4f test=%s\n",
			best.Target, best.Covered, best.Fitness, describe(best.Individual))
	}
	return nil
}

// describe renders an individual record as its action ids.
func describe(rec model.IndividualRecord) string {
	ids := make([]string, 0, len(rec.Actions))
	for _, a := range rec.Actions {
		if a.Group == model.GroupSetup {
			continue
		}
		ids = append(ids, a.ID)
	}
	return "[" + strings.Join(ids, ", ") + "]"
}

func runExport(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := bindCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", defaultExportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}
	cfg, err := common.load(fs, nil)
	if err != nil {
		return err
	}
	client, err := newClient(cfg, zap.NewNop(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	exported, err := client.Export(ctx, mioforge.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

// runCatalogue loads a catalogue and prints the creation chain inferred for
// every action.
func runCatalogue(_ context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("catalogue", flag.ContinueOnError)
	file := fs.String("file", "", "catalogue file (.yaml, .yml or .json); the demo API when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		actions []*model.Action
		err     error
	)
	if *file == "" {
		actions, err = sut.Catalogue()
	} else {
		actions, err = config.LoadCatalogue(*file)
	}
	if err != nil {
		return err
	}
	smp, err := sampler.New(sampler.Config{Catalogue: actions, Rand: rand.New(rand.NewSource(1))})
	if err != nil {
		return err
	}
	resources := smp.Resources()
	fmt.Fprintf(stdout, "actions=%d dependencies=%d\n", len(actions), len(resources.Edges()))
	for _, id := range smp.Targets() {
		if !resources.NeedsChain(id) {
			fmt.Fprintf(stdout, "%s: no dependencies\n", id)
			continue
		}
		chain, err := resources.CreationChainFor(id)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(chain.Actions))
		for _, a := range chain.Actions {
			ids = append(ids, a.ID())
		}
		status := "complete"
		if !chain.Complete {
			status = "incomplete: " + chain.Reason
		}
		fmt.Fprintf(stdout, "%s: %s (%s)\n", id, strings.Join(ids, " -> "), status)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
