// Package config loads search configuration from YAML, TOML or JSON files.
// Defaults are applied first, the file second, MIOFORGE_* environment
// variables third; Validate runs last.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"mioforge/internal/archive"
	"mioforge/internal/evo"
	"mioforge/internal/sampler"
	"mioforge/internal/storage"
	"mioforge/internal/telemetry"
	"mioforge/internal/tuning"
)

var (
	ErrInvalidConfig     = errors.New("invalid config")
	ErrUnsupportedFormat = errors.New("unsupported config format")
)

// Duration is a time.Duration written as "30s" in every format.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Search    SearchConfig        `json:"search" yaml:"search" toml:"search"`
	Archive   ArchiveConfig       `json:"archive" yaml:"archive" toml:"archive"`
	Sampler   SamplerConfig       `json:"sampler" yaml:"sampler" toml:"sampler"`
	Mutation  MutationConfig      `json:"mutation" yaml:"mutation" toml:"mutation"`
	Execution ExecutionConfig     `json:"execution" yaml:"execution" toml:"execution"`
	Storage   StorageConfig       `json:"storage" yaml:"storage" toml:"storage"`
	Logging   telemetry.LogConfig `json:"logging" yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig       `json:"metrics" yaml:"metrics" toml:"metrics"`
}

type SearchConfig struct {
	Seed int64 `json:"seed" yaml:"seed" toml:"seed"`
	// Evaluations and TimeLimit bound the run; whichever is hit first stops
	// it. Zero disables a bound, but one must be set.
	Evaluations  int             `json:"evaluations" yaml:"evaluations" toml:"evaluations"`
	TimeLimit    Duration        `json:"time_limit" yaml:"time_limit" toml:"time_limit"`
	HistoryEvery int             `json:"history_every" yaml:"history_every" toml:"history_every"`
	Schedule     tuning.Schedule `json:"schedule" yaml:"schedule" toml:"schedule"`
}

type ArchiveConfig struct {
	MaxPopulationSize int `json:"max_population_size" yaml:"max_population_size" toml:"max_population_size"`
	ResampleThreshold int `json:"resample_threshold" yaml:"resample_threshold" toml:"resample_threshold"`
}

type SamplerConfig struct {
	// Catalogue is a YAML or JSON action catalogue. Empty selects the
	// built-in demo API.
	Catalogue      string `json:"catalogue" yaml:"catalogue" toml:"catalogue"`
	MaxMainActions int    `json:"max_main_actions" yaml:"max_main_actions" toml:"max_main_actions"`
	MaxActions     int    `json:"max_actions" yaml:"max_actions" toml:"max_actions"`
}

type MutationConfig struct {
	Weights         map[string]float64 `json:"weights" yaml:"weights" toml:"weights"`
	AttemptPolicy   string             `json:"attempt_policy" yaml:"attempt_policy" toml:"attempt_policy"`
	AttemptParam    float64            `json:"attempt_param" yaml:"attempt_param" toml:"attempt_param"`
	BaseAttempts    int                `json:"base_attempts" yaml:"base_attempts" toml:"base_attempts"`
	StructuralDecay float64            `json:"structural_decay" yaml:"structural_decay" toml:"structural_decay"`
	Adaptive        bool               `json:"adaptive" yaml:"adaptive" toml:"adaptive"`
	Window          int                `json:"window" yaml:"window" toml:"window"`
}

type BreakerConfig struct {
	Enabled             bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	ConsecutiveFailures uint32   `json:"consecutive_failures" yaml:"consecutive_failures" toml:"consecutive_failures"`
	OpenTimeout         Duration `json:"open_timeout" yaml:"open_timeout" toml:"open_timeout"`
}

type ExecutionConfig struct {
	Timeout Duration      `json:"timeout" yaml:"timeout" toml:"timeout"`
	Breaker BreakerConfig `json:"breaker" yaml:"breaker" toml:"breaker"`
	// RateLimit is in evaluations per second; zero disables it.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
	Burst     int     `json:"burst" yaml:"burst" toml:"burst"`
	Tracing   bool    `json:"tracing" yaml:"tracing" toml:"tracing"`
	// UnavailableEvery makes the demo API refuse every n-th evaluation.
	UnavailableEvery int `json:"unavailable_every" yaml:"unavailable_every" toml:"unavailable_every"`
}

type StorageConfig struct {
	Backend      string `json:"backend" yaml:"backend" toml:"backend"`
	SQLitePath   string `json:"sqlite_path" yaml:"sqlite_path" toml:"sqlite_path"`
	ArtifactsDir string `json:"artifacts_dir" yaml:"artifacts_dir" toml:"artifacts_dir"`
}

type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint; empty disables it.
	Listen string `json:"listen" yaml:"listen" toml:"listen"`
}

func Default() Config {
	breaker := BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: Duration(5 * time.Second)}
	return Config{
		Search: SearchConfig{
			Seed:         1,
			Evaluations:  1000,
			HistoryEvery: evo.DefaultHistoryEvery,
			Schedule:     tuning.DefaultSchedule(),
		},
		Archive: ArchiveConfig{
			MaxPopulationSize: archive.DefaultMaxPopulationSize,
			ResampleThreshold: archive.DefaultResampleThreshold,
		},
		Sampler: SamplerConfig{
			MaxMainActions: sampler.DefaultMaxMainActions,
			MaxActions:     sampler.DefaultMaxActions,
		},
		Mutation: MutationConfig{
			Weights:         evo.DefaultWeights(),
			AttemptPolicy:   "fixed",
			BaseAttempts:    1,
			StructuralDecay: 0.5,
			Adaptive:        true,
			Window:          evo.DefaultAdaptiveWindow,
		},
		Execution: ExecutionConfig{
			Timeout: Duration(10 * time.Second),
			Breaker: breaker,
			Burst:   1,
		},
		Storage: StorageConfig{
			Backend:      storage.BackendMemory,
			SQLitePath:   "mioforge.db",
			ArtifactsDir: "mioforge-runs",
		},
		Logging: telemetry.DefaultLogConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path loads defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(data, filepath.Ext(path), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode unmarshals data in the format named by ext into cfg. Fields absent
// from data keep their current values.
func Decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		return yaml.Unmarshal(data, cfg)
	case "toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	case "json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// ApplyEnv overrides fields from MIOFORGE_* variables. Unparseable values are
// errors rather than being ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, set func(string) error) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		if err := set(v); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
		}
		return nil
	}

	str("MIOFORGE_CATALOGUE", &c.Sampler.Catalogue)
	str("MIOFORGE_STORE", &c.Storage.Backend)
	str("MIOFORGE_SQLITE_PATH", &c.Storage.SQLitePath)
	str("MIOFORGE_ARTIFACTS_DIR", &c.Storage.ArtifactsDir)
	str("MIOFORGE_LOG_LEVEL", &c.Logging.Level)
	str("MIOFORGE_LOG_FORMAT", &c.Logging.Format)
	str("MIOFORGE_METRICS_LISTEN", &c.Metrics.Listen)

	return errors.Join(
		num("MIOFORGE_SEED", func(v string) (err error) {
			c.Search.Seed, err = strconv.ParseInt(v, 10, 64)
			return err
		}),
		num("MIOFORGE_EVALUATIONS", func(v string) (err error) {
			c.Search.Evaluations, err = strconv.Atoi(v)
			return err
		}),
		num("MIOFORGE_TIME_LIMIT", func(v string) error {
			return c.Search.TimeLimit.UnmarshalText([]byte(v))
		}),
		num("MIOFORGE_EXECUTION_TIMEOUT", func(v string) error {
			return c.Execution.Timeout.UnmarshalText([]byte(v))
		}),
	)
}

func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Search.Evaluations < 0 || c.Search.TimeLimit < 0 {
		fail("search bounds must not be negative")
	}
	if c.Search.Evaluations == 0 && c.Search.TimeLimit == 0 {
		fail("search needs an evaluation count or a time limit")
	}
	if c.Search.HistoryEvery < 0 {
		fail("history_every must not be negative")
	}
	if err := c.Search.Schedule.Validate(); err != nil {
		fail("%v", err)
	}
	if c.Archive.MaxPopulationSize < 1 {
		fail("archive.max_population_size must be >= 1")
	}
	if c.Archive.ResampleThreshold < 1 {
		fail("archive.resample_threshold must be >= 1")
	}
	if c.Sampler.MaxMainActions < 0 || c.Sampler.MaxActions < 0 {
		fail("sampler bounds must not be negative")
	}

	known := make(map[string]struct{})
	for _, name := range evo.OperatorNames() {
		known[name] = struct{}{}
	}
	total := 0.0
	for name, w := range c.Mutation.Weights {
		if _, ok := known[name]; !ok {
			fail("unknown mutation operator %q", name)
		}
		if w < 0 {
			fail("mutation weight for %s is negative", name)
		}
		total += w
	}
	if total <= 0 {
		fail("mutation weights sum to zero")
	}
	if _, err := tuning.AttemptPolicyFromConfig(c.Mutation.AttemptPolicy, c.Mutation.AttemptParam); err != nil {
		fail("%v", err)
	}
	if c.Mutation.BaseAttempts < 0 {
		fail("mutation.base_attempts must not be negative")
	}
	if c.Mutation.StructuralDecay < 0 || c.Mutation.StructuralDecay > 1 {
		fail("mutation.structural_decay %g not in [0,1]", c.Mutation.StructuralDecay)
	}

	if c.Execution.Timeout < 0 {
		fail("execution.timeout must not be negative")
	}
	if c.Execution.RateLimit < 0 {
		fail("execution.rate_limit must not be negative")
	}
	if c.Execution.RateLimit > 0 && c.Execution.Burst < 1 {
		fail("execution.burst must be >= 1 with a rate limit")
	}

	if err := storage.CheckBackend(c.Storage.Backend, c.Storage.SQLitePath); err != nil {
		errs = append(errs, fmt.Errorf("%w: storage: %w", ErrInvalidConfig, err))
	}
	if _, err := telemetry.ParseLevel(c.Logging.Level); err != nil {
		fail("%v", err)
	}
	return errors.Join(errs...)
}

// Budget builds the stopping criterion of the search.
func (c Config) Budget() tuning.Budget {
	var budgets tuning.FirstOf
	if c.Search.Evaluations > 0 {
		budgets = append(budgets, tuning.EvaluationBudget{Max: c.Search.Evaluations})
	}
	if c.Search.TimeLimit > 0 {
		budgets = append(budgets, tuning.NewTimeBudget(c.Search.TimeLimit.Std()))
	}
	if len(budgets) == 1 {
		return budgets[0]
	}
	return budgets
}

func (c Config) AttemptPolicy() (tuning.AttemptPolicy, error) {
	return tuning.AttemptPolicyFromConfig(c.Mutation.AttemptPolicy, c.Mutation.AttemptParam)
}
