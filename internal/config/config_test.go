package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mioforge/internal/model"
	"mioforge/internal/storage"
	"mioforge/internal/tuning"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFormatsAgree(t *testing.T) {
	files := map[string]string{
		"run.yaml": `
search:
  seed: 9
  evaluations: 250
  time_limit: 2m
  schedule:
    focus_start: 0.8
    sample_probability: 0.5
    focused_sample_probability: 0
    population_size: 10
    focused_population_size: 1
mutation:
  structural_decay: 0.25
execution:
  timeout: 3s
`,
		"run.toml": `
[search]
seed = 9
evaluations = 250
time_limit = "2m"

[search.schedule]
focus_start = 0.8
sample_probability = 0.5
focused_sample_probability = 0.0
population_size = 10
focused_population_size = 1

[mutation]
structural_decay = 0.25

[execution]
timeout = "3s"
`,
		"run.json": `{
  "search": {"seed": 9, "evaluations": 250, "time_limit": "2m",
    "schedule": {"focus_start": 0.8, "sample_probability": 0.5, "focused_sample_probability": 0,
      "population_size": 10, "focused_population_size": 1}},
  "mutation": {"structural_decay": 0.25},
  "execution": {"timeout": "3s"}
}`,
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, name, body))
			require.NoError(t, err)
			assert.Equal(t, int64(9), cfg.Search.Seed)
			assert.Equal(t, 250, cfg.Search.Evaluations)
			assert.Equal(t, 2*time.Minute, cfg.Search.TimeLimit.Std())
			assert.Equal(t, 0.8, cfg.Search.Schedule.FocusStart)
			assert.Equal(t, 0.25, cfg.Mutation.StructuralDecay)
			assert.Equal(t, 3*time.Second, cfg.Execution.Timeout.Std())
			// untouched sections keep their defaults
			assert.Equal(t, Default().Archive, cfg.Archive)
			assert.Equal(t, Default().Mutation.Weights, cfg.Mutation.Weights)
		})
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	_, err := Load(writeFile(t, "run.ini", "seed=1"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MIOFORGE_SEED":        "77",
		"MIOFORGE_EVALUATIONS": "40",
		"MIOFORGE_TIME_LIMIT":  "90s",
		"MIOFORGE_STORE":       "sqlite",
		"MIOFORGE_LOG_LEVEL":   "debug",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, int64(77), cfg.Search.Seed)
	assert.Equal(t, 40, cfg.Search.Evaluations)
	assert.Equal(t, 90*time.Second, cfg.Search.TimeLimit.Std())
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)

	env["MIOFORGE_SEED"] = "seven"
	env["MIOFORGE_TIME_LIMIT"] = "soon"
	err := cfg.ApplyEnv(lookup)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "MIOFORGE_SEED")
	assert.Contains(t, err.Error(), "MIOFORGE_TIME_LIMIT")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"no bound":         func(c *Config) { c.Search.Evaluations = 0 },
		"schedule":         func(c *Config) { c.Search.Schedule = tuning.Schedule{} },
		"population":       func(c *Config) { c.Archive.MaxPopulationSize = 0 },
		"unknown operator": func(c *Config) { c.Mutation.Weights = map[string]float64{"crossover": 1} },
		"zero weights":     func(c *Config) { c.Mutation.Weights = map[string]float64{"value": 0} },
		"attempt policy":   func(c *Config) { c.Mutation.AttemptPolicy = "exponential" },
		"decay":            func(c *Config) { c.Mutation.StructuralDecay = 2 },
		"burst":            func(c *Config) { c.Execution.RateLimit, c.Execution.Burst = 5, 0 },
		"backend":          func(c *Config) { c.Storage.Backend = "postgres" },
		"log level":        func(c *Config) { c.Logging.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidateExposesStorageErrors(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "postgres"
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.ErrorIs(t, err, storage.ErrUnsupportedBackend)

	cfg.Storage.Backend, cfg.Storage.SQLitePath = storage.BackendSQLite, ""
	require.ErrorIs(t, cfg.Validate(), storage.ErrSQLitePathRequired)
}

func TestBudget(t *testing.T) {
	cfg := Default()
	require.Equal(t, tuning.EvaluationBudget{Max: 1000}, cfg.Budget())

	cfg.Search.TimeLimit = Duration(time.Hour)
	both, ok := cfg.Budget().(tuning.FirstOf)
	require.True(t, ok)
	require.Len(t, both, 2)

	cfg.Search.Evaluations = 0
	_, ok = cfg.Budget().(tuning.TimeBudget)
	require.True(t, ok)
}

func TestLoadCatalogue(t *testing.T) {
	actions, err := LoadCatalogue(filepath.Join("..", "..", "testdata", "catalogue", "items.yaml"))
	require.NoError(t, err)
	require.Len(t, actions, 4)

	ids := make([]string, 0, len(actions))
	for _, a := range actions {
		ids = append(ids, a.ID())
	}
	assert.Equal(t, []string{"POST /reset", "POST /items", "GET /items/{id}", "GET /items"}, ids)
	assert.True(t, actions[0].Setup())

	create := actions[1]
	require.Len(t, create.Produced(), 1)
	id, ok := create.Param("id")
	require.True(t, ok)
	assert.Equal(t, model.LocationResponse, id.Location())
	require.Len(t, actions[2].References(), 1)
}

func TestLoadCatalogueRejectsBadDeclarations(t *testing.T) {
	cases := map[string]string{
		"empty":        `{"actions": []}`,
		"kind":         `{"actions": [{"kind": "soap", "scope": "GET", "operation": "/a"}]}`,
		"gene type":    `{"actions": [{"scope": "GET", "operation": "/a", "params": [{"name": "q", "location": "query", "gene": {"type": "blob"}}]}]}`,
		"location":     `{"actions": [{"scope": "GET", "operation": "/a", "params": [{"name": "q", "location": "cookie", "gene": {"type": "bool"}}]}]}`,
		"enum":         `{"actions": [{"scope": "GET", "operation": "/a", "params": [{"name": "q", "location": "query", "gene": {"type": "enum"}}]}]}`,
		"bounds":       `{"actions": [{"scope": "GET", "operation": "/a", "params": [{"name": "q", "location": "query", "gene": {"type": "int", "min": 5, "max": 1}}]}]}`,
		"array":        `{"actions": [{"scope": "GET", "operation": "/a", "params": [{"name": "q", "location": "query", "gene": {"type": "array"}}]}]}`,
		"duplicate id": `{"actions": [{"scope": "GET", "operation": "/a"}, {"scope": "GET", "operation": "/a"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalogue(writeFile(t, "catalogue.json", body))
			require.ErrorIs(t, err, ErrInvalidCatalogue)
		})
	}
}
