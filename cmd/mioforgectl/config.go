package main

import (
	"flag"

	"mioforge/internal/config"
)

// commonFlags are accepted by every command that touches the store.
type commonFlags struct {
	configPath   string
	store        string
	sqlitePath   string
	artifactsDir string
	logLevel     string
}

func bindCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "config file (.yaml, .yml, .toml or .json)")
	fs.StringVar(&c.store, "store", "", "store backend: memory|sqlite")
	fs.StringVar(&c.sqlitePath, "sqlite-path", "", "sqlite database path")
	fs.StringVar(&c.artifactsDir, "artifacts-dir", "", "run artifacts directory")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug|info|warn|error")
	return c
}

// load reads the config file and environment, then applies flags that were
// set explicitly. Flags win over both.
func (c *commonFlags) load(fs *flag.FlagSet, extra func(cfg *config.Config, set map[string]bool)) (config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["store"] {
		cfg.Storage.Backend = c.store
	}
	if set["sqlite-path"] {
		cfg.Storage.SQLitePath = c.sqlitePath
	}
	if set["artifacts-dir"] {
		cfg.Storage.ArtifactsDir = c.artifactsDir
	}
	if set["log-level"] {
		cfg.Logging.Level = c.logLevel
	}
	if extra != nil {
		extra(&cfg, set)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
