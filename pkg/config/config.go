// Package config loads the pr-bro YAML file: the global scoring policy, the
// list of saved searches and their per-query overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codeGROOVE-dev/pr-bro/pkg/scoring"
)

// DefaultAutoRefreshInterval applies when auto_refresh_interval is not set.
const DefaultAutoRefreshInterval = 300 * time.Second

// Config is a loaded and resolved configuration.
type Config struct {
	Path                string
	Queries             []Query
	Global              scoring.Policy
	AutoRefreshInterval time.Duration // zero disables automatic refresh
}

// Query is one saved search. Policy is Global merged with Override and is
// fixed for the session.
type Query struct {
	Override *scoring.Override
	Name     string
	Search   string
	Policy   scoring.Policy
}

// Dir returns ~/.config/pr-bro.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "pr-bro"), nil
}

// DefaultPath returns ~/.config/pr-bro/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads, validates and resolves the configuration at path. All problems
// found are returned together as Errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found at %s: %w", path, err)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	slog.Debug("Loaded configuration", "component", "config", "path", path, "queries", len(cfg.Queries))
	return cfg, nil
}

// Parse decodes and validates YAML configuration. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, &Error{Err: fmt.Errorf("parse yaml: %w", err)}
	}
	return build(&raw)
}

func build(raw *rawConfig) (*Config, error) {
	c := &collector{}
	cfg := &Config{AutoRefreshInterval: DefaultAutoRefreshInterval}

	if raw.Scoring == nil {
		cfg.Global = scoring.DefaultPolicy()
	} else {
		cfg.Global = buildGlobal(c, "scoring", raw.Scoring)
	}

	if raw.AutoRefreshInterval != nil {
		if *raw.AutoRefreshInterval < 0 {
			c.addf("auto_refresh_interval", "must not be negative")
		} else {
			cfg.AutoRefreshInterval = time.Duration(*raw.AutoRefreshInterval) * time.Second
		}
	}

	if len(raw.Queries) == 0 {
		c.addf("queries", "at least one query is required")
	}
	for i := range raw.Queries {
		rq := &raw.Queries[i]
		path := fmt.Sprintf("queries[%d]", i)
		q := Query{Name: rq.Name, Search: rq.Query}
		if rq.Query == "" {
			c.addf(path+".query", "must not be empty")
		}
		if q.Name == "" {
			q.Name = q.Search
		}
		if rq.Scoring != nil {
			q.Override = buildOverride(c, path+".scoring", rq.Scoring)
		}
		cfg.Queries = append(cfg.Queries, q)
	}

	if err := c.err(); err != nil {
		return nil, err
	}

	for i := range cfg.Queries {
		cfg.Queries[i].Policy = scoring.Resolve(cfg.Global, cfg.Queries[i].Override)
	}
	return cfg, nil
}
