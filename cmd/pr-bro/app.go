package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/codeGROOVE-dev/pr-bro/pkg/cache"
	"github.com/codeGROOVE-dev/pr-bro/pkg/config"
	"github.com/codeGROOVE-dev/pr-bro/pkg/credentials"
	"github.com/codeGROOVE-dev/pr-bro/pkg/fetch"
	"github.com/codeGROOVE-dev/pr-bro/pkg/github"
	"github.com/codeGROOVE-dev/pr-bro/pkg/snooze"
)

const (
	envPrefix           = "PR_BRO"
	defaultTimeout      = 20 * time.Second
	defaultPerPRTimeout = 10 * time.Second
	defaultConcurrency  = 8
	logFileName         = "pr-bro.log"
)

// settings are the runtime knobs that live outside config.yaml. Each one can
// come from a flag or from a PR_BRO_* environment variable.
type settings struct {
	ConfigPath     string
	CacheDir       string
	SnoozeDB       string
	APIURL         string
	AppID          string
	AppKey         string
	Timeout        time.Duration
	PerPRTimeout   time.Duration
	InstallationID int64
	Concurrency    int
	Verbose        bool
	NoWatch        bool
}

func registerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to config.yaml (default ~/.config/pr-bro/config.yaml)")
	fs.String("cache-dir", "", "response cache directory (default: user cache dir)/pr-bro")
	fs.String("snooze-db", "", "snooze database (default ~/.config/pr-bro/snooze.db)")
	fs.String("api-url", github.DefaultBaseURL, "GitHub API base URL")
	fs.String("app-id", "", "GitHub App ID for installation-token auth")
	fs.String("app-key", "", "path to the GitHub App private key (PEM)")
	fs.Int64("installation-id", 0, "GitHub App installation ID")
	fs.Duration("timeout", defaultTimeout, "overall refresh deadline")
	fs.Duration("per-pr-timeout", defaultPerPRTimeout, "deadline for enriching a single pull request")
	fs.Int("concurrency", defaultConcurrency, "maximum concurrent enrichment requests")
	fs.BoolP("verbose", "v", false, "enable debug logging")
	fs.Bool("no-watch", false, "disable live pull request events in the browser")
}

func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	return v, nil
}

func loadSettings(v *viper.Viper) (settings, error) {
	s := settings{
		ConfigPath:     v.GetString("config"),
		CacheDir:       v.GetString("cache-dir"),
		SnoozeDB:       v.GetString("snooze-db"),
		APIURL:         v.GetString("api-url"),
		AppID:          v.GetString("app-id"),
		AppKey:         v.GetString("app-key"),
		InstallationID: v.GetInt64("installation-id"),
		Timeout:        v.GetDuration("timeout"),
		PerPRTimeout:   v.GetDuration("per-pr-timeout"),
		Concurrency:    v.GetInt("concurrency"),
		Verbose:        v.GetBool("verbose"),
		NoWatch:        v.GetBool("no-watch"),
	}
	if s.ConfigPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return s, err
		}
		s.ConfigPath = p
	}
	if s.SnoozeDB == "" {
		dir, err := config.Dir()
		if err != nil {
			return s, err
		}
		s.SnoozeDB = filepath.Join(dir, "snooze.db")
	}
	if s.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return s, fmt.Errorf("determine cache directory: %w", err)
		}
		s.CacheDir = filepath.Join(base, "pr-bro")
	}
	switch {
	case s.Timeout <= 0:
		return s, fmt.Errorf("--timeout must be positive, got %s", s.Timeout)
	case s.PerPRTimeout <= 0:
		return s, fmt.Errorf("--per-pr-timeout must be positive, got %s", s.PerPRTimeout)
	case s.Concurrency < 1:
		return s, fmt.Errorf("--concurrency must be at least 1, got %d", s.Concurrency)
	case s.AppID != "" && (s.AppKey == "" || s.InstallationID == 0):
		return s, errors.New("--app-id needs --app-key and --installation-id")
	}
	return s, nil
}

type appKey struct{}

// app holds what the subcommands share. Expensive pieces are opened on
// first use so that commands like validate never touch the network or disk
// cache.
type app struct {
	creds    *credentials.Manager
	prompt   *credentials.Prompt
	snoozes  *snooze.Store
	logFile  *os.File
	settings settings
}

func withApp(ctx context.Context, a *app) context.Context {
	return context.WithValue(ctx, appKey{}, a)
}

func getApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey{}).(*app)
	if !ok || a == nil {
		return nil, errors.New("internal error: app not initialized")
	}
	return a, nil
}

// setupLogging sends logs to stderr, or to a file in the cache directory
// while the full-screen browser owns the terminal.
func (a *app) setupLogging(toFile bool) error {
	level := slog.LevelInfo
	if a.settings.Verbose {
		level = slog.LevelDebug
	}
	var w io.Writer = os.Stderr
	if toFile {
		if err := os.MkdirAll(a.settings.CacheDir, 0o700); err != nil {
			return fmt.Errorf("create cache directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(a.settings.CacheDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		w = f
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.Load(a.settings.ConfigPath)
}

// credentials builds the token chain: environment, GitHub App, gh CLI, then
// an interactive prompt when stdin is a terminal.
func (a *app) credentials() (*credentials.Manager, error) {
	if a.creds != nil {
		return a.creds, nil
	}
	a.prompt = credentials.NewPrompt(os.Stdin, os.Stderr)
	var reprompt credentials.Reprompter
	if a.prompt != nil {
		reprompt = a.prompt
	}
	m := credentials.NewManager(reprompt).Add("env", credentials.Env{})
	if s := a.settings; s.AppID != "" {
		ghApp, err := credentials.NewApp(credentials.AppConfig{
			BaseURL:        s.APIURL,
			AppID:          s.AppID,
			KeyPath:        s.AppKey,
			InstallationID: s.InstallationID,
		})
		if err != nil {
			return nil, fmt.Errorf("github app: %w", err)
		}
		m.Add("github-app", ghApp)
	}
	m.Add("gh", &credentials.GHCLI{})
	if a.prompt != nil {
		m.AddInteractive("prompt", a.prompt)
	}
	a.creds = m
	return m, nil
}

func (a *app) openCache() (*cache.ResponseCache, error) {
	store, err := cache.NewDiskStore(filepath.Join(a.settings.CacheDir, "responses"))
	if err != nil {
		return nil, err
	}
	return cache.New(store), nil
}

func (a *app) orchestrator() (*fetch.Orchestrator, error) {
	creds, err := a.credentials()
	if err != nil {
		return nil, err
	}
	rc, err := a.openCache()
	if err != nil {
		return nil, err
	}
	client, err := github.New(github.Config{
		Tokens:  creds,
		Cache:   rc,
		BaseURL: a.settings.APIURL,
	})
	if err != nil {
		return nil, err
	}
	return fetch.New(client,
		fetch.WithTimeout(a.settings.Timeout),
		fetch.WithPerPRTimeout(a.settings.PerPRTimeout),
		fetch.WithEnrichConcurrency(a.settings.Concurrency),
	), nil
}

// openSnoozes opens the snooze database and drops expired entries.
func (a *app) openSnoozes(ctx context.Context) (*snooze.Store, error) {
	if a.snoozes != nil {
		return a.snoozes, nil
	}
	st, err := snooze.Open(a.settings.SnoozeDB)
	if err != nil {
		return nil, err
	}
	if _, err := st.CleanExpired(ctx); err != nil {
		slog.Warn("Could not clean expired snoozes", "error", err)
	}
	a.snoozes = st
	return st, nil
}

func (a *app) close() {
	if a.snoozes != nil {
		if err := a.snoozes.Close(); err != nil {
			slog.Warn("Failed to close snooze database", "error", err)
		}
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "close log file:", err)
		}
	}
}
