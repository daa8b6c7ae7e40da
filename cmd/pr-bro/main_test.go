package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/pflag"

	"github.com/codeGROOVE-dev/pr-bro/pkg/snooze"
)

func TestParsePRURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    prRef
		wantErr bool
	}{
		{
			name: "GitHub URL format",
			url:  "https://github.com/owner/repo/pull/123",
			want: prRef{Owner: "owner", Repo: "repo", Number: 123},
		},
		{
			name: "URL with trailing path",
			url:  "https://github.com/owner/repo/pull/123/files",
			want: prRef{Owner: "owner", Repo: "repo", Number: 123},
		},
		{
			name: "shorthand format",
			url:  "owner/repo#123",
			want: prRef{Owner: "owner", Repo: "repo", Number: 123},
		},
		{name: "invalid format", url: "not-a-pr-url", wantErr: true},
		{name: "invalid PR number", url: "owner/repo#abc", wantErr: true},
		{name: "zero PR number", url: "owner/repo#0", wantErr: true},
		{name: "issue URL", url: "https://github.com/owner/repo/issues/5", wantErr: true},
		{name: "nested repo path", url: "owner/repo/extra#5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePRURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePRURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parsePRURL() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPRRefURL(t *testing.T) {
	ref := prRef{Owner: "acme", Repo: "api", Number: 7}
	if got, want := ref.URL(), "https://github.com/acme/api/pull/7"; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestOpenBrowser(t *testing.T) {
	var opened string
	openURL = func(u string) error { opened = u; return nil }
	t.Cleanup(func() { openURL = browser.OpenURL })

	const url = "https://github.com/acme/api/pull/7"
	if err := openBrowser(url); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opened != url {
		t.Errorf("opened %q, want %q", opened, url)
	}

	openURL = func(string) error { return errors.New("xdg-open: not found") }
	err := openBrowser(url)
	if err == nil || !strings.HasPrefix(err.Error(), "open browser: ") {
		t.Errorf("error = %v, want it wrapped with open browser", err)
	}
}

func parseSettings(t *testing.T, args ...string) (settings, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := newViper(fs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return loadSettings(v)
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("PR_BRO_TIMEOUT", "5s")
	t.Setenv("PR_BRO_NO_WATCH", "true")
	dir := t.TempDir()

	s, err := parseSettings(t, "--concurrency=3", "--cache-dir", dir, "--config", filepath.Join(dir, "c.yaml"), "--snooze-db", filepath.Join(dir, "s.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s from the environment", s.Timeout)
	}
	if s.PerPRTimeout != defaultPerPRTimeout {
		t.Errorf("PerPRTimeout = %v, want default", s.PerPRTimeout)
	}
	if s.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want 3", s.Concurrency)
	}
	if !s.NoWatch {
		t.Error("NoWatch should come from PR_BRO_NO_WATCH")
	}
	if s.CacheDir != dir {
		t.Errorf("CacheDir = %q, want %q", s.CacheDir, dir)
	}
}

func TestLoadSettings_FlagBeatsEnvironment(t *testing.T) {
	t.Setenv("PR_BRO_CONCURRENCY", "2")
	s, err := parseSettings(t, "--concurrency=6", "--cache-dir", t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Concurrency != 6 {
		t.Errorf("Concurrency = %d, want 6", s.Concurrency)
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"zero concurrency", []string{"--concurrency=0"}, "--concurrency"},
		{"negative timeout", []string{"--timeout=-1s"}, "--timeout"},
		{"app without key", []string{"--app-id=123"}, "--app-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSettings(t, append(tt.args, "--cache-dir", t.TempDir())...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

// execute runs the root command with args plus isolated storage paths.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args,
		"--cache-dir", filepath.Join(dir, "cache"),
		"--snooze-db", filepath.Join(dir, "snooze.db"),
	))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(good, []byte("queries:\n  - query: \"is:pr is:open\"\n"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(bad, []byte("auto_refresh_interval: 10\n"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := execute(t, dir, "validate", "--config", good)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "OK (1 queries)") {
		t.Errorf("output = %q", out)
	}

	out, err = execute(t, dir, "validate", "--config", bad)
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	if !strings.Contains(err.Error(), "1 problem(s)") {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(out, "queries") {
		t.Errorf("problem list should name the queries field, got %q", out)
	}
}

func TestSnoozeCommands(t *testing.T) {
	dir := t.TempDir()
	const url = "https://github.com/acme/api/pull/1"

	out, err := execute(t, dir, "snooze", "acme/api#1", "--for", "2d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Snoozed "+url) {
		t.Errorf("snooze output = %q", out)
	}

	if _, err := execute(t, dir, "snooze", "acme/api#2", "--for", "soon"); err == nil {
		t.Error("invalid --for should fail")
	}

	out, err = execute(t, dir, "snoozed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, url) {
		t.Errorf("snoozed output = %q, want %s", out, url)
	}

	if _, err := execute(t, dir, "unsnooze", url); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := execute(t, dir, "unsnooze", url); err == nil {
		t.Error("unsnoozing twice should fail")
	}

	out, err = execute(t, dir, "snoozed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Nothing snoozed.\n" {
		t.Errorf("snoozed output = %q", out)
	}
}

func TestInitCmd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	if _, err := execute(t, dir, "init", "--config", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := execute(t, dir, "validate", "--config", path)
	if err != nil {
		t.Fatalf("starter config should validate: %v", err)
	}
	if !strings.Contains(out, "OK (2 queries)") {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, dir, "init", "--config", path); err == nil {
		t.Error("init should refuse to overwrite")
	}
	if _, err := execute(t, dir, "init", "--config", path, "--force"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCacheClearCmd(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, dir, "cache", "clear")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Cache cleared.") {
		t.Errorf("output = %q", out)
	}
}

func TestFormatSnoozed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []snooze.Entry{
		{URL: "https://github.com/acme/api/pull/1", SnoozedAt: now.Add(-time.Hour)},
		{URL: "https://github.com/acme/api/pull/2", SnoozedAt: now, Until: now.Add(3 * time.Hour)},
	}
	got := formatSnoozed(entries, now)
	want := "indefinite     https://github.com/acme/api/pull/1\n" +
		"3h left        https://github.com/acme/api/pull/2\n"
	if got != want {
		t.Errorf("formatSnoozed() =\n%s\nwant\n%s", got, want)
	}
}
