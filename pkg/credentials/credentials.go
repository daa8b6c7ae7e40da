// Package credentials finds the GitHub token pr-bro sends with each request.
//
// Sources are tried in order: the PR_BRO_GH_TOKEN environment variable, a
// GitHub App installation (when configured), the gh CLI, and finally an
// interactive prompt. When GitHub rejects the token the Manager can ask the
// user for a new one.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// EnvTokenVar is the environment variable holding a personal access token.
const EnvTokenVar = "PR_BRO_GH_TOKEN"

// Token length bounds.
const (
	maxTokenLength     = 255
	minTokenLength     = 40
	classicTokenLength = 40
)

// ErrNoToken means a source had nothing to offer.
var ErrNoToken = errors.New("no github token available")

// Provider supplies a token.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Forgetter is a Provider that caches its token and can drop it.
type Forgetter interface {
	Forget()
}

// Reprompter obtains a replacement token after GitHub rejected the current one.
type Reprompter interface {
	Refresh(ctx context.Context) (string, error)
}

// Env reads a token from an environment variable.
type Env struct {
	Getenv func(string) string // defaults to os.Getenv
	Var    string              // defaults to EnvTokenVar
}

// Token returns the trimmed variable value, or ErrNoToken when it is empty.
func (e Env) Token(context.Context) (string, error) {
	getenv := e.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	name := e.Var
	if name == "" {
		name = EnvTokenVar
	}
	token := strings.TrimSpace(getenv(name))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Static is a fixed token.
type Static string

// Token returns s, or ErrNoToken when it is empty.
func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// GHCLI asks the gh command line tool for its stored token. The first
// answer is reused.
type GHCLI struct {
	Run   func(ctx context.Context) ([]byte, error) // defaults to `gh auth token`
	token string
	mu    sync.Mutex
}

// Token runs gh once and returns its output.
func (g *GHCLI) Token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" {
		return g.token, nil
	}
	run := g.Run
	if run == nil {
		run = func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, "gh", "auth", "token").Output()
		}
	}
	out, err := run(ctx)
	if err != nil {
		slog.Debug("gh auth token failed", "component", "auth", "error", err)
		return "", ErrNoToken
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		return "", ErrNoToken
	}
	g.token = token
	return token, nil
}

// Forget drops the remembered answer so the next Token runs gh again.
func (g *GHCLI) Forget() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = ""
}

// ValidateToken checks that token looks like a GitHub token.
func ValidateToken(token string) error {
	if token == "" {
		return ErrNoToken
	}
	if len(token) > maxTokenLength || len(token) < minTokenLength {
		return errors.New("invalid token length")
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return errors.New("token contains whitespace")
	}

	for _, prefix := range []string{"ghp_", "gho_", "ghu_", "ghs_", "ghr_", "github_pat_"} {
		if strings.HasPrefix(token, prefix) {
			return nil
		}
	}

	// Could be a classic token (40 hex chars)
	if len(token) != classicTokenLength {
		return errors.New("invalid token format")
	}
	for _, r := range token {
		if (r < 'a' || r > 'f') && (r < '0' || r > '9') {
			return errors.New("invalid classic token format")
		}
	}
	return nil
}

// Manager picks the first source that yields a well-formed token and keeps
// asking that source afterwards, so expiring tokens are renewed by it.
type Manager struct {
	reprompt Reprompter
	current  Provider
	source   string
	sources  []namedProvider
	mu       sync.Mutex
}

type namedProvider struct {
	p           Provider
	name        string
	interactive bool
}

// NewManager creates a Manager. reprompt may be nil when no terminal is
// available; Refresh then fails.
func NewManager(reprompt Reprompter) *Manager {
	return &Manager{reprompt: reprompt}
}

// Add appends a source tried after those already added.
func (m *Manager) Add(name string, p Provider) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, namedProvider{name: name, p: p})
	return m
}

// AddInteractive appends a source that talks to the user. Reselect skips it.
func (m *Manager) AddInteractive(name string, p Provider) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, namedProvider{name: name, p: p, interactive: true})
	return m
}

// Token returns a token from the chosen source, choosing one on first use.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return m.current.Token(ctx)
	}
	return m.choose(ctx, true)
}

// choose walks the sources and remembers the first one with a valid token.
// Callers hold m.mu.
func (m *Manager) choose(ctx context.Context, interactive bool) (string, error) {
	for _, s := range m.sources {
		if s.interactive && !interactive {
			continue
		}
		token, err := s.p.Token(ctx)
		if errors.Is(err, ErrNoToken) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%s: %w", s.name, err)
		}
		if verr := ValidateToken(token); verr != nil {
			slog.Warn("Ignoring malformed token", "component", "auth", "source", s.name, "error", verr)
			continue
		}
		slog.Info("Using GitHub token", "component", "auth", "source", s.name)
		m.current, m.source = s.p, s.name
		return token, nil
	}
	return "", fmt.Errorf("%w: set %s or run `gh auth login`", ErrNoToken, EnvTokenVar)
}

// Source names where the current token came from.
func (m *Manager) Source() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// Reselect drops the chosen token and walks the non-interactive sources
// again, so a token rotated by gh or a re-issued App installation token is
// picked up without asking the user.
func (m *Manager) Reselect(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current, m.source = nil, ""
	for _, s := range m.sources {
		if f, ok := s.p.(Forgetter); ok {
			f.Forget()
		}
	}
	return m.choose(ctx, false)
}

// Refresh forgets the rejected token and asks the user for a new one.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current, m.source = nil, ""
	if m.reprompt == nil {
		return "", errors.New("github rejected the token and no terminal is available to ask for a new one")
	}
	token, err := m.reprompt.Refresh(ctx)
	if err != nil {
		return "", err
	}
	m.current, m.source = Static(token), "prompt"
	return token, nil
}
