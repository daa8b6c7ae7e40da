package credentials

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Prompt asks for a token on the terminal without echoing it.
type Prompt struct {
	out          io.Writer
	readPassword func() ([]byte, error)
	token        string
	mu           sync.Mutex
}

// NewPrompt reads from in, which must be a terminal, and writes
// instructions to out. It returns nil when in is not a terminal.
func NewPrompt(in *os.File, out io.Writer) *Prompt {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return &Prompt{
		out:          out,
		readPassword: func() ([]byte, error) { return term.ReadPassword(fd) },
	}
}

// Token asks once and reuses the answer.
func (p *Prompt) Token(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" {
		return p.token, nil
	}
	token, err := p.ask()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(p.out, "Token accepted for this session. To persist it, set %s in your shell profile.\n", EnvTokenVar)
	p.token = token
	return token, nil
}

// Refresh explains that the token was rejected and asks again.
func (p *Prompt) Refresh(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, "\nYour GitHub token was rejected (invalid or expired). Please provide a new token.")
	token, err := p.ask()
	if err != nil {
		return "", err
	}
	p.token = token
	return token, nil
}

func (p *Prompt) ask() (string, error) {
	fmt.Fprintln(p.out, "GitHub personal access token required.")
	fmt.Fprintln(p.out, "Create one at: https://github.com/settings/tokens")
	fmt.Fprintln(p.out, "Required scopes: repo (for private repos) or public_repo (for public only)")
	fmt.Fprint(p.out, "\nEnter token: ")
	raw, err := p.readPassword()
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", errors.New("token cannot be empty")
	}
	if err := ValidateToken(token); err != nil {
		return "", err
	}
	return token, nil
}
