package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/browser"
)

// prRef identifies a pull request on github.com.
type prRef struct {
	Owner  string
	Repo   string
	Number int
}

// URL is the canonical web URL, the key used by the queue and snoozes.
func (r prRef) URL() string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", r.Owner, r.Repo, r.Number)
}

// parsePRURL accepts https://github.com/owner/repo/pull/123 (with optional
// trailing path such as /files) or the owner/repo#123 shorthand.
func parsePRURL(s string) (prRef, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "#") && !strings.Contains(s, "://") {
		repoPath, num, _ := strings.Cut(s, "#")
		owner, repo, ok := strings.Cut(repoPath, "/")
		if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
			return prRef{}, errors.New("invalid repository path (expected owner/repo)")
		}
		n, err := parseNumber(num)
		if err != nil {
			return prRef{}, err
		}
		return prRef{Owner: owner, Repo: repo, Number: n}, nil
	}

	for _, prefix := range []string{"https://github.com/", "http://github.com/"} {
		rest, ok := strings.CutPrefix(s, prefix)
		if !ok {
			continue
		}
		parts := strings.Split(rest, "/")
		if len(parts) < 4 || parts[0] == "" || parts[1] == "" || parts[2] != "pull" {
			return prRef{}, errors.New("invalid GitHub PR URL format")
		}
		n, err := parseNumber(parts[3])
		if err != nil {
			return prRef{}, err
		}
		return prRef{Owner: parts[0], Repo: parts[1], Number: n}, nil
	}

	return prRef{}, errors.New("invalid PR URL format (use: https://github.com/owner/repo/pull/123 or owner/repo#123)")
}

func parseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid PR number %q", s)
	}
	return n, nil
}

var openURL = browser.OpenURL

// openBrowser hands url to the platform's URL opener. The opener's output
// is discarded so it cannot paint over the TUI.
func openBrowser(url string) error {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	if err := openURL(url); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	return nil
}
