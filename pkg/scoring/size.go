package scoring

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/codeGROOVE-dev/pr-bro/pkg/types"
)

// ValidateGlob reports whether pattern is a usable exclude glob.
func ValidateGlob(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return errors.New("empty glob pattern")
	}
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid glob pattern %q", pattern)
	}
	return nil
}

// Excluded reports whether file path p matches any pattern. Patterns without
// a slash also match against the file's base name, so "*.lock" excludes
// "web/yarn.lock".
func Excluded(p string, patterns []string) bool {
	base := path.Base(p)
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, p); err == nil && ok {
			return true
		}
		if !strings.Contains(pat, "/") {
			if ok, err := doublestar.Match(pat, base); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// NetChangedLines sums the changed lines of files not matched by exclude.
func NetChangedLines(files []types.FileDiff, exclude []string) int {
	total := 0
	for _, f := range files {
		if Excluded(f.Path, exclude) {
			continue
		}
		total += f.Lines()
	}
	return total
}
