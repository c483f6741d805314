package hook

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher gates command runs on doublestar patterns. Paths are matched
// relative to the root with forward slashes. A pattern without a slash also
// matches the base name at any depth.
type Matcher struct {
	root     string
	patterns []string
}

func NewMatcher(root string, patterns []string) (*Matcher, error) {
	cleaned := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid match pattern %q: %w", pattern, doublestar.ErrBadPattern)
		}
		cleaned = append(cleaned, pattern)
	}
	return &Matcher{root: root, patterns: cleaned}, nil
}

// Match reports whether changed should trigger the command. A matcher with no
// patterns matches everything.
func (matcher *Matcher) Match(changed string) bool {
	if matcher == nil || len(matcher.patterns) == 0 {
		return true
	}
	rel := changed
	if matcher.root != "" {
		if relative, err := filepath.Rel(matcher.root, changed); err == nil {
			rel = relative
		}
	}
	normalized := filepath.ToSlash(rel)
	base := path.Base(normalized)
	for _, pattern := range matcher.patterns {
		if matched, err := doublestar.Match(pattern, normalized); err == nil && matched {
			return true
		}
		if strings.Contains(pattern, "/") {
			continue
		}
		if matched, err := doublestar.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}

func (matcher *Matcher) Patterns() []string {
	if matcher == nil {
		return nil
	}
	return append([]string(nil), matcher.patterns...)
}
