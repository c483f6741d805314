package hook

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcherWithoutPatternsMatchesEverything(t *testing.T) {
	matcher, err := NewMatcher("/srv", nil)
	require.NoError(t, err)
	assert.True(t, matcher.Match("/srv/anything"))

	var nilMatcher *Matcher
	assert.True(t, nilMatcher.Match("/srv/anything"))
}

func TestMatcherRelativePatterns(t *testing.T) {
	root := filepath.FromSlash("/srv/project")
	matcher, err := NewMatcher(root, []string{"src/**/*.go", "*.md"})
	require.NoError(t, err)

	assert.True(t, matcher.Match(filepath.Join(root, "src", "pkg", "main.go")))
	assert.False(t, matcher.Match(filepath.Join(root, "vendor", "main.go")))
	assert.True(t, matcher.Match(filepath.Join(root, "README.md")))
	assert.True(t, matcher.Match(filepath.Join(root, "docs", "deep", "guide.md")))
	assert.False(t, matcher.Match(filepath.Join(root, "notes.txt")))
}

func TestMatcherSkipsBlankPatterns(t *testing.T) {
	matcher, err := NewMatcher("/srv", []string{" ", ""})
	require.NoError(t, err)
	assert.Empty(t, matcher.Patterns())
	assert.True(t, matcher.Match("/srv/a"))
}

func TestMatcherRejectsBadPattern(t *testing.T) {
	_, err := NewMatcher("/srv", []string{"[unclosed"})
	assert.Error(t, err)
}
