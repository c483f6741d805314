package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaultsToWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	session, err := Resolve(Options{})
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, want, session.Root())
	assert.False(t, session.HasCommand())
	assert.Empty(t, session.SkipDirectories())
}

func TestResolveCleansValues(t *testing.T) {
	dir := t.TempDir()

	session, err := Resolve(Options{
		Root:            dir,
		Command:         "  make test ",
		SkipDirectories: []string{" .git", "", "node_modules "},
		Match:           []string{"**/*.go", " "},
		Pty:             true,
	})
	require.NoError(t, err)

	assert.Equal(t, "make test", session.Command())
	assert.True(t, session.HasCommand())
	assert.Equal(t, []string{".git", "node_modules"}, session.SkipDirectories())
	assert.Equal(t, []string{"**/*.go"}, session.Match())
	assert.True(t, session.Pty())
}

func TestResolveReturnsCopies(t *testing.T) {
	session, err := Resolve(Options{Root: t.TempDir(), SkipDirectories: []string{"b"}})
	require.NoError(t, err)

	skipped := session.SkipDirectories()
	skipped[0] = "mutated"
	assert.Equal(t, []string{"b"}, session.SkipDirectories())
}

func TestResolveFollowsSymlinkedRoot(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "target")
	require.NoError(t, os.Mkdir(target, 0o755))
	link := filepath.Join(base, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	session, err := Resolve(Options{Root: link})
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(target)
	require.NoError(t, err)
	assert.Equal(t, want, session.Root())
}

func TestResolveRejectsMissingRoot(t *testing.T) {
	_, err := Resolve(Options{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestResolveRejectsFileRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := Resolve(Options{Root: path})
	assert.True(t, errors.Is(err, ErrRootNotDirectory))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList("a, b,,"))
	assert.Empty(t, SplitList(""))
}
