// Package hook runs the per-change command and builds the environment it
// sees.
package hook

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvWatchedDir       = "WATCHED_DIR"
	EnvWatchedFile      = "WATCHED_FILE"
	EnvWatchedExtension = "WATCHED_EXTENSION"
)

// Extension returns the text after the last dot of name. Names without a dot,
// with a leading dot only or with a trailing dot are returned whole.
func Extension(name string) string {
	index := strings.LastIndex(name, ".")
	if index <= 0 || index >= len(name)-1 {
		return name
	}
	return name[index+1:]
}

// Environment returns base followed by the WATCHED_* entries for changed.
// Earlier WATCHED_* entries in base are dropped.
func Environment(changed string, base []string) []string {
	name := filepath.Base(changed)
	env := make([]string, 0, len(base)+3)
	for _, entry := range base {
		if isWatchedEntry(entry) {
			continue
		}
		env = append(env, entry)
	}
	return append(env,
		EnvWatchedDir+"="+CanonicalDir(filepath.Dir(changed)),
		EnvWatchedFile+"="+name,
		EnvWatchedExtension+"="+Extension(name),
	)
}

// CanonicalDir resolves dir to an absolute path with symlinks evaluated. A
// directory that no longer exists is returned absolute and cleaned.
func CanonicalDir(dir string) string {
	absolute, err := filepath.Abs(dir)
	if err != nil {
		return filepath.Clean(dir)
	}
	resolved, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		return absolute
	}
	return resolved
}

// BaseEnvironment is the host environment plus the variables of envFile, if
// one is given. File values override host values.
func BaseEnvironment(envFile string) ([]string, error) {
	env := os.Environ()
	if envFile == "" {
		return env, nil
	}
	values, err := godotenv.Read(envFile)
	if err != nil {
		return nil, fmt.Errorf("unable to load environment file (%s): %w", envFile, err)
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	merged := make([]string, 0, len(env)+len(keys))
	for _, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if _, overridden := values[key]; overridden {
			continue
		}
		merged = append(merged, entry)
	}
	for _, key := range keys {
		merged = append(merged, key+"="+values[key])
	}
	return merged, nil
}

func isWatchedEntry(entry string) bool {
	key, _, _ := strings.Cut(entry, "=")
	switch key {
	case EnvWatchedDir, EnvWatchedFile, EnvWatchedExtension:
		return true
	default:
		return false
	}
}
