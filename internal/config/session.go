// Package config resolves the settings of one watch session from command-line
// values and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrRootNotDirectory = errors.New("root is not a directory")

// Options are the raw session settings before resolution.
type Options struct {
	Root            string
	Command         string
	SkipDirectories []string
	Match           []string
	EnvFile         string
	Pty             bool
}

// Session is the resolved, read-only configuration of a watch session.
type Session struct {
	root            string
	command         string
	skipDirectories []string
	match           []string
	envFile         string
	pty             bool
}

// Resolve validates options and fixes the root as an absolute path with
// symlinks evaluated. An empty root means the working directory.
func Resolve(options Options) (Session, error) {
	root := strings.TrimSpace(options.Root)
	if root == "" {
		root = "."
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return Session{}, fmt.Errorf("resolve root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		return Session{}, fmt.Errorf("resolve root %q: %w", root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return Session{}, fmt.Errorf("stat root %q: %w", root, err)
	}
	if !info.IsDir() {
		return Session{}, fmt.Errorf("%w: %s", ErrRootNotDirectory, resolved)
	}

	envFile := strings.TrimSpace(options.EnvFile)
	if envFile != "" {
		if envFile, err = filepath.Abs(envFile); err != nil {
			return Session{}, fmt.Errorf("resolve env file: %w", err)
		}
	}

	return Session{
		root:            resolved,
		command:         strings.TrimSpace(options.Command),
		skipDirectories: cleanList(options.SkipDirectories),
		match:           cleanList(options.Match),
		envFile:         envFile,
		pty:             options.Pty,
	}, nil
}

func (session Session) Root() string {
	return session.root
}

func (session Session) Command() string {
	return session.command
}

func (session Session) HasCommand() bool {
	return session.command != ""
}

func (session Session) SkipDirectories() []string {
	return append([]string(nil), session.skipDirectories...)
}

func (session Session) Match() []string {
	return append([]string(nil), session.match...)
}

func (session Session) EnvFile() string {
	return session.envFile
}

func (session Session) Pty() bool {
	return session.pty
}

// SplitList splits a comma-separated flag value, dropping blanks.
func SplitList(value string) []string {
	return cleanList(strings.Split(value, ","))
}

func cleanList(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		cleaned = append(cleaned, value)
	}
	return cleaned
}
