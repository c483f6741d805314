package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File is the YAML form of the session settings plus the process-level
// options the command line also accepts.
type File struct {
	Root            string   `yaml:"root"`
	Command         string   `yaml:"command"`
	SkipDirectories []string `yaml:"skipDirectories"`
	Match           []string `yaml:"match"`
	EnvFile         string   `yaml:"envFile"`
	Pty             bool     `yaml:"pty"`
	LogLevel        string   `yaml:"logLevel"`
	Monitor         string   `yaml:"monitor"`
}

// LoadFile reads a config file. Unknown keys are rejected and relative paths
// are taken relative to the file's directory.
func LoadFile(path string) (File, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config file: %w", err)
	}
	file, err := ParseFile(payload)
	if err != nil {
		return File{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return File{}, err
	}
	file.Root = relativeTo(base, file.Root)
	file.EnvFile = relativeTo(base, file.EnvFile)
	return file, nil
}

func ParseFile(payload []byte) (File, error) {
	var file File
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return File{}, err
	}
	return file, nil
}

// Options returns the session settings carried by the file.
func (file File) Options() Options {
	return Options{
		Root:            file.Root,
		Command:         file.Command,
		SkipDirectories: append([]string(nil), file.SkipDirectories...),
		Match:           append([]string(nil), file.Match...),
		EnvFile:         file.EnvFile,
		Pty:             file.Pty,
	}
}

func relativeTo(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
