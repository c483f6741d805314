package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treewatch/internal/logging"
	"treewatch/internal/watcher"
)

func starterReturning(result watcher.Result, err error) startFunc {
	return func(context.Context, Config, *logging.Logger, io.Writer) (watcher.Result, error) {
		return result, err
	}
}

func TestRunExitCodes(t *testing.T) {
	cases := []struct {
		name   string
		result watcher.Result
		err    error
		code   int
	}{
		{name: "cancelled", result: watcher.Result{Reason: watcher.ReasonCancelled}, code: exitCodeSuccess},
		{name: "registration failed", result: watcher.Result{Reason: watcher.ReasonRegistrationFailed}, code: exitCodeStartFailed},
		{name: "no coverage", result: watcher.Result{Reason: watcher.ReasonNoCoverage}, code: exitCodeStartFailed},
		{name: "coverage lost", result: watcher.Result{Reason: watcher.ReasonCoverageLost}, code: exitCodeCoverageLost},
		{name: "notifier failed", result: watcher.Result{Reason: watcher.ReasonNotifierFailed, Err: errors.New("boom")}, code: exitCodeNotifierFailed},
		{name: "start error", err: errors.New("root is not a directory"), code: exitCodeStartFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := runWithStarter([]string{"."}, &stdout, &stderr, starterReturning(tc.result, tc.err))
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestRunStartErrorIsLogged(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runWithStarter([]string{"."}, &stdout, &stderr, starterReturning(watcher.Result{}, errors.New("no such directory")))

	assert.Equal(t, exitCodeStartFailed, code)
	assert.Contains(t, stderr.String(), "watch could not start")
	assert.Contains(t, stderr.String(), "no such directory")
}

func TestRunUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runWithStarter([]string{"-c_invalid"}, &stdout, &stderr, starterReturning(watcher.Result{}, nil))

	assert.Equal(t, exitCodeUsage, code)
	assert.Contains(t, stderr.String(), "unrecognized argument: -c_invalid")
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runWithStarter([]string{"--version"}, &stdout, &stderr, nil)

	assert.Equal(t, exitCodeSuccess, code)
	assert.True(t, strings.HasPrefix(stdout.String(), "treewatch "))
}

func TestRunPassesConfigToStarter(t *testing.T) {
	var got Config
	starter := func(_ context.Context, cfg Config, _ *logging.Logger, _ io.Writer) (watcher.Result, error) {
		got = cfg
		return watcher.Result{Reason: watcher.ReasonCancelled}, nil
	}
	var stdout, stderr bytes.Buffer
	code := runWithStarter([]string{"-d", "/srv", "-c", "true", "--skipDirectories", "a,b"}, &stdout, &stderr, starter)

	require.Equal(t, exitCodeSuccess, code)
	assert.Equal(t, "/srv", got.Options.Root)
	assert.Equal(t, "true", got.Options.Command)
	assert.Equal(t, []string{"a", "b"}, got.Options.SkipDirectories)
}

func runSession(t *testing.T, ctx context.Context, cfg Config) <-chan watcher.Result {
	t.Helper()
	done := make(chan watcher.Result, 1)
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(64), logging.LevelDebug, nil)
	go func() {
		result, err := startSession(ctx, cfg, logger, io.Discard)
		if err != nil {
			result = watcher.Result{Reason: watcher.ReasonNone, Err: err}
		}
		done <- result
	}()
	return done
}

func TestStartSessionCancelled(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	done := runSession(t, ctx, Config{Options: configOptions(root)})

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		assert.Equal(t, watcher.ReasonCancelled, result.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestStartSessionCoverageLost(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watched")
	require.NoError(t, os.Mkdir(root, 0o755))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSession(t, ctx, Config{Options: configOptions(root)})

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.RemoveAll(root))

	select {
	case result := <-done:
		assert.Equal(t, watcher.ReasonCoverageLost, result.Reason)
		assert.Equal(t, exitCodeCoverageLost, exitCodeForResult(result))
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end after its root was removed")
	}
}

func TestStartSessionRejectsMissingRoot(t *testing.T) {
	logger := logging.Discard()
	_, err := startSession(context.Background(), Config{Options: configOptions(filepath.Join(t.TempDir(), "missing"))}, logger, io.Discard)
	assert.Error(t, err)
}

func TestStartSessionRejectsBadPattern(t *testing.T) {
	options := configOptions(t.TempDir())
	options.Match = []string{"[unclosed"}
	_, err := startSession(context.Background(), Config{Options: options}, logging.Discard(), io.Discard)
	assert.Error(t, err)
}
