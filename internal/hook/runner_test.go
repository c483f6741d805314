package hook

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treewatch/internal/logging"
)

func requireUnixShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestRunnerForwardsStdout(t *testing.T) {
	requireUnixShell(t)
	var stdout bytes.Buffer
	runner := NewRunner(RunnerOptions{Stdout: &stdout})

	err := runner.Run(context.Background(), "echo hi", t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", stdout.String())
}

func runWithDeadline(t *testing.T, runner *ExecRunner, command string) error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- runner.Run(context.Background(), command, t.TempDir(), []string{"PATH=/usr/bin:/bin"})
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatalf("command %q did not finish", command)
		return nil
	}
}

func TestRunnerForwardsOversizedLine(t *testing.T) {
	requireUnixShell(t)
	var stdout bytes.Buffer
	runner := NewRunner(RunnerOptions{Stdout: &stdout})

	err := runWithDeadline(t, runner, `sh -c 'head -c 3000000 /dev/zero | tr "\0" a; echo; echo after'`)
	require.NoError(t, err)

	output := stdout.String()
	assert.Len(t, output, 3000000+len("\nafter\n"))
	assert.True(t, strings.HasSuffix(output, "a\nafter\n"))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("stdout closed")
}

type failingCloser struct{}

func (failingCloser) Close() error {
	return errors.New("bad file descriptor")
}

func TestRunnerLogsTerminalCloseFailure(t *testing.T) {
	logs := logging.NewLogBuffer(8)
	runner := NewRunner(RunnerOptions{Logger: logging.NewLoggerWithOutput(logs, logging.LevelDebug, nil)})

	runner.closeTerminal(failingCloser{})

	entries := logs.Find("pty close failed")
	require.Len(t, entries, 1)
	assert.Equal(t, logging.LevelDebug, entries[0].Level)
	assert.Equal(t, "bad file descriptor", entries[0].Context["error"])
}

func TestRunnerDrainsOutputAfterWriteFailure(t *testing.T) {
	requireUnixShell(t)
	runner := NewRunner(RunnerOptions{Stdout: failingWriter{}})

	err := runWithDeadline(t, runner, `sh -c 'head -c 3000000 /dev/zero; echo done'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdout closed")
}

func TestRunnerPassesEnvironmentAndWorkDir(t *testing.T) {
	requireUnixShell(t)
	var stdout bytes.Buffer
	runner := NewRunner(RunnerOptions{Stdout: &stdout})
	workDir := t.TempDir()
	env := Environment("/root/sub/file.txt", []string{"PATH=/usr/bin:/bin"})

	err := runner.Run(context.Background(), `sh -c 'echo "$WATCHED_FILE $WATCHED_EXTENSION"; pwd'`, workDir, env)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "file.txt txt", lines[0])
	assert.Equal(t, CanonicalDir(workDir), CanonicalDir(lines[1]))
}

func TestRunnerIgnoresExitStatus(t *testing.T) {
	requireUnixShell(t)
	var stderr bytes.Buffer
	runner := NewRunner(RunnerOptions{Stdout: &bytes.Buffer{}, Stderr: &stderr})

	err := runner.Run(context.Background(), `sh -c 'echo oops >&2; exit 3'`, t.TempDir(), []string{"PATH=/usr/bin:/bin"})
	assert.NoError(t, err)
	assert.Equal(t, "oops\n", stderr.String())
}

func TestRunnerLaunchFailure(t *testing.T) {
	runner := NewRunner(RunnerOptions{Stdout: &bytes.Buffer{}})

	err := runner.Run(context.Background(), "treewatch-no-such-binary --flag", t.TempDir(), nil)
	assert.Error(t, err)
}

func TestRunnerEmptyCommand(t *testing.T) {
	runner := NewRunner(RunnerOptions{})

	err := runner.Run(context.Background(), "   ", "", nil)
	assert.True(t, errors.Is(err, ErrEmptyCommand))
}

func TestSplitQuoting(t *testing.T) {
	args, err := Split(`make "build all" 'x y'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"make", "build all", "x y"}, args)

	_, err = Split(`echo "unterminated`)
	assert.Error(t, err)
}

func TestRunnerPtyMode(t *testing.T) {
	requireUnixShell(t)
	var stdout bytes.Buffer
	runner := NewRunner(RunnerOptions{Stdout: &stdout, Pty: true})

	err := runner.Run(context.Background(), "echo tty", t.TempDir(), []string{"PATH=/usr/bin:/bin"})
	if err != nil && strings.Contains(err.Error(), "pty") {
		t.Skipf("pseudo-terminal unavailable: %v", err)
	}
	require.NoError(t, err)
	assert.Equal(t, "tty\n", stdout.String())
}

func TestRunnerCancelStopsCommand(t *testing.T) {
	requireUnixShell(t)
	runner := NewRunner(RunnerOptions{Stdout: &bytes.Buffer{}})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runner.Run(ctx, "sleep 30", t.TempDir(), []string{"PATH=/usr/bin:/bin"})
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("command kept running after cancellation")
	}
}
