package hook

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	"treewatch/internal/logging"
)

const (
	readBufferSize = 64 * 1024
	// killGracePeriod is how long a cancelled command may take to exit after
	// SIGTERM before it is killed.
	killGracePeriod = 2 * time.Second
)

var ErrEmptyCommand = errors.New("command is empty")

type RunnerOptions struct {
	Stdout io.Writer
	Stderr io.Writer
	// Pty runs the command on a pseudo-terminal so it sees an interactive
	// stdout. Stderr is merged into the terminal stream.
	Pty    bool
	Logger *logging.Logger
}

// ExecRunner starts the command as a child process and forwards its output
// line by line. A non-zero exit status is not an error.
type ExecRunner struct {
	stdout io.Writer
	stderr io.Writer
	pty    bool
	logger *logging.Logger
	mu     sync.Mutex
}

func NewRunner(options RunnerOptions) *ExecRunner {
	stdout := options.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := options.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &ExecRunner{
		stdout: stdout,
		stderr: stderr,
		pty:    options.Pty,
		logger: logger,
	}
}

// Split parses command with shell quoting rules.
func Split(command string) ([]string, error) {
	args, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	return args, nil
}

func (runner *ExecRunner) Run(ctx context.Context, command, workDir string, env []string) error {
	args, err := Split(command)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workDir
	cmd.Env = env
	prepareCommand(cmd, runner.pty)

	runner.mu.Lock()
	defer runner.mu.Unlock()

	if runner.pty {
		err = runner.runPty(cmd)
	} else {
		err = runner.runPipe(cmd)
	}
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		runner.logger.Debug("command exited", map[string]string{
			"command":   args[0],
			"exit_code": strconv.Itoa(exitErr.ExitCode()),
		})
		return nil
	}
	return err
}

func (runner *ExecRunner) runPipe(cmd *exec.Cmd) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open command stdout: %w", err)
	}
	cmd.Stderr = runner.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	readErr := forwardLines(stdout, runner.stdout)
	waitErr := cmd.Wait()
	if readErr != nil {
		return fmt.Errorf("read command output: %w", readErr)
	}
	return waitErr
}

func (runner *ExecRunner) runPty(cmd *exec.Cmd) error {
	terminal, err := startPty(cmd)
	if err != nil {
		return fmt.Errorf("start command on pty: %w", err)
	}
	readErr := forwardLines(terminal, runner.stdout)
	runner.closeTerminal(terminal)
	waitErr := cmd.Wait()
	if readErr != nil && !isPtyClosed(readErr) {
		return fmt.Errorf("read command output: %w", readErr)
	}
	return waitErr
}

func (runner *ExecRunner) closeTerminal(terminal io.Closer) {
	if err := terminal.Close(); err != nil {
		runner.logger.Debug("pty close failed", map[string]string{
			"error": err.Error(),
		})
	}
}

// forwardLines copies output to writer line by line until reader ends.
// Lines longer than the read buffer are passed through in pieces. After a
// write failure the rest of the output is still read and discarded so the
// command never blocks on a full pipe.
func forwardLines(reader io.Reader, writer io.Writer) error {
	buffered := bufio.NewReaderSize(reader, readBufferSize)
	var writeErr error
	for {
		chunk, err := buffered.ReadSlice('\n')
		if len(chunk) > 0 && writeErr == nil {
			writeErr = writeChunk(writer, chunk, errors.Is(err, bufio.ErrBufferFull))
		}
		switch {
		case err == nil, errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF):
			return writeErr
		default:
			if writeErr != nil {
				return writeErr
			}
			return err
		}
	}
}

// writeChunk writes one piece of a line. The last piece loses its trailing
// carriage return and always ends in a newline.
func writeChunk(writer io.Writer, chunk []byte, partial bool) error {
	if partial {
		_, err := writer.Write(chunk)
		return err
	}
	line := bytes.TrimSuffix(bytes.TrimSuffix(chunk, []byte("\n")), []byte("\r"))
	out := make([]byte, 0, len(line)+1)
	_, err := writer.Write(append(append(out, line...), '\n'))
	return err
}
