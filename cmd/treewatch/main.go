package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"treewatch/internal/logging"
	"treewatch/internal/version"
	"treewatch/internal/watcher"
)

type startFunc func(ctx context.Context, cfg Config, logger *logging.Logger, out io.Writer) (watcher.Result, error)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	return runWithStarter(args, out, errOut, startSession)
}

func runWithStarter(args []string, out io.Writer, errOut io.Writer, start startFunc) int {
	cfg, err := parseArgs(args, out, errOut, os.Getenv)
	if err != nil {
		if errors.Is(err, errHelp) {
			return exitCodeSuccess
		}
		fmt.Fprintf(errOut, "treewatch: %v\n", err)
		fmt.Fprintln(errOut, "Run 'treewatch --help' for usage.")
		return exitCodeUsage
	}
	if cfg.ShowVersion {
		fmt.Fprintln(out, version.Banner("treewatch"))
		return exitCodeSuccess
	}
	if start == nil {
		return exitCodeSuccess
	}

	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), cfg.LogLevel, errOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	stopSignals := watchShutdownSignals(logger, cancel, signalCh)
	defer stopSignals()

	result, err := start(ctx, cfg, logger, out)
	if err != nil {
		logger.Error("watch could not start", map[string]string{
			"error": err.Error(),
		})
		return exitCodeStartFailed
	}
	return exitCodeForResult(result)
}

func exitCodeForResult(result watcher.Result) int {
	switch result.Reason {
	case watcher.ReasonNone, watcher.ReasonCancelled:
		return exitCodeSuccess
	case watcher.ReasonRegistrationFailed, watcher.ReasonNoCoverage:
		return exitCodeStartFailed
	case watcher.ReasonCoverageLost:
		return exitCodeCoverageLost
	default:
		return exitCodeNotifierFailed
	}
}
