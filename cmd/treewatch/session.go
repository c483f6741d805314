package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"treewatch/internal/config"
	"treewatch/internal/event"
	"treewatch/internal/hook"
	"treewatch/internal/logging"
	"treewatch/internal/metrics"
	"treewatch/internal/monitor"
	"treewatch/internal/watcher"
)

const (
	dispatchHistorySize = 256
	monitorStopTimeout  = 5 * time.Second
)

// startSession wires one watch session and blocks until its loop ends.
func startSession(ctx context.Context, cfg Config, logger *logging.Logger, out io.Writer) (watcher.Result, error) {
	session, err := config.Resolve(cfg.Options)
	if err != nil {
		return watcher.Result{}, err
	}
	env, err := hook.BaseEnvironment(session.EnvFile())
	if err != nil {
		return watcher.Result{}, err
	}
	matcher, err := hook.NewMatcher(session.Root(), session.Match())
	if err != nil {
		return watcher.Result{}, err
	}

	sessionID := uuid.New()
	startedAt := time.Now()
	collector := metrics.NewRegistry()

	notifier, err := watcher.NewFSNotifier(watcher.NotifierOptions{Logger: logger})
	if err != nil {
		return watcher.Result{}, err
	}
	defer notifier.Close()

	registry := watcher.NewRegistry(watcher.RegistryOptions{
		Notifier:   notifier,
		Exclusions: session.SkipDirectories(),
		Logger:     logger,
		Metrics:    collector,
	})
	collector.SetWatchedDirectories(registry.Len)

	bus := event.NewBus[watcher.Notification](ctx, event.BusOptions{
		Name:        "dispatch",
		HistorySize: dispatchHistorySize,
		Registry:    collector,
	})
	defer bus.Close()

	var runner watcher.Runner
	if session.HasCommand() {
		if _, err := hook.Split(session.Command()); err != nil {
			return watcher.Result{}, err
		}
		runner = hook.NewRunner(hook.RunnerOptions{
			Stdout: out,
			Pty:    session.Pty(),
			Logger: logger,
		})
	}

	loop := watcher.NewLoop(watcher.LoopOptions{
		Root:     session.Root(),
		Command:  session.Command(),
		Registry: registry,
		Notifier: notifier,
		Runner:   runner,
		Match:    matcher.Match,
		Env:      env,
		Logger:   logger,
		Metrics:  collector,
		Bus:      bus,
	})

	if cfg.MonitorAddr != "" {
		server := monitor.New(monitor.Options{
			Addr:        cfg.MonitorAddr,
			SessionID:   sessionID,
			Root:        session.Root(),
			Command:     session.Command(),
			State:       func() string { return loop.State().String() },
			Directories: registry.Directories,
			Metrics:     collector,
			Logger:      logger,
			Bus:         bus,
			StartedAt:   startedAt,
		})
		if err := server.Start(); err != nil {
			return watcher.Result{}, fmt.Errorf("start monitor: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), monitorStopTimeout)
			defer cancel()
			_ = server.Shutdown(stopCtx)
		}()
	}

	fields := map[string]string{
		"session_id": sessionID.String(),
		"root":       session.Root(),
	}
	if session.HasCommand() {
		fields["command"] = session.Command()
	}
	if skipped := session.SkipDirectories(); len(skipped) > 0 {
		fields["skip"] = strings.Join(skipped, ",")
	}
	logger.Info("watch session starting", fields)

	result := <-loop.Start(ctx)

	logger.Info("watch session ended", map[string]string{
		"session_id": sessionID.String(),
		"reason":     result.Reason.String(),
		"ran_for":    strings.TrimSpace(humanize.RelTime(startedAt, time.Now(), "", "")),
		"commands":   humanize.Comma(collector.Snapshot().CommandsRun),
	})
	return result, nil
}
