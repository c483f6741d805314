package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"treewatch/internal/event"
	"treewatch/internal/hook"
	"treewatch/internal/logging"
	"treewatch/internal/metrics"
)

// State is the lifecycle position of a Loop.
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateTerminated
)

func (state State) String() string {
	switch state {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Reason explains why a loop terminated.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonRegistrationFailed means the initial tree walk reported a failure.
	ReasonRegistrationFailed
	// ReasonNoCoverage means the initial walk succeeded but every directory
	// was excluded.
	ReasonNoCoverage
	// ReasonCoverageLost means the last covered directory failed to re-arm.
	ReasonCoverageLost
	// ReasonNotifierFailed means the blocking wait returned an error.
	ReasonNotifierFailed
	// ReasonCancelled means the caller's context ended the session.
	ReasonCancelled
)

func (reason Reason) String() string {
	switch reason {
	case ReasonNone:
		return "none"
	case ReasonRegistrationFailed:
		return "registration_failed"
	case ReasonNoCoverage:
		return "no_coverage"
	case ReasonCoverageLost:
		return "coverage_lost"
	case ReasonNotifierFailed:
		return "notifier_failed"
	case ReasonCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	ErrRegistrationFailed = errors.New("initial registration failed")
	ErrNoCoverage         = errors.New("no directories to watch")
	ErrCoverageLost       = errors.New("all watched directories were lost")
)

// Result is the terminal outcome of a session.
type Result struct {
	Reason Reason
	Err    error
}

type LoopOptions struct {
	Root     string
	Command  string
	Registry *Registry
	Notifier Notifier
	Runner   Runner
	// Match gates command runs by changed path. Nil runs for every change.
	Match func(path string) bool
	// Env is the base environment for the command. Nil uses the host
	// environment.
	Env     []string
	Logger  *logging.Logger
	Metrics *metrics.Registry
	Bus     *event.Bus[Notification]
	Clock   func() time.Time
}

// Loop dispatches notifier batches for one watch session. Run may be called
// once.
type Loop struct {
	root     string
	command  string
	registry *Registry
	notifier Notifier
	runner   Runner
	match    func(string) bool
	env      []string
	logger   *logging.Logger
	metrics  *metrics.Registry
	bus      *event.Bus[Notification]
	clock    func() time.Time
	state    atomic.Int32
}

func NewLoop(options LoopOptions) *Loop {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	env := options.Env
	if env == nil {
		env = os.Environ()
	}
	clock := options.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Loop{
		root:     options.Root,
		command:  options.Command,
		registry: options.Registry,
		notifier: options.Notifier,
		runner:   options.Runner,
		match:    options.Match,
		env:      env,
		logger:   logger,
		metrics:  options.Metrics,
		bus:      options.Bus,
		clock:    clock,
	}
}

func (loop *Loop) State() State {
	if loop == nil {
		return StateTerminated
	}
	return State(loop.state.Load())
}

// Start runs the loop on its own goroutine. The channel yields the result
// once and is then closed.
func (loop *Loop) Start(ctx context.Context) <-chan Result {
	done := make(chan Result, 1)
	go func() {
		defer close(done)
		done <- loop.Run(ctx)
	}()
	return done
}

// Run registers the root and dispatches batches until the session ends.
func (loop *Loop) Run(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	loop.state.Store(int32(StateInitializing))

	if !loop.registry.RegisterTree(loop.root) {
		return loop.terminate(Result{Reason: ReasonRegistrationFailed, Err: ErrRegistrationFailed})
	}
	if loop.registry.IsEmpty() {
		return loop.terminate(Result{Reason: ReasonNoCoverage, Err: ErrNoCoverage})
	}

	loop.state.Store(int32(StateRunning))
	loop.logger.Info("watching directory tree", map[string]string{
		"root":        loop.root,
		"directories": humanize.Comma(int64(loop.registry.Len())),
	})

	for {
		if ctx.Err() != nil {
			return loop.terminate(Result{Reason: ReasonCancelled})
		}

		batch, err := loop.notifier.NextBatch(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return loop.terminate(Result{Reason: ReasonCancelled})
			}
			loop.logger.Error("notifier failed", map[string]string{
				"error":    err.Error(),
				"severity": "fatal",
			})
			return loop.terminate(Result{Reason: ReasonNotifierFailed, Err: err})
		}
		loop.metrics.IncBatches()

		dir, ok := loop.registry.Lookup(batch.Handle)
		if !ok {
			loop.metrics.IncStaleHandles()
			continue
		}
		for _, record := range batch.Records {
			loop.dispatch(ctx, dir, record)
		}

		if loop.notifier.Rearm(batch.Handle) {
			continue
		}
		loop.registry.Remove(batch.Handle)
		loop.metrics.IncHandlesRemoved()
		loop.logger.Info("directory no longer watched", map[string]string{
			"path":      dir,
			"remaining": humanize.Comma(int64(loop.registry.Len())),
		})
		if loop.registry.IsEmpty() {
			return loop.terminate(Result{Reason: ReasonCoverageLost, Err: ErrCoverageLost})
		}
	}
}

func (loop *Loop) dispatch(ctx context.Context, dir string, record Record) {
	loop.metrics.IncRecord(record.Kind.String())
	if record.Kind == KindOverflow {
		loop.logger.Debug("notification overflow", map[string]string{
			"path": dir,
		})
		return
	}

	path := filepath.Join(dir, record.Name)
	loop.logger.Debug("change", map[string]string{
		"kind": record.Kind.String(),
		"path": path,
	})
	loop.bus.Publish(Notification{
		Kind:       record.Kind,
		KindName:   record.Kind.String(),
		Path:       path,
		Dir:        dir,
		OccurredAt: loop.clock(),
	})

	loop.runCommand(ctx, path)

	if record.Kind != KindCreated {
		return
	}
	info, err := os.Lstat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if !loop.registry.RegisterTree(path) {
		loop.logger.Warn("new directory not fully watched", map[string]string{
			"path": path,
		})
	}
}

func (loop *Loop) runCommand(ctx context.Context, path string) {
	if loop.command == "" || loop.runner == nil {
		return
	}
	if loop.match != nil && !loop.match(path) {
		loop.metrics.IncCommandsSkipped()
		return
	}

	env := hook.Environment(path, loop.env)
	if err := loop.runner.Run(ctx, loop.command, loop.root, env); err != nil {
		loop.metrics.IncCommandsFailed()
		loop.logger.Warn("command failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
		return
	}
	loop.metrics.IncCommandsRun()
}

func (loop *Loop) terminate(result Result) Result {
	loop.state.Store(int32(StateTerminated))
	fields := map[string]string{
		"reason": result.Reason.String(),
	}
	if result.Err != nil {
		fields["error"] = result.Err.Error()
	}
	if result.Reason == ReasonCancelled {
		loop.logger.Info("watch stopped", fields)
	} else {
		loop.logger.Error("watch terminated", fields)
	}
	return result
}
