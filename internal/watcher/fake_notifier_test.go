package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

var errEndOfScript = errors.New("end of script")

type scriptStep func(notifier *fakeNotifier) (Batch, error)

// fakeNotifier plays back scripted batches. When the script is exhausted
// NextBatch blocks until the context is done.
type fakeNotifier struct {
	mutex      sync.Mutex
	handles    map[Handle]string
	paths      map[string]Handle
	failures   map[string]error
	rearmFails map[string]bool
	steps      []scriptStep
	nextID     Handle
	subscribes []string
	nextCalls  int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		handles:    make(map[Handle]string),
		paths:      make(map[string]Handle),
		failures:   make(map[string]error),
		rearmFails: make(map[string]bool),
	}
}

func (notifier *fakeNotifier) Subscribe(dir string) (Handle, error) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	dir = filepath.Clean(dir)
	notifier.subscribes = append(notifier.subscribes, dir)
	if err := notifier.failures[dir]; err != nil {
		return 0, err
	}
	if handle, ok := notifier.paths[dir]; ok {
		return handle, nil
	}
	notifier.nextID++
	notifier.handles[notifier.nextID] = dir
	notifier.paths[dir] = notifier.nextID
	return notifier.nextID, nil
}

func (notifier *fakeNotifier) NextBatch(ctx context.Context) (Batch, error) {
	notifier.mutex.Lock()
	notifier.nextCalls++
	if len(notifier.steps) == 0 {
		notifier.mutex.Unlock()
		<-ctx.Done()
		return Batch{}, ctx.Err()
	}
	step := notifier.steps[0]
	notifier.steps = notifier.steps[1:]
	notifier.mutex.Unlock()
	return step(notifier)
}

func (notifier *fakeNotifier) Rearm(handle Handle) bool {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	dir, ok := notifier.handles[handle]
	if !ok {
		return false
	}
	return !notifier.rearmFails[dir]
}

func (notifier *fakeNotifier) Close() error {
	return nil
}

func (notifier *fakeNotifier) script(steps ...scriptStep) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	notifier.steps = append(notifier.steps, steps...)
}

func (notifier *fakeNotifier) handleFor(dir string) Handle {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	handle, ok := notifier.paths[filepath.Clean(dir)]
	if !ok {
		panic(fmt.Sprintf("no handle for %s", dir))
	}
	return handle
}

func (notifier *fakeNotifier) subscribeCount(dir string) int {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	count := 0
	for _, subscribed := range notifier.subscribes {
		if subscribed == filepath.Clean(dir) {
			count++
		}
	}
	return count
}

func (notifier *fakeNotifier) nextBatchCalls() int {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	return notifier.nextCalls
}

func batchFor(dir string, records ...Record) scriptStep {
	return func(notifier *fakeNotifier) (Batch, error) {
		return Batch{Handle: notifier.handleFor(dir), Records: records}, nil
	}
}

func failWith(err error) scriptStep {
	return func(*fakeNotifier) (Batch, error) {
		return Batch{}, err
	}
}

type runCall struct {
	command string
	workDir string
	env     []string
}

type recordingRunner struct {
	mutex sync.Mutex
	calls []runCall
	err   error
	seen  chan runCall
}

func (runner *recordingRunner) Run(_ context.Context, command, workDir string, env []string) error {
	call := runCall{command: command, workDir: workDir, env: env}
	runner.mutex.Lock()
	runner.calls = append(runner.calls, call)
	seen := runner.seen
	runner.mutex.Unlock()
	if seen != nil {
		select {
		case seen <- call:
		default:
		}
	}
	return runner.err
}

func (runner *recordingRunner) recorded() []runCall {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	return append([]runCall(nil), runner.calls...)
}
