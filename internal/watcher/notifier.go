package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"treewatch/internal/logging"
)

type NotifierOptions struct {
	Logger *logging.Logger
	// BufferSize sizes the fsnotify event channel. Zero keeps the fsnotify
	// default.
	BufferSize uint
}

// FSNotifier adapts fsnotify to the Notifier contract. Each subscribed
// directory gets its own handle and events are grouped into batches per
// handle in arrival order.
type FSNotifier struct {
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	mutex   sync.Mutex
	handles map[Handle]string
	paths   map[string]Handle
	stale   map[Handle]struct{}
	pending []Batch
	nextID  Handle
	closed  bool
}

func NewFSNotifier(options NotifierOptions) (*FSNotifier, error) {
	var (
		watcher *fsnotify.Watcher
		err     error
	)
	if options.BufferSize > 0 {
		watcher, err = fsnotify.NewBufferedWatcher(options.BufferSize)
	} else {
		watcher, err = fsnotify.NewWatcher()
	}
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &FSNotifier{
		watcher: watcher,
		logger:  logger,
		handles: make(map[Handle]string),
		paths:   make(map[string]Handle),
		stale:   make(map[Handle]struct{}),
	}, nil
}

func (notifier *FSNotifier) Subscribe(dir string) (Handle, error) {
	dir = filepath.Clean(dir)

	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	if notifier.closed {
		return 0, ErrNotifierClosed
	}
	if handle, ok := notifier.paths[dir]; ok {
		if _, isStale := notifier.stale[handle]; !isStale {
			return handle, nil
		}
	}

	if err := notifier.watcher.Add(dir); err != nil {
		return 0, err
	}
	notifier.nextID++
	handle := notifier.nextID
	notifier.handles[handle] = dir
	notifier.paths[dir] = handle
	return handle, nil
}

func (notifier *FSNotifier) NextBatch(ctx context.Context) (Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if batch, ok := notifier.popPending(); ok {
		return batch, nil
	}

	for {
		select {
		case <-ctx.Done():
			return Batch{}, ctx.Err()
		case event, ok := <-notifier.watcher.Events:
			if !ok {
				return Batch{}, ErrNotifierClosed
			}
			notifier.queue(event)
			notifier.drain()
		case err, ok := <-notifier.watcher.Errors:
			if !ok {
				return Batch{}, ErrNotifierClosed
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				return Batch{}, err
			}
			notifier.queueOverflow()
		}
		if batch, ok := notifier.popPending(); ok {
			return batch, nil
		}
	}
}

// Rearm keeps the handle alive while its directory still exists. fsnotify
// watches stay armed on their own, so only invalidation needs work here.
func (notifier *FSNotifier) Rearm(handle Handle) bool {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()

	dir, ok := notifier.handles[handle]
	if !ok || notifier.closed {
		return false
	}
	_, isStale := notifier.stale[handle]
	if !isStale {
		info, err := os.Lstat(dir)
		if err == nil && info.IsDir() {
			return true
		}
	}

	delete(notifier.handles, handle)
	delete(notifier.stale, handle)
	if notifier.paths[dir] == handle {
		delete(notifier.paths, dir)
		if !isStale {
			notifier.removeWatchLocked(dir)
		}
	}
	return false
}

func (notifier *FSNotifier) Close() error {
	notifier.mutex.Lock()
	if notifier.closed {
		notifier.mutex.Unlock()
		return nil
	}
	notifier.closed = true
	notifier.mutex.Unlock()
	return notifier.watcher.Close()
}

// watchList returns the directories fsnotify currently watches, sorted.
func (notifier *FSNotifier) watchList() []string {
	list := notifier.watcher.WatchList()
	sort.Strings(list)
	return list
}

func (notifier *FSNotifier) drain() {
	for {
		select {
		case event, ok := <-notifier.watcher.Events:
			if !ok {
				return
			}
			notifier.queue(event)
		default:
			return
		}
	}
}

func (notifier *FSNotifier) queue(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		notifier.invalidateLocked(path)
	}

	parent, ok := notifier.paths[filepath.Dir(path)]
	if !ok {
		return
	}
	kind, ok := kindOf(event.Op)
	if !ok {
		return
	}
	notifier.appendLocked(parent, &Record{Kind: kind, Name: filepath.Base(path)})
}

// invalidateLocked marks the handles of path and of every directory below it
// stale and drops their fsnotify watches. A moved directory keeps its inode,
// so a later Subscribe under the new name would otherwise be handed the old
// watch and the old path.
func (notifier *FSNotifier) invalidateLocked(path string) {
	prefix := path + string(filepath.Separator)
	var affected []Handle
	for handle, dir := range notifier.handles {
		if dir != path && !strings.HasPrefix(dir, prefix) {
			continue
		}
		if _, isStale := notifier.stale[handle]; isStale {
			continue
		}
		affected = append(affected, handle)
	}
	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })

	for _, handle := range affected {
		dir := notifier.handles[handle]
		notifier.stale[handle] = struct{}{}
		notifier.appendLocked(handle, nil)
		notifier.removeWatchLocked(dir)
	}
}

func (notifier *FSNotifier) removeWatchLocked(dir string) {
	err := notifier.watcher.Remove(dir)
	if err == nil || errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return
	}
	notifier.logger.Debug("watch remove failed", map[string]string{
		"path":  dir,
		"error": err.Error(),
	})
}

func (notifier *FSNotifier) queueOverflow() {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()

	var lowest Handle
	for handle := range notifier.handles {
		if _, isStale := notifier.stale[handle]; isStale {
			continue
		}
		if lowest == 0 || handle < lowest {
			lowest = handle
		}
	}
	if lowest == 0 {
		return
	}
	notifier.appendLocked(lowest, &Record{Kind: KindOverflow})
}

// appendLocked adds record to the pending batch for handle, opening a new
// batch when there is none. Repeats of the batch's last record are dropped.
func (notifier *FSNotifier) appendLocked(handle Handle, record *Record) {
	for index := range notifier.pending {
		batch := &notifier.pending[index]
		if batch.Handle != handle {
			continue
		}
		if record == nil {
			return
		}
		if count := len(batch.Records); count > 0 && batch.Records[count-1] == *record {
			return
		}
		batch.Records = append(batch.Records, *record)
		return
	}

	batch := Batch{Handle: handle}
	if record != nil {
		batch.Records = []Record{*record}
	}
	notifier.pending = append(notifier.pending, batch)
}

func (notifier *FSNotifier) popPending() (Batch, bool) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	if len(notifier.pending) == 0 {
		return Batch{}, false
	}
	batch := notifier.pending[0]
	notifier.pending = notifier.pending[1:]
	return batch, true
}

func kindOf(op fsnotify.Op) (Kind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return KindCreated, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return KindDeleted, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Chmod):
		return KindModified, true
	default:
		return 0, false
	}
}
