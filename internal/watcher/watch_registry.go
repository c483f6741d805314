package watcher

import (
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"treewatch/internal/logging"
	"treewatch/internal/metrics"
)

type RegistryOptions struct {
	Notifier   Notifier
	Exclusions []string
	Logger     *logging.Logger
	Metrics    *metrics.Registry
}

// Registry maps notifier handles to the directories they cover. It is
// mutated by a single loop goroutine; Len and Directories may be called from
// elsewhere.
type Registry struct {
	notifier   Notifier
	exclusions []string
	logger     *logging.Logger
	metrics    *metrics.Registry
	mutex      sync.RWMutex
	byHandle   map[Handle]string
	byDir      map[string]Handle
	size       atomic.Int64
}

func NewRegistry(options RegistryOptions) *Registry {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	exclusions := append([]string(nil), options.Exclusions...)
	return &Registry{
		notifier:   options.Notifier,
		exclusions: exclusions,
		logger:     logger,
		metrics:    options.Metrics,
		byHandle:   make(map[Handle]string),
		byDir:      make(map[string]Handle),
	}
}

// RegisterTree subscribes root and every directory below it, pre-order,
// without descending into excluded names. Failures are logged and leave the
// affected subtree unwatched; the walk carries on with its siblings. The
// result is false if anything failed.
func (registry *Registry) RegisterTree(root string) bool {
	if registry == nil || registry.notifier == nil {
		return false
	}
	if absolute, err := filepath.Abs(root); err == nil {
		root = absolute
	}

	ok := true
	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			ok = false
			registry.metrics.IncRegistrationsFailed()
			registry.logger.Error("directory walk failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if ShouldSkip(entry.Name(), registry.exclusions) {
			registry.logger.Debug("directory excluded", map[string]string{
				"path": path,
			})
			return filepath.SkipDir
		}

		handle, subscribeErr := registry.notifier.Subscribe(path)
		if subscribeErr != nil {
			ok = false
			registry.metrics.IncRegistrationsFailed()
			registry.logger.Error("directory subscribe failed", map[string]string{
				"path":  path,
				"error": subscribeErr.Error(),
			})
			return filepath.SkipDir
		}
		registry.insert(handle, path)
		return nil
	})
	if walkErr != nil {
		registry.logger.Error("directory walk aborted", map[string]string{
			"path":  root,
			"error": walkErr.Error(),
		})
		return false
	}
	return ok
}

// Lookup returns the directory for handle. An unknown handle is logged as an
// error since it means the notifier and the registry disagree.
func (registry *Registry) Lookup(handle Handle) (string, bool) {
	registry.mutex.RLock()
	dir, ok := registry.byHandle[handle]
	registry.mutex.RUnlock()
	if !ok {
		registry.logger.Error("event for unknown handle", map[string]string{
			"handle": handle.String(),
		})
		return "", false
	}
	return dir, true
}

// Remove drops handle from coverage. Removing an absent handle does nothing.
func (registry *Registry) Remove(handle Handle) {
	registry.mutex.Lock()
	dir, ok := registry.byHandle[handle]
	if !ok {
		registry.mutex.Unlock()
		return
	}
	delete(registry.byHandle, handle)
	if registry.byDir[dir] == handle {
		delete(registry.byDir, dir)
	}
	registry.size.Add(-1)
	registry.mutex.Unlock()

	registry.logger.Debug("directory unregistered", map[string]string{
		"path":   dir,
		"handle": handle.String(),
	})
}

func (registry *Registry) IsEmpty() bool {
	return registry.Len() == 0
}

// Len is safe to call from any goroutine.
func (registry *Registry) Len() int {
	if registry == nil {
		return 0
	}
	return int(registry.size.Load())
}

// Directories lists every covered directory, sorted.
func (registry *Registry) Directories() []string {
	if registry == nil {
		return nil
	}
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	dirs := make([]string, 0, len(registry.byHandle))
	for _, dir := range registry.byHandle {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

func (registry *Registry) insert(handle Handle, dir string) {
	registry.mutex.Lock()
	if _, exists := registry.byHandle[handle]; exists {
		registry.byDir[dir] = handle
		registry.mutex.Unlock()
		return
	}
	registry.byHandle[handle] = dir
	registry.byDir[dir] = handle
	registry.size.Add(1)
	registry.mutex.Unlock()
	registry.logger.Debug("directory registered", map[string]string{
		"path":   dir,
		"handle": handle.String(),
	})
}
