// Package watcher keeps a directory tree under change notification and
// dispatches each change to a command hook.
//
// The Registry owns the mapping between notifier handles and directories.
// The Loop drives a session: it registers the tree, blocks for batches,
// grows coverage when directories are created and ends the session when
// coverage is gone or the notifier fails. FSNotifier adapts fsnotify to the
// Notifier contract the loop consumes.
package watcher
