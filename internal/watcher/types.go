package watcher

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var ErrNotifierClosed = errors.New("notifier is closed")

// Kind classifies a change record.
type Kind int

const (
	KindCreated Kind = iota + 1
	KindModified
	KindDeleted
	// KindOverflow reports that the notifier dropped events. It carries no name.
	KindOverflow
)

func (kind Kind) String() string {
	switch kind {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindDeleted:
		return "deleted"
	case KindOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Handle identifies one directory subscription. Values are only meaningful
// to the notifier that issued them.
type Handle uint64

func (handle Handle) String() string {
	return strconv.FormatUint(uint64(handle), 10)
}

// Record is a single change reported for a subscribed directory. Name is
// relative to that directory.
type Record struct {
	Kind Kind
	Name string
}

// Batch groups the records delivered by one wait on the notifier.
type Batch struct {
	Handle  Handle
	Records []Record
}

// Notifier is the change-notification primitive the loop consumes.
type Notifier interface {
	// Subscribe starts delivering create, delete and modify changes for the
	// entries of dir.
	Subscribe(dir string) (Handle, error)
	// NextBatch blocks until a batch is available, ctx is done or the
	// notifier fails.
	NextBatch(ctx context.Context) (Batch, error)
	// Rearm keeps delivering changes for handle after a batch was handled.
	// It returns false once the handle can no longer be served.
	Rearm(handle Handle) bool
	Close() error
}

// Runner executes the configured command for one change.
type Runner interface {
	Run(ctx context.Context, command, workDir string, env []string) error
}

// Notification is published on the dispatch bus for every non-overflow record.
type Notification struct {
	Kind       Kind      `json:"-"`
	KindName   string    `json:"kind"`
	Path       string    `json:"path"`
	Dir        string    `json:"dir"`
	OccurredAt time.Time `json:"timestamp"`
}

func (notification Notification) Type() string {
	return "file_" + notification.Kind.String()
}

func (notification Notification) Timestamp() time.Time {
	return notification.OccurredAt
}
