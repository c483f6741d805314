package logging

import (
	"sync"

	"treewatch/internal/buffer"
)

// LogBuffer retains the most recent entries for inspection (tests and the
// monitor's log snapshot).
type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{
		entries: buffer.NewRing[LogEntry](size),
	}
}

func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.Add(entry)
}

func (b *LogBuffer) List() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.List()
}

// Last returns up to count of the newest entries, oldest first.
func (b *LogBuffer) Last(count int) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Last(count)
}

// Find returns the entries whose message matches exactly.
func (b *LogBuffer) Find(message string) []LogEntry {
	var matched []LogEntry
	for _, entry := range b.List() {
		if entry.Message == message {
			matched = append(matched, entry)
		}
	}
	return matched
}
