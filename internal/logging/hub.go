package logging

import "sync"

const defaultSubscriberBuffer = 100

type hubSubscriber struct {
	ch       chan LogEntry
	minLevel Level
}

// LogHub fans entries out to live subscribers. Slow subscribers lose entries
// instead of blocking the logger.
type LogHub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]hubSubscriber
	closed bool
}

func NewLogHub() *LogHub {
	return &LogHub{
		subs: make(map[uint64]hubSubscriber),
	}
}

func (h *LogHub) Subscribe(buffer int, minLevel Level) (<-chan LogEntry, func()) {
	if h == nil {
		return nil, func() {}
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		ch := make(chan LogEntry)
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	ch := make(chan LogEntry, buffer)
	h.subs[id] = hubSubscriber{ch: ch, minLevel: minLevel}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(existing.ch)
		}
	}
}

func (h *LogHub) Broadcast(entry LogEntry) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if !LevelAtLeast(entry.Level, sub.minLevel) {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
		}
	}
}

func (h *LogHub) SubscriberCount() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *LogHub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
