// Package buffer holds fixed-capacity containers shared by the log buffer and
// the dispatch event history.
package buffer

// Ring keeps the most recent entries up to its capacity. It is not safe for
// concurrent use; callers guard it with their own lock.
type Ring[T any] struct {
	entries []T
	start   int
	count   int
}

func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 1
	}
	return &Ring[T]{
		entries: make([]T, size),
	}
}

// Add appends an entry, overwriting the oldest one once the ring is full.
func (r *Ring[T]) Add(entry T) {
	if r == nil || len(r.entries) == 0 {
		return
	}

	if r.count < len(r.entries) {
		r.entries[r.index(r.count)] = entry
		r.count++
		return
	}

	r.entries[r.start] = entry
	r.start = (r.start + 1) % len(r.entries)
}

func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.count
}

func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// List returns every stored entry, oldest first.
func (r *Ring[T]) List() []T {
	return r.Last(r.Len())
}

// Last returns up to count of the newest entries, oldest first. A count of
// zero or less returns everything.
func (r *Ring[T]) Last(count int) []T {
	if r == nil || r.count == 0 {
		return nil
	}
	if count <= 0 || count > r.count {
		count = r.count
	}

	out := make([]T, count)
	skip := r.count - count
	for i := 0; i < count; i++ {
		out[i] = r.entries[r.index(skip+i)]
	}
	return out
}

// Reset drops all entries but keeps the capacity.
func (r *Ring[T]) Reset() {
	if r == nil {
		return
	}
	var zero T
	for i := range r.entries {
		r.entries[i] = zero
	}
	r.start = 0
	r.count = 0
}

func (r *Ring[T]) index(offset int) int {
	return (r.start + offset) % len(r.entries)
}
