// Package history provides the bounded, insertion-ordered event history kept
// by the prediction loop.
package history

// DefaultCapacity is the number of classified events retained per session.
const DefaultCapacity = 20

// Buffer is a FIFO of at most Cap items. Pushing onto a full buffer evicts
// the oldest item. Buffer is not safe for concurrent use; the owner guards it.
type Buffer[T any] struct {
	items []T
	max   int
}

// NewBuffer creates a buffer with the given capacity. A non-positive
// capacity falls back to DefaultCapacity.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{
		items: make([]T, 0, capacity),
		max:   capacity,
	}
}

// Push appends v, evicting from the front until len <= capacity.
func (b *Buffer[T]) Push(v T) {
	if len(b.items) >= b.max {
		copy(b.items, b.items[1:])
		b.items[len(b.items)-1] = v
		return
	}
	b.items = append(b.items, v)
}

// Len returns the number of stored items.
func (b *Buffer[T]) Len() int { return len(b.items) }

// Cap returns the retention limit.
func (b *Buffer[T]) Cap() int { return b.max }

// LastN returns a copy of the last n items, oldest first.
func (b *Buffer[T]) LastN(n int) []T {
	if n <= 0 || len(b.items) == 0 {
		return nil
	}
	start := len(b.items) - n
	if start < 0 {
		start = 0
	}
	out := make([]T, len(b.items[start:]))
	copy(out, b.items[start:])
	return out
}

// Snapshot returns a copy of every stored item, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}
