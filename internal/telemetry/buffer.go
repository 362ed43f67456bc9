package telemetry

import "sync"

// CircularBuffer is a fixed-capacity FIFO buffer. Once full, each Add
// overwrites the oldest item.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int // next write position
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer holding up to capacity items
// (100 when capacity is not positive).
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns a copy of the buffered items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
		return out
	}
	n := copy(out, b.items[b.head:])
	copy(out[n:], b.items[:b.head])
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the maximum number of items.
func (b *CircularBuffer[T]) Capacity() int {
	return b.capacity
}

// Clear empties the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.items)
	b.head = 0
	b.size = 0
}
