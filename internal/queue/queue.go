// Package queue holds the small generic collections shared by the engine and
// the storage writers.
package queue

import "sync"

// Batch is a mutex-guarded FIFO that producers append to and a single writer
// drains in bounded chunks.
type Batch[T any] struct {
	mu      sync.Mutex
	pending []T
}

// NewBatch returns an empty batch queue.
func NewBatch[T any]() *Batch[T] {
	return &Batch[T]{}
}

// Push appends items to the back.
func (b *Batch[T]) Push(items ...T) {
	b.mu.Lock()
	b.pending = append(b.pending, items...)
	b.mu.Unlock()
}

// PushFront returns items to the front, ahead of anything pushed since they
// were taken. A failed write calls it so the retry keeps the original order.
func (b *Batch[T]) PushFront(items ...T) {
	if len(items) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]T, 0, len(items)+len(b.pending))
	merged = append(merged, items...)
	b.pending = append(merged, b.pending...)
}

// Len is the number of pending items.
func (b *Batch[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Take removes and returns up to max items from the front. A max <= 0 takes
// everything.
func (b *Batch[T]) Take(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.pending)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}
	out := make([]T, n)
	copy(out, b.pending[:n])
	// zero the taken slots so the backing array does not pin them
	clear(b.pending[:n])
	b.pending = b.pending[n:]
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return out
}
