package gate

import (
	"errors"
	"fmt"
	"sync"
)

// ErrQueueFlushed is returned when enqueueing into, or flushing, a queue that was already flushed
var ErrQueueFlushed = errors.New("injection queue already flushed")

// Queue holds operations accumulated before a document is ready, in insertion order.
// It is drained exactly once and discarded afterwards.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	flushed bool
}

// NewQueue creates an empty queue
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Enqueue appends an item to the tail
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.flushed {
		return ErrQueueFlushed
	}
	q.items = append(q.items, item)
	return nil
}

// Len returns the number of pending items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the pending items, head first
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Flushed reports whether FlushInOrder has run
func (q *Queue[T]) Flushed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushed
}

// FlushInOrder executes every item head to tail and empties the queue.
// Draining is best-effort: a failing item is reported in the joined error and the
// remaining items are still attempted. A second call returns ErrQueueFlushed.
func (q *Queue[T]) FlushInOrder(exec func(item T) error) error {
	q.mu.Lock()
	if q.flushed {
		q.mu.Unlock()
		return ErrQueueFlushed
	}
	q.flushed = true
	items := q.items
	q.items = nil
	q.mu.Unlock()

	var errs []error
	for i, item := range items {
		if err := execItem(exec, item); err != nil {
			errs = append(errs, fmt.Errorf("queued item %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func execItem[T any](exec func(T) error, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return exec(item)
}
