// internal/sink/queue.go
package sink

import "sync"

// Queue is a bounded FIFO that drops the oldest item when full.
// Producers never block. C signals consumers that items are pending.
type Queue[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int
	n       int
	dropped uint64
	notify  chan struct{}
}

// NewQueue returns a queue holding at most capacity items (minimum 1).
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends v, evicting the oldest item if the queue is full.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	if q.n == len(q.buf) {
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.dropped++
	}
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.n == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return v, true
}

// Drain removes and returns everything queued, oldest first.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, q.n)
	var zero T
	for q.n > 0 {
		out = append(out, q.buf[q.head])
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.n--
	}
	return out
}

// C is signalled after Push. One signal may cover several items; consumers
// should Drain.
func (q *Queue[T]) C() <-chan struct{} { return q.notify }

// Len is the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Cap is the queue capacity.
func (q *Queue[T]) Cap() int { return len(q.buf) }

// Dropped counts items evicted because the queue was full.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
