package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Pop once the queue is closed and empty.
var ErrClosed = errors.New("queue closed")

type entry[T any] struct {
	item T
	size int64
	seq  uint64
}

type entries[T any] []entry[T]

func (e entries[T]) Len() int { return len(e) }
func (e entries[T]) Less(i, j int) bool {
	if e[i].size != e[j].size {
		return e[i].size < e[j].size
	}
	return e[i].seq < e[j].seq
}
func (e entries[T]) Swap(i, j int) { e[i], e[j] = e[j], e[i] }
func (e *entries[T]) Push(x any)   { *e = append(*e, x.(entry[T])) }
func (e *entries[T]) Pop() any {
	old := *e
	n := len(old)
	item := old[n-1]
	var zero entry[T]
	old[n-1] = zero
	*e = old[:n-1]
	return item
}

// Queue is a concurrency-safe min-heap keyed by size.
type Queue[T any] struct {
	mu     sync.Mutex
	items  entries[T]
	seq    uint64
	closed bool
	// ready holds one token while items are available.
	ready chan struct{}
	done  chan struct{}
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push adds item with priority size. It never blocks and is accepted even
// after Close, so work handed over during shutdown can still be drained.
func (q *Queue[T]) Push(item T, size int64) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, entry[T]{item: item, size: size, seq: q.seq})
	q.mu.Unlock()
	q.signal()
}

// Pop removes the smallest item, waiting until one is available.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if item, ok := q.TryPop(); ok {
			return item, nil
		}
		var zero T
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrClosed
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.done:
		case <-q.ready:
		}
	}
}

// TryPop removes the smallest item without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	e := heap.Pop(&q.items).(entry[T])
	if len(q.items) > 0 {
		q.signalLocked()
	}
	return e.item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every waiting Pop. Items already queued can still be popped;
// once empty, Pop returns ErrClosed.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drain removes and returns every queued item in priority order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, len(q.items))
	for len(q.items) > 0 {
		out = append(out, heap.Pop(&q.items).(entry[T]).item)
	}
	return out
}

func (q *Queue[T]) signal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.signalLocked()
}

func (q *Queue[T]) signalLocked() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
