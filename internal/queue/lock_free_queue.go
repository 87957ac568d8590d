package queue

import (
	"sync/atomic"
)

type itemNode[T any] struct {
	value T
	next  atomic.Pointer[itemNode[T]]
}

// lockFreeQueue is a Michael-Scott lock-free queue.
//
// It implements the Queue interface.
type lockFreeQueue[T any] struct {
	head atomic.Pointer[itemNode[T]]
	tail atomic.Pointer[itemNode[T]]
}

var _ Queue[int] = (*lockFreeQueue[int])(nil)

// NewLockFreeQueue creates an empty lock-free queue.
func NewLockFreeQueue[T any]() Queue[T] {
	q := &lockFreeQueue[T]{}
	n := &itemNode[T]{}
	q.head.Store(n)
	q.tail.Store(n)

	return q
}

// Enqueue adds an item to the tail of the queue.
func (q *lockFreeQueue[T]) Enqueue(item T) {
	n := &itemNode[T]{value: item}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}

		if next != nil {
			// tail is falling behind, try to advance it.
			q.tail.CompareAndSwap(tail, next)
			continue
		}

		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)

			return
		}
	}
}

// dequeue removes and returns the item at the head of the queue.
func (q *lockFreeQueue[T]) dequeue() (T, bool) {
	var zero T
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}

		if head == tail {
			if next == nil {
				return zero, false
			}
			q.tail.CompareAndSwap(tail, next)

			continue
		}

		// Read value before CAS, otherwise another dequeue might release the next node.
		data := next.value
		if q.head.CompareAndSwap(head, next) {
			return data, true
		}
	}
}

// Drain removes every queued item. Items enqueued concurrently may or may not
// be included.
func (q *lockFreeQueue[T]) Drain() []T {
	var out []T
	for {
		item, ok := q.dequeue()
		if !ok {
			return out
		}
		out = append(out, item)
	}
}
