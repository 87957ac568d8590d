// Package queue provides a lock-free FIFO used to hand records from the
// helper reader goroutine to the control loop without blocking either side.
package queue

// Queue defines the interface of a FIFO of T.
type Queue[T any] interface {
	// Enqueue adds an item to the tail of the queue.
	Enqueue(item T)
	// Drain removes and returns every item currently queued, oldest first.
	Drain() []T
}
