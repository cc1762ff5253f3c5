// queue package

package queue

import (
	"context"
	"sync"
)

const (
	// QueueBufferSize represents the default maximum size of a queue
	QueueBufferSize = 1024
)

// InMemoryQueue implements an in-memory queue.
// Enqueue blocks while the queue is full, which applies backpressure to the producer.
type InMemoryQueue struct {
	ch chan interface{}
	// drain serializes bulk reads so two readers never interleave a batch
	drain sync.Mutex
}

// NewInMemoryQueue creates a new queue holding at most size items.
// A non-positive size uses QueueBufferSize.
func NewInMemoryQueue(size int) *InMemoryQueue {
	if size <= 0 {
		size = QueueBufferSize
	}
	return &InMemoryQueue{
		ch: make(chan interface{}, size),
	}
}

// Enqueue adds an item to the end of the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, item interface{}) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes and returns the item from the front of the queue,
// waiting until one is available or ctx is done.
func (q *InMemoryQueue) Dequeue(ctx context.Context) (interface{}, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the current size of the queue.
func (q *InMemoryQueue) Size() int {
	return len(q.ch)
}

// ReadAllMessages reads all pending messages in the queue without blocking
func (q *InMemoryQueue) ReadAllMessages() []interface{} {
	q.drain.Lock()
	defer q.drain.Unlock()

	var messages []interface{}
	for {
		select {
		case item := <-q.ch:
			messages = append(messages, item)
		default:
			return messages
		}
	}
}

// ClearQueue clears all messages from the queue.
func (q *InMemoryQueue) ClearQueue() {
	q.ReadAllMessages()
}
