package queue

import "context"

// Queue represents a basic queue.
type Queue interface {
	Enqueue(ctx context.Context, item interface{}) error
	Dequeue(ctx context.Context) (interface{}, error)
	Size() int
	ReadAllMessages() []interface{}
	ClearQueue()
}
