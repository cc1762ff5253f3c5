package events

import (
	"sync"
)

// Handler handles one event.
type Handler[T any] func(event T)

type registration[T any] struct {
	id      uint64
	handler Handler[T]
}

// Manager fans an event out to every registered handler.
// Handlers are called synchronously, in registration order, on the
// goroutine calling Trigger. The handler list is copied before calling so
// handlers may register or unregister while an event is delivered.
type Manager[T any] struct {
	lock     sync.Mutex
	nextID   uint64
	handlers []registration[T]
}

func NewManager[T any]() *Manager[T] {
	return &Manager[T]{}
}

// RegisterHandler registers a handler for events.
// The returned func removes it; calling it more than once is a no-op.
func (em *Manager[T]) RegisterHandler(handler Handler[T]) func() {
	em.lock.Lock()
	defer em.lock.Unlock()

	em.nextID++
	id := em.nextID
	em.handlers = append(em.handlers, registration[T]{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { em.unregister(id) })
	}
}

func (em *Manager[T]) unregister(id uint64) {
	em.lock.Lock()
	defer em.lock.Unlock()
	for i, r := range em.handlers {
		if r.id == id {
			em.handlers = append(em.handlers[:i:i], em.handlers[i+1:]...)
			return
		}
	}
}

// Trigger triggers an event.
func (em *Manager[T]) Trigger(event T) {
	em.lock.Lock()
	handlers := make([]Handler[T], len(em.handlers))
	for i, r := range em.handlers {
		handlers[i] = r.handler
	}
	em.lock.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Len returns the number of registered handlers.
func (em *Manager[T]) Len() int {
	em.lock.Lock()
	defer em.lock.Unlock()
	return len(em.handlers)
}
