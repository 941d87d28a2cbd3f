package playback

import (
	"sync"
)

type listener struct {
	id int
	h  Handler
}

// Emitter is a per-event-type listener registry shared by Source implementations
type Emitter struct {
	mu        sync.Mutex
	nextID    int
	listeners map[EventType][]listener
	closed    bool
}

// NewEmitter creates an empty emitter
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[EventType][]listener)}
}

// Subscribe registers h for events of type t
func (e *Emitter) Subscribe(t EventType, h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return func() {}
	}

	e.nextID++
	id := e.nextID
	e.listeners[t] = append(e.listeners[t], listener{id: id, h: h})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		ls := e.listeners[t]
		for i, l := range ls {
			if l.id == id {
				e.listeners[t] = append(ls[:i:i], ls[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers ev to the listeners registered for its type.
// Handlers run on the caller's goroutine, outside the registry lock.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	ls := make([]listener, len(e.listeners[ev.Type]))
	copy(ls, e.listeners[ev.Type])
	e.mu.Unlock()

	for _, l := range ls {
		l.h(ev)
	}
}

// Close drops all listeners; later Subscribe and Emit calls are no-ops
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	e.listeners = make(map[EventType][]listener)
}

// Count returns the number of listeners for t
func (e *Emitter) Count(t EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[t])
}
