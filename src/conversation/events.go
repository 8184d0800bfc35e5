package conversation

import (
	"log/slog"
	"sync"
)

// Listener receives the id of a created or deleted conversation.
type Listener func(id string)

// Events is a typed registry of store lifecycle listeners. A panicking
// listener must not prevent the remaining listeners from running.
type Events struct {
	mu      sync.RWMutex
	created []Listener
	deleted []Listener
	logger  *slog.Logger
}

// NewEvents creates an empty listener registry.
func NewEvents(logger *slog.Logger) *Events {
	if logger == nil {
		logger = slog.Default()
	}
	return &Events{logger: logger}
}

// OnCreated registers a listener for conversation creation.
func (e *Events) OnCreated(fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, fn)
}

// OnDeleted registers a listener for conversation deletion, whether explicit
// or by capacity eviction.
func (e *Events) OnDeleted(fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = append(e.deleted, fn)
}

func (e *Events) emitCreated(id string) {
	e.mu.RLock()
	listeners := append([]Listener(nil), e.created...)
	e.mu.RUnlock()
	e.dispatch("created", id, listeners)
}

func (e *Events) emitDeleted(id string) {
	e.mu.RLock()
	listeners := append([]Listener(nil), e.deleted...)
	e.mu.RUnlock()
	e.dispatch("deleted", id, listeners)
}

func (e *Events) dispatch(event, id string, listeners []Listener) {
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("conversation listener panicked", "event", event, "conversation", id, "panic", r)
				}
			}()
			fn(id)
		}()
	}
}
