package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxhub/voxlink/internal/protocol"
)

// Handler processes one event. Handlers run on the read loop, strictly in
// registration order; a blocking handler delays subsequent frames.
type Handler func(ctx context.Context, data protocol.Payload) error

// Registry maps event names to ordered handler lists. Handlers live for the
// lifetime of the client; there is no removal.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// On registers a handler for an event name. Handlers accumulate: a second
// registration for the same name layers after the first.
func (r *Registry) On(name string, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], h)
}

// Subscription is the builder-style registration form: Event(name) returns a
// subscription whose Do calls each append another handler for that name.
type Subscription struct {
	registry *Registry
	name     string
}

// Event starts a builder-style registration for the given event name.
func (r *Registry) Event(name string) *Subscription {
	return &Subscription{registry: r, name: name}
}

// Do appends a handler for the subscription's event and returns the
// subscription so further handlers can layer on.
func (s *Subscription) Do(h Handler) *Subscription {
	s.registry.On(s.name, h)
	return s
}

// Emit invokes every handler registered for the event, in registration
// order, each to completion before the next. A handler error or panic is
// logged and isolated: it never prevents later handlers or the read loop
// from continuing.
func (r *Registry) Emit(ctx context.Context, name string, data protocol.Payload) {
	r.mu.RLock()
	handlers := r.handlers[name]
	r.mu.RUnlock()

	for _, h := range handlers {
		if err := r.invoke(ctx, h, data); err != nil {
			r.logger.Error("event handler failed", "event", name, "error", err)
		}
	}
}

// invoke runs one handler, converting a panic into an error.
func (r *Registry) invoke(ctx context.Context, h Handler, data protocol.Payload) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, data)
}
