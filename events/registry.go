package events

import (
	"encoding/json"
	"sync"
)

// Handler is the shape every registered per-event handler must satisfy.
// seq is the sequence number the dispatch frame arrived with and raw is
// the still-encoded `d` field; handlers decode their own payload and
// mutate whatever caches they borrow. The core never inspects the result.
type Handler func(seq int64, raw json.RawMessage) error

// Registry is a concurrency-safe map from Discord event name (the `t`
// field of a DISPATCH frame) to the handler that should run for it.
// The gateway core only ever sees this interface: concrete decoding and
// cache mutation live entirely in the handlers that are registered here.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// On registers (or replaces) the handler for an event name.
func (r *Registry) On(event string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = h
}

// Lookup returns the handler registered for event, if any.
func (r *Registry) Lookup(event string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[event]
	return h, ok
}
