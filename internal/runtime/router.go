package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/drblury/eventflow/internal/runtime/envelope"
	errspkg "github.com/drblury/eventflow/internal/runtime/errors"
)

// Router dispatches a delivery to the handler registered for its event type.
// Types without a handler are ignored.
type Router struct {
	mu       sync.RWMutex
	handlers map[envelope.EventType]Handler
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[envelope.EventType]Handler)}
}

// Handle registers h for eventType, replacing any previous handler.
func (r *Router) Handle(eventType envelope.EventType, h Handler) error {
	if eventType == "" {
		return errspkg.ErrEventTypeRequired
	}
	if h == nil {
		return fmt.Errorf("%w: %s", errspkg.ErrHandlerRequired, eventType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = h
	return nil
}

// On is Handle for static wiring; it panics on an empty type or nil handler.
func (r *Router) On(eventType envelope.EventType, h Handler) *Router {
	if err := r.Handle(eventType, h); err != nil {
		panic(err)
	}
	return r
}

// Route calls the handler registered for the delivery's type.
func (r *Router) Route(ctx context.Context, d Delivery) error {
	r.mu.RLock()
	h, ok := r.handlers[d.Envelope.Type]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return h(ctx, d)
}

// Handler exposes Route as a Handler for Subscribe.
func (r *Router) Handler() Handler {
	return r.Route
}

// Types lists the routed event types in sorted order.
func (r *Router) Types() []envelope.EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]envelope.EventType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
