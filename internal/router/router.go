// Package router implements the Notification Router: an exact-type
// pub/sub registry over the connection manager's inbound stream, so
// unrelated features can react to the same stream without each owning
// a connection.
package router

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/scholarsync/realtime/internal/connection"
)

// Handler receives one dispatched message. Handlers run synchronously
// on the dispatch path and must not block.
type Handler func(msg connection.Message)

// Sender is the outbound half of the connection manager. Sends are
// best-effort; the router never learns whether delivery happened.
type Sender interface {
	Send(v any)
}

// Stats contains runtime statistics.
type Stats struct {
	Subscriptions int
	Dispatched    int64
	Delivered     int64
	Unrouted      int64
	Panics        int64
}

// subscription is one registered handler for one message type.
type subscription struct {
	id uuid.UUID
	fn Handler
}

// Router fans inbound messages out to subscribers registered for the
// message's exact type. It carries no connection state of its own; it
// only reacts to what the manager delivers.
type Router struct {
	sender Sender
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string][]subscription

	dispatched int64
	delivered  int64
	unrouted   int64
	panics     int64
}

// New creates a new Notification Router. Outbound publishes go through
// sender; a nil sender makes Publish a logged no-op.
func New(sender Sender, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		sender: sender,
		logger: logger,
		subs:   make(map[string][]subscription),
	}
}

// Subscribe registers fn for every message whose type equals msgType.
// Matching is exact equality; register once per type of interest.
// The returned disposer removes the subscription and is safe to call
// more than once. An empty type or nil handler is a contract violation
// and panics.
func (r *Router) Subscribe(msgType string, fn Handler) func() {
	if msgType == "" {
		panic("router: subscribe with empty message type")
	}
	if fn == nil {
		panic("router: subscribe with nil handler")
	}

	sub := subscription{id: uuid.New(), fn: fn}

	r.mu.Lock()
	r.subs[msgType] = append(r.subs[msgType], sub)
	r.mu.Unlock()

	r.logger.Debug("subscription added", "type", msgType, "subscription_id", sub.id)

	return func() {
		r.unsubscribe(msgType, sub.id)
	}
}

// unsubscribe removes one subscription by id. A second call for the
// same id finds nothing and does nothing.
func (r *Router) unsubscribe(msgType string, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[msgType]
	for i, sub := range subs {
		if sub.id == id {
			r.subs[msgType] = append(subs[:i:i], subs[i+1:]...)
			if len(r.subs[msgType]) == 0 {
				delete(r.subs, msgType)
			}
			r.logger.Debug("subscription removed", "type", msgType, "subscription_id", id)
			return
		}
	}
}

// Dispatch delivers msg to every subscriber registered for its type,
// in registration order. A panicking subscriber is recovered and
// logged; the rest of the dispatch still runs.
func (r *Router) Dispatch(msg connection.Message) {
	r.mu.RLock()
	subs := r.subs[msg.Type]
	r.mu.RUnlock()

	r.mu.Lock()
	r.dispatched++
	if len(subs) == 0 {
		r.unrouted++
	}
	r.mu.Unlock()

	for _, sub := range subs {
		r.deliver(sub, msg)
	}
}

// deliver invokes one handler with panic isolation.
func (r *Router) deliver(sub subscription, msg connection.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("subscriber panicked",
				"type", msg.Type,
				"subscription_id", sub.id,
				"panic", rec,
			)
			r.mu.Lock()
			r.panics++
			r.mu.Unlock()
		}
	}()

	sub.fn(msg)

	r.mu.Lock()
	r.delivered++
	r.mu.Unlock()
}

// Publish sends v out over the connection, best-effort.
func (r *Router) Publish(v any) {
	if r.sender == nil {
		r.logger.Warn("publish dropped, no sender configured")
		return
	}
	r.sender.Send(v)
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, subs := range r.subs {
		n += len(subs)
	}

	return Stats{
		Subscriptions: n,
		Dispatched:    r.dispatched,
		Delivered:     r.delivered,
		Unrouted:      r.unrouted,
		Panics:        r.panics,
	}
}
