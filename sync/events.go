package sync

import "sync"

// Event names, enumerated per the teacher-inspired redesign note in
// spec.md §9 ("replace ad-hoc subscribe/emit with a small, explicit
// event bus interface whose events are enumerated").
const (
	EventError                = "error"
	EventFatal                = "fatal"
	EventClientError          = "clientError"
	EventConnected            = "connected"
	EventDisconnected         = "disconnected"
	EventPreadd               = "preadd"
	EventAdd                  = "add"
	EventClean                = "clean"
	EventProcessed            = "processed"
	EventSubscribed           = "subscribed"
	EventSubscribing          = "subscribing"
	EventUnsubscribed         = "unsubscribed"
	EventAuthenticated        = "authenticated"
	EventSubscriptionCancelled = "subscriptionCancelled"

	// Report-only events: observability, not consumed for coordination.
	EventDispatching     = "dispatching"
	EventUnauthenticated = "unauthenticated"
	EventZombie          = "zombie"
	EventDenied          = "denied"
	EventUnknownType     = "unknownType"
	EventWrongChannel    = "wrongChannel"
	EventUseless         = "useless"
)

// Handler receives whatever payload the emitting call site chose; each
// event name below documents its payload type in the emitting code.
type Handler func(payload any)

// Bus is a small synchronous event bus: handlers run inline on the
// goroutine that calls Emit, in registration order. This mirrors the
// teacher's monitor pattern (connect/transfer_control.go's Monitor) more
// than a buffered channel fan-out, because pipeline coordination (e.g.
// process() awaiting a matching "processed") needs to observe every
// emission, not just the latest.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: map[string][]Handler{}}
}

func (self *Bus) On(event string, handler Handler) (cancel func()) {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.handlers[event] = append(self.handlers[event], handler)
	id := len(self.handlers[event]) - 1

	return func() {
		self.mu.Lock()
		defer self.mu.Unlock()
		handlers := self.handlers[event]
		if id < len(handlers) {
			handlers[id] = nil
		}
	}
}

func (self *Bus) Emit(event string, payload any) {
	self.mu.Lock()
	handlers := append([]Handler(nil), self.handlers[event]...)
	self.mu.Unlock()

	for _, handler := range handlers {
		if handler != nil {
			handler(payload)
		}
	}
}

// AddPayload is EventAdd/EventPreadd/EventClean's payload.
type AddPayload struct {
	Action Action
	Meta   *Meta
}

// ProcessedPayload is EventProcessed's payload.
type ProcessedPayload struct {
	Meta      *Meta
	LatencyMs int64
}

// ErrorPayload is EventError's coordination payload (see emitError).
// EventError is also reported with a ReportPayload on observability-only
// paths, and EventClientError only ever carries a ReportPayload.
type ErrorPayload struct {
	Meta *Meta
	Err  error
}

// ReportPayload backs every observability-only event above.
type ReportPayload struct {
	Fields map[string]any
}
