// Package hooks is the event bus form sessions report to. Subscribers
// (websocket clients, shell commands, webhooks) register handlers by event
// name; publishers never know who is listening.
package hooks

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/smsforms/internal/logging"
)

// Event names.
const (
	EventFormCompleted    = "form_completed"
	EventFormError        = "form_error"
	EventSessionStarted   = "session_started"
	EventSessionEnded     = "session_ended"
	EventMessageUnmatched = "message_unmatched"
	EventGatewayStart     = "gateway_start"
	EventGatewayStop      = "gateway_stop"
)

// AllEvents lists every event the system publishes.
var AllEvents = []string{
	EventFormCompleted,
	EventFormError,
	EventSessionStarted,
	EventSessionEnded,
	EventMessageUnmatched,
	EventGatewayStart,
	EventGatewayStop,
}

// Known reports whether event is one of AllEvents.
func Known(event string) bool { return slices.Contains(AllEvents, event) }

// Payload is what a handler receives.
type Payload struct {
	Event string         `json:"event"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler is a function that handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager routes published events to the handlers registered for them.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name string
	fn   Handler
}

// NewManager creates an empty event bus.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On subscribes fn to event under name. Several handlers may share a name;
// Off removes them together.
func (m *Manager) On(event, name string, fn Handler) {
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, fn: fn})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("subscribed")
}

// Off drops every handler called name from event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.handlers[event][:0:0]
	for _, h := range m.handlers[event] {
		if h.name != name {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		delete(m.handlers, event)
		return
	}
	m.handlers[event] = kept
}

// Emit calls the handlers for event in subscription order and returns
// once all have run. A failing or panicking handler is logged and does
// not stop the rest.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	m.mu.RLock()
	handlers := slices.Clone(m.handlers[event])
	m.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}

	p := Payload{Event: event, Time: time.Now().UTC(), Data: data}
	for _, h := range handlers {
		if err := m.call(ctx, h, p); err != nil {
			m.log.Warn().Err(err).Str("event", event).Str("handler", h.name).Msg("hook handler failed")
		}
	}
}

func (m *Manager) call(ctx context.Context, h namedHandler, p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.fn(ctx, p)
}

// Count returns how many handlers event has.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events lists the events with at least one handler, sorted.
func (m *Manager) Events() []string {
	m.mu.RLock()
	events := make([]string, 0, len(m.handlers))
	for event := range m.handlers {
		events = append(events, event)
	}
	m.mu.RUnlock()
	slices.Sort(events)
	return events
}
