package gateway

import (
	"context"

	"github.com/soyeahso/smsforms/internal/hooks"
)

// hookEvents maps hook events to the names broadcast to operators.
var hookEvents = map[string]string{
	hooks.EventFormCompleted:  EventFormCompleted,
	hooks.EventFormError:      EventFormError,
	hooks.EventSessionStarted: EventSessionStarted,
	hooks.EventSessionEnded:   EventSessionEnded,
}

const broadcastHandler = "gateway-broadcast"

// subscribe forwards form lifecycle hooks to every connected operator and
// returns the matching unsubscribe.
func (s *Server) subscribe() func() {
	if s.hooks == nil {
		return func() {}
	}
	for hookEvent, wsEvent := range hookEvents {
		s.hooks.On(hookEvent, broadcastHandler, func(_ context.Context, p hooks.Payload) error {
			s.clients.Broadcast(wsEvent, p.Data)
			return nil
		})
	}
	return func() {
		for hookEvent := range hookEvents {
			s.hooks.Off(hookEvent, broadcastHandler)
		}
	}
}
