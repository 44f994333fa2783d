package conversation

import (
	"context"
	"errors"

	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/store"
)

var (
	// ErrEngineProtocol means the engine kept the walker looping past its
	// step bound, usually a malformed form with endless info prompts.
	ErrEngineProtocol = errors.New("form engine protocol error")

	// ErrProtocolInvariant means the dispatcher was asked to execute a plan
	// that classification can never produce.
	ErrProtocolInvariant = errors.New("dispatcher invariant violated")

	// ErrSessionEnded is returned when cancelling a session that is
	// already closed. It is the store's sentinel, so a session ended by
	// another writer mid-turn matches it too.
	ErrSessionEnded = store.ErrSessionEnded
)

// Notifier receives session lifecycle notifications. *hooks.Manager
// implements it.
type Notifier interface {
	FormCompleted(ctx context.Context, sess *domain.Session, output string)
	FormError(ctx context.Context, sess *domain.Session, partial string)
	SessionStarted(ctx context.Context, sess *domain.Session)
	SessionEnded(ctx context.Context, sess *domain.Session, reason string)
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) FormCompleted(context.Context, *domain.Session, string) {}
func (NopNotifier) FormError(context.Context, *domain.Session, string)     {}
func (NopNotifier) SessionStarted(context.Context, *domain.Session)        {}
func (NopNotifier) SessionEnded(context.Context, *domain.Session, string)  {}

// Reasons passed to Notifier.SessionEnded.
const (
	EndCompleted  = "completed"
	EndCancelled  = "cancelled"
	EndSuperseded = "superseded"
	EndInvalid    = "invalid-answer"
	EndError      = "error"
	EndIncomplete = "incomplete"
	EndIdle       = "idle"
)
