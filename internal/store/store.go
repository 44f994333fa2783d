package store

import (
	"context"
	"errors"
	"time"

	"github.com/soyeahso/smsforms/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrOpenSessionExists is returned when creating or reopening a session
	// would give a conversation a second open session.
	ErrOpenSessionExists = errors.New("conversation already has an open session")

	// ErrSessionEnded is returned when saving over a session that has
	// already ended. Ending is one-way.
	ErrSessionEnded = errors.New("session already ended")
)

// SessionFilter narrows List results. Zero values match everything.
type SessionFilter struct {
	Conversation string
	OpenOnly     bool
	Since        time.Time
	Limit        int
}

// SessionStore persists form sessions. Implementations guarantee at most
// one open session per conversation even under concurrent writers.
type SessionStore interface {
	// FindOpen returns the conversation's open session or ErrNotFound.
	FindOpen(ctx context.Context, conv domain.ConversationKey) (*domain.Session, error)

	// ListOpen returns every open session of the conversation.
	ListOpen(ctx context.Context, conv domain.ConversationKey) ([]*domain.Session, error)

	// Create inserts a new session; it fails with ErrOpenSessionExists when
	// the session is open and the conversation already has one.
	Create(ctx context.Context, sess *domain.Session) error

	// Save writes back all mutable fields of an existing session. It fails
	// with ErrSessionEnded, leaving the stored record untouched, when the
	// stored session has already ended.
	Save(ctx context.Context, sess *domain.Session) error

	// Get returns a session by ID or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// List returns sessions newest first.
	List(ctx context.Context, f SessionFilter) ([]*domain.Session, error)

	// ListIdle returns open sessions last modified before cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]*domain.Session, error)
}

// TriggerStore persists keyword triggers.
type TriggerStore interface {
	// FindTrigger matches keyword case-insensitively or returns ErrNotFound.
	FindTrigger(ctx context.Context, keyword string) (*domain.Trigger, error)
	ListTriggers(ctx context.Context) ([]*domain.Trigger, error)
	// SaveTrigger inserts or replaces the trigger with the same keyword.
	SaveTrigger(ctx context.Context, t *domain.Trigger) error
	DeleteTrigger(ctx context.Context, keyword string) error
}

// MessageLog records the texts exchanged with each conversation.
type MessageLog interface {
	LogMessage(ctx context.Context, m domain.LoggedMessage) error
	// Messages returns a conversation's messages with from <= date <= to,
	// oldest first. A zero to means no upper bound.
	Messages(ctx context.Context, conversation string, from, to time.Time) ([]domain.LoggedMessage, error)
}

// Store is the full persistence surface.
type Store interface {
	SessionStore
	TriggerStore
	MessageLog
}
