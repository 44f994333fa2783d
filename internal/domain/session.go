package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// MaxErrorLen bounds Session.ErrorMsg, in runes.
const MaxErrorLen = 255

// ErrFormSessionAssigned is returned when a remote session identifier is
// reassigned to a different value.
var ErrFormSessionAssigned = errors.New("form session id already assigned")

// ConversationKey identifies the party a form conversation is held with.
type ConversationKey struct {
	ChannelID string `json:"channelId"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId,omitempty"`
}

// String returns a canonical string form of the conversation key.
func (k ConversationKey) String() string {
	s := k.ChannelID + ":" + k.ChatID
	if k.SenderID != "" {
		s += ":" + k.SenderID
	}
	return s
}

// ParseConversationKey is the inverse of ConversationKey.String.
func ParseConversationKey(s string) (ConversationKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ConversationKey{}, errors.New("conversation key must look like channel:chat[:sender]")
	}
	k := ConversationKey{ChannelID: parts[0], ChatID: parts[1]}
	if len(parts) == 3 {
		k.SenderID = parts[2]
	}
	return k, nil
}

// Session is one tracked form conversation.
//
// At most one session per conversation has Ended == false. EndTime is set
// exactly when Ended is true, and Cancelled implies Ended.
type Session struct {
	ID           string          `json:"id"`
	Conversation ConversationKey `json:"conversation"`
	// ReplyTo is the channel address used to deliver replies that are not
	// produced in response to an inbound message.
	ReplyTo       string          `json:"replyTo"`
	FormSessionID string          `json:"formSessionId,omitempty"`
	TriggerID     string          `json:"triggerId"`
	Keyword       string          `json:"keyword"`
	FormPath      string          `json:"formPath"`
	StartTime     time.Time       `json:"startTime"`
	ModifiedTime  time.Time       `json:"modifiedTime"`
	EndTime       *time.Time      `json:"endTime,omitempty"`
	Ended         bool            `json:"ended"`
	Cancelled     bool            `json:"cancelled"`
	HasError      bool            `json:"hasError"`
	ErrorMsg      string          `json:"errorMsg,omitempty"`
	LastResponse  json.RawMessage `json:"lastResponse,omitempty"`
}

// NewSession returns an open session for conv started by t.
func NewSession(id string, conv ConversationKey, replyTo string, t *Trigger, now time.Time) *Session {
	s := &Session{
		ID:           id,
		Conversation: conv,
		ReplyTo:      replyTo,
		StartTime:    now,
		ModifiedTime: now,
	}
	if t != nil {
		s.TriggerID = t.ID
		s.Keyword = t.Keyword
		s.FormPath = t.FormPath
	}
	return s
}

// Touch records activity on the session.
func (s *Session) Touch(now time.Time) {
	s.ModifiedTime = now
}

// End closes the session. Ending an already ended session keeps the
// original end time.
func (s *Session) End(now time.Time) {
	if s.Ended {
		return
	}
	s.Ended = true
	s.EndTime = &now
	s.ModifiedTime = now
}

// Cancel ends the session and marks it superseded.
func (s *Session) Cancel(now time.Time) {
	s.End(now)
	s.Cancelled = true
}

// SetError flags the session as failed with a bounded message.
func (s *Session) SetError(msg string) {
	s.HasError = true
	s.ErrorMsg = Truncate(msg, MaxErrorLen)
}

// AssignFormSession records the remote engine's session identifier.
func (s *Session) AssignFormSession(id string) error {
	if s.FormSessionID != "" && s.FormSessionID != id {
		return ErrFormSessionAssigned
	}
	s.FormSessionID = id
	return nil
}

// Duration is the time from start to end, or zero for open sessions.
func (s *Session) Duration() time.Duration {
	if s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
