package hooks

import (
	"context"

	"github.com/soyeahso/smsforms/internal/domain"
)

// SessionData is the common payload describing a session.
func SessionData(sess *domain.Session) map[string]any {
	data := map[string]any{
		"sessionId":     sess.ID,
		"conversation":  sess.Conversation.String(),
		"channelId":     sess.Conversation.ChannelID,
		"replyTo":       sess.ReplyTo,
		"formSessionId": sess.FormSessionID,
		"keyword":       sess.Keyword,
		"formPath":      sess.FormPath,
		"startTime":     sess.StartTime,
		"ended":         sess.Ended,
		"cancelled":     sess.Cancelled,
		"hasError":      sess.HasError,
	}
	if sess.EndTime != nil {
		data["endTime"] = *sess.EndTime
	}
	if sess.ErrorMsg != "" {
		data["error"] = sess.ErrorMsg
	}
	return data
}

// FormCompleted emits form_completed with the engine's output instance.
func (m *Manager) FormCompleted(ctx context.Context, sess *domain.Session, output string) {
	data := SessionData(sess)
	data["output"] = output
	m.Emit(ctx, EventFormCompleted, data)
}

// FormError emits form_error with whatever partial instance was salvaged.
func (m *Manager) FormError(ctx context.Context, sess *domain.Session, partial string) {
	data := SessionData(sess)
	data["partial"] = partial
	m.Emit(ctx, EventFormError, data)
}

// SessionStarted emits session_started.
func (m *Manager) SessionStarted(ctx context.Context, sess *domain.Session) {
	m.Emit(ctx, EventSessionStarted, SessionData(sess))
}

// SessionEnded emits session_ended with the reason the session closed.
func (m *Manager) SessionEnded(ctx context.Context, sess *domain.Session, reason string) {
	data := SessionData(sess)
	data["reason"] = reason
	m.Emit(ctx, EventSessionEnded, data)
}
