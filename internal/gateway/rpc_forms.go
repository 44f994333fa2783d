package gateway

import (
	"errors"
	"strings"
	"time"

	"github.com/soyeahso/smsforms/internal/conversation"
	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/store"
)

func (s *Server) requireStore(rc *RequestContext) bool {
	if s.sessions == nil || s.triggers == nil {
		rc.RespondError(CodeUnavailable, "no store configured")
		return false
	}
	return true
}

func (s *Server) respondStoreError(rc *RequestContext, err error) {
	if errors.Is(err, store.ErrNotFound) {
		rc.RespondError(CodeNotFound, err.Error())
		return
	}
	rc.RespondError(CodeInternal, err.Error())
}

func (s *Server) rpcTriggersList(rc *RequestContext) {
	if !s.requireStore(rc) {
		return
	}
	triggers, err := s.triggers.ListTriggers(rc.Ctx)
	if err != nil {
		s.respondStoreError(rc, err)
		return
	}
	if triggers == nil {
		triggers = []*domain.Trigger{}
	}
	rc.Respond(map[string]any{"triggers": triggers})
}

func (s *Server) rpcTriggersSave(rc *RequestContext) {
	if !s.requireStore(rc) {
		return
	}
	var t domain.Trigger
	if err := rc.Params(&t); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if err := t.Validate(); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if err := s.triggers.SaveTrigger(rc.Ctx, &t); err != nil {
		s.respondStoreError(rc, err)
		return
	}
	saved, err := s.triggers.FindTrigger(rc.Ctx, t.Keyword)
	if err != nil {
		s.respondStoreError(rc, err)
		return
	}
	s.log.Info().Str("keyword", saved.Keyword).Str("form", saved.FormPath).Msg("trigger saved")
	rc.Respond(saved)
}

type keywordParams struct {
	Keyword string `json:"keyword"`
}

func (s *Server) rpcTriggersDelete(rc *RequestContext) {
	if !s.requireStore(rc) {
		return
	}
	var p keywordParams
	if err := rc.Params(&p); err != nil || strings.TrimSpace(p.Keyword) == "" {
		rc.RespondError(CodeInvalidParams, "keyword is required")
		return
	}
	if err := s.triggers.DeleteTrigger(rc.Ctx, p.Keyword); err != nil {
		s.respondStoreError(rc, err)
		return
	}
	rc.Respond(map[string]any{"keyword": domain.NormalizeKeyword(p.Keyword), "deleted": true})
}

type sessionsListParams struct {
	Conversation string `json:"conversation,omitempty"`
	OpenOnly     bool   `json:"openOnly,omitempty"`
	Since        string `json:"since,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

func (s *Server) rpcSessionsList(rc *RequestContext) {
	if !s.requireStore(rc) {
		return
	}
	var p sessionsListParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	f := store.SessionFilter{Conversation: p.Conversation, OpenOnly: p.OpenOnly, Limit: p.Limit}
	if p.Since != "" {
		since, err := time.Parse(time.RFC3339, p.Since)
		if err != nil {
			rc.RespondError(CodeInvalidParams, "since must be RFC 3339")
			return
		}
		f.Since = since
	}
	sessions, err := s.sessions.List(rc.Ctx, f)
	if err != nil {
		s.respondStoreError(rc, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	rc.Respond(map[string]any{"sessions": sessions})
}

type sessionIDParams struct {
	ID string `json:"id"`
}

func (p sessionIDParams) valid(rc *RequestContext) bool {
	if p.ID == "" {
		rc.RespondError(CodeInvalidParams, "id is required")
		return false
	}
	return true
}

// triggerLookback reaches back for the text that opened a session, which
// is logged just before the session is created.
const triggerLookback = 5 * time.Second

// SessionDetail is a session with its conversation's messages.
type SessionDetail struct {
	Session  *domain.Session        `json:"session"`
	Messages []domain.LoggedMessage `json:"messages"`
}

func (s *Server) rpcSessionsGet(rc *RequestContext) {
	if !s.requireStore(rc) {
		return
	}
	var p sessionIDParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if !p.valid(rc) {
		return
	}
	sess, err := s.sessions.Get(rc.Ctx, p.ID)
	if err != nil {
		s.respondStoreError(rc, err)
		return
	}

	detail := SessionDetail{Session: sess, Messages: []domain.LoggedMessage{}}
	if s.messages != nil {
		var to time.Time
		if sess.EndTime != nil {
			to = *sess.EndTime
		}
		from := sess.StartTime.Add(-triggerLookback)
		msgs, err := s.messages.Messages(rc.Ctx, sess.Conversation.String(), from, to)
		if err != nil {
			s.respondStoreError(rc, err)
			return
		}
		if msgs != nil {
			detail.Messages = msgs
		}
	}
	rc.Respond(detail)
}

func (s *Server) rpcSessionsCancel(rc *RequestContext) {
	if s.canceller == nil {
		rc.RespondError(CodeUnavailable, "session cancelling is not available")
		return
	}
	var p sessionIDParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if !p.valid(rc) {
		return
	}
	sess, err := s.canceller.Cancel(rc.Ctx, p.ID)
	switch {
	case errors.Is(err, conversation.ErrSessionEnded):
		rc.RespondError(CodeConflict, err.Error())
	case err != nil:
		s.respondStoreError(rc, err)
	default:
		rc.Respond(map[string]any{"session": sess})
	}
}

type sessionsSendParams struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (s *Server) rpcSessionsSend(rc *RequestContext) {
	if s.router == nil || s.sessions == nil {
		rc.RespondError(CodeUnavailable, "sending is not available")
		return
	}
	var p sessionsSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.ID == "" || p.Text == "" {
		rc.RespondError(CodeInvalidParams, "id and text are required")
		return
	}
	sess, err := s.sessions.Get(rc.Ctx, p.ID)
	if err != nil {
		s.respondStoreError(rc, err)
		return
	}
	if err := s.router.SendSession(rc.Ctx, sess, p.Text); err != nil {
		rc.RespondError(CodeUnavailable, err.Error())
		return
	}
	rc.Respond(map[string]any{"sent": true, "to": sess.ReplyTo})
}

type messageSendParams struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Text    string `json:"text"`
}

func (s *Server) rpcMessageSend(rc *RequestContext) {
	if s.router == nil {
		rc.RespondError(CodeUnavailable, "sending is not available")
		return
	}
	var p messageSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.Channel == "" || p.To == "" || p.Text == "" {
		rc.RespondError(CodeInvalidParams, "channel, to and text are required")
		return
	}
	if err := s.router.SendTo(rc.Ctx, p.Channel, p.To, p.Text); err != nil {
		rc.RespondError(CodeUnavailable, err.Error())
		return
	}
	rc.Respond(map[string]any{"sent": true})
}

type simulateParams struct {
	Channel string `json:"channel,omitempty"`
	From    string `json:"from"`
	Text    string `json:"text"`
}

// SimulateResult is what message.simulate reports back.
type SimulateResult struct {
	Plan      string   `json:"plan"`
	Replies   []string `json:"replies"`
	SessionID string   `json:"sessionId,omitempty"`
}

// rpcMessageSimulate runs a text through the dispatcher as if it had
// arrived from From. Replies are returned, not sent.
func (s *Server) rpcMessageSimulate(rc *RequestContext) {
	if s.router == nil {
		rc.RespondError(CodeUnavailable, "dispatcher is not available")
		return
	}
	var p simulateParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.From == "" {
		rc.RespondError(CodeInvalidParams, "from is required")
		return
	}
	if p.Channel == "" {
		p.Channel = "sms"
	}

	res, err := s.router.Process(rc.Ctx, domain.InboundMessage{
		ID:        rc.Frame.ID,
		ChannelID: p.Channel,
		From:      p.From,
		ChatID:    p.From,
		ChatType:  domain.ChatTypeDM,
		Body:      p.Text,
		Timestamp: time.Now(),
	})
	if err != nil {
		rc.RespondError(CodeInternal, err.Error())
		return
	}
	out := SimulateResult{Plan: res.Kind.String(), Replies: res.Replies}
	if out.Replies == nil {
		out.Replies = []string{}
	}
	if res.Session != nil {
		out.SessionID = res.Session.ID
	}
	rc.Respond(out)
}
