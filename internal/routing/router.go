// Package routing connects messaging channels to the conversation dispatcher.
package routing

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/soyeahso/smsforms/internal/channel"
	"github.com/soyeahso/smsforms/internal/conversation"
	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/hooks"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/store"
)

// Handler decides what an inbound text means. *conversation.Dispatcher
// implements it.
type Handler interface {
	Handle(ctx context.Context, key domain.ConversationKey, msg domain.InboundMessage) (conversation.Result, error)
}

// Router routes inbound messages to the dispatcher and replies back out
// through the originating channel.
type Router struct {
	channels *channel.Registry
	handler  Handler
	messages store.MessageLog
	hooks    *hooks.Manager
	scope    string
	locks    *keyedMutex
	now      func() time.Time
	log      *logging.Logger

	// mu guards closed and orders wg.Add against Wait.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRouter creates a message router. messages and hm may be nil.
func NewRouter(
	channels *channel.Registry,
	handler Handler,
	messages store.MessageLog,
	hm *hooks.Manager,
	scope string,
	log *logging.Logger,
) *Router {
	if scope == "" {
		scope = ScopePerSender
	}
	return &Router{
		channels: channels,
		handler:  handler,
		messages: messages,
		hooks:    hm,
		scope:    scope,
		locks:    newKeyedMutex(),
		now:      time.Now,
		log:      log.Sub("router"),
	}
}

// Process runs one inbound message through the dispatcher without sending
// anything. Messages of the same conversation are processed one at a time.
func (r *Router) Process(ctx context.Context, msg domain.InboundMessage) (conversation.Result, error) {
	key := ConversationKeyFor(msg, r.scope)
	unlock := r.locks.Lock(key.String())
	defer unlock()

	r.log.Info().
		Str("channel", msg.ChannelID).
		Str("from", msg.From).
		Str("conversation", key.String()).
		Msg("routing inbound message")

	r.record(ctx, key.String(), domain.DirectionIncoming, msg.Body)

	res, err := r.handler.Handle(ctx, key, msg)
	if err != nil {
		return res, fmt.Errorf("handling message from %s: %w", key, err)
	}
	if !res.Handled() {
		r.log.Debug().Str("conversation", key.String()).Msg("no trigger or open session, dropping message")
		if r.hooks != nil {
			r.hooks.Emit(ctx, hooks.EventMessageUnmatched, map[string]any{
				"conversation": key.String(),
				"channelId":    msg.ChannelID,
				"from":         msg.From,
				"body":         msg.Body,
			})
		}
		return res, nil
	}

	for _, reply := range res.Replies {
		r.record(ctx, key.String(), domain.DirectionOutgoing, reply)
	}
	return res, nil
}

// HandleInbound processes an inbound message from any channel and sends
// the replies back through it.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage) {
	res, err := r.Process(ctx, msg)
	if err != nil {
		r.log.Error().Err(err).Str("channel", msg.ChannelID).Msg("dispatch failed")
		return
	}
	if len(res.Replies) == 0 {
		return
	}

	ch, ok := r.channels.Get(msg.ChannelID)
	if !ok {
		r.log.Error().Str("channel", msg.ChannelID).Msg("channel not found for reply")
		return
	}

	to := replyTarget(msg, res.Session)
	limit := ch.Capabilities().MaxMessageLen
	for _, body := range res.Replies {
		if limit > 0 && utf8.RuneCountInString(body) > limit {
			r.log.Debug().Str("channel", msg.ChannelID).Int("len", utf8.RuneCountInString(body)).
				Msg("reply longer than one message, transport will split it")
		}
		reply := domain.OutboundMessage{
			ChannelID: msg.ChannelID,
			To:        to,
			Body:      body,
			ReplyToID: msg.ID,
		}
		if err := ch.Send(ctx, reply); err != nil {
			r.log.Error().Err(err).
				Str("channel", msg.ChannelID).
				Str("to", to).
				Msg("failed to send reply")
			return
		}
	}

	r.log.Info().
		Str("channel", msg.ChannelID).
		Str("to", to).
		Int("replies", len(res.Replies)).
		Stringer("plan", res.Kind).
		Msg("replies sent")
}

// Wire registers HandleInbound as the message handler on all channels.
// Handling stops being scheduled once ctx is done; Wait blocks until the
// in-flight messages finish.
func (r *Router) Wire(ctx context.Context) {
	for _, id := range r.channels.List() {
		ch, ok := r.channels.Get(id)
		if !ok {
			continue
		}
		ch.OnMessage(func(msg domain.InboundMessage) {
			if !r.track(ctx) {
				r.log.Debug().Str("channel", msg.ChannelID).Msg("router stopped, dropping message")
				return
			}
			go func() {
				defer r.wg.Done()
				r.HandleInbound(ctx, msg)
			}()
		})
		r.log.Debug().Str("channel", id).Msg("wired message handler")
	}
}

// track reserves a slot for one in-flight message unless the router has
// stopped.
func (r *Router) track(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || ctx.Err() != nil {
		return false
	}
	r.wg.Add(1)
	return true
}

// Wait stops Wire from scheduling further messages and blocks until every
// message already started has been handled.
func (r *Router) Wait() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}

// SendTo sends a message to a specific channel.
func (r *Router) SendTo(ctx context.Context, channelID, target, body string) error {
	ch, ok := r.channels.Get(channelID)
	if !ok {
		return fmt.Errorf("channel not found: %s", channelID)
	}
	return ch.Send(ctx, domain.OutboundMessage{
		ChannelID: channelID,
		To:        target,
		Body:      body,
	})
}

// SendSession sends an out-of-band text to a session's participant using
// the addressing stored on the session, and logs it to the conversation.
func (r *Router) SendSession(ctx context.Context, sess *domain.Session, body string) error {
	to := sess.ReplyTo
	if to == "" {
		to = sess.Conversation.ChatID
	}
	if err := r.SendTo(ctx, sess.Conversation.ChannelID, to, body); err != nil {
		return err
	}
	r.record(ctx, sess.Conversation.String(), domain.DirectionOutgoing, body)
	return nil
}

func (r *Router) record(ctx context.Context, conv string, dir domain.Direction, text string) {
	if r.messages == nil {
		return
	}
	err := r.messages.LogMessage(ctx, domain.LoggedMessage{
		Conversation: conv,
		Direction:    dir,
		Text:         text,
		Date:         r.now().UTC(),
	})
	if err != nil {
		r.log.Warn().Err(err).Str("conversation", conv).Msg("failed to log message")
	}
}

// replyTarget prefers the addressing recorded on the session so replies
// reach the participant even when the message came in on a shared chat.
func replyTarget(msg domain.InboundMessage, sess *domain.Session) string {
	if sess != nil && sess.ReplyTo != "" {
		return sess.ReplyTo
	}
	return msg.ReplyTarget()
}
