package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/formplayer"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/store"
)

// Turn is where a walk stopped. Response is a *formplayer.Question,
// *formplayer.Complete or *formplayer.Failure; info prompts never stop a walk.
type Turn struct {
	Response formplayer.Response
	// Acks counts info prompts acknowledged during the walk.
	Acks int
	// Prompt is the last info prompt acknowledged, if any.
	Prompt string
	// Err is set when the walk was cut off by the step bound.
	Err error
}

// Question returns the pending question, or nil.
func (t Turn) Question() *formplayer.Question {
	q, _ := t.Response.(*formplayer.Question)
	return q
}

// Completed reports whether the form was completed.
func (t Turn) Completed() bool {
	_, ok := t.Response.(*formplayer.Complete)
	return ok
}

// Failure returns the engine failure, or nil.
func (t Turn) Failure() *formplayer.Failure {
	f, _ := t.Response.(*formplayer.Failure)
	return f
}

// Walker advances a session through the engine's replies until it needs
// user input, completes, or fails.
type Walker struct {
	engine   formplayer.Client
	sessions store.SessionStore
	notify   Notifier
	ack      string
	maxSteps int
	now      func() time.Time
	log      *logging.Logger
}

// NewWalker creates a walker. ack is submitted to acknowledge info
// prompts; maxSteps bounds consecutive acknowledgments.
func NewWalker(engine formplayer.Client, sessions store.SessionStore, notify Notifier, ack string, maxSteps int, log *logging.Logger) *Walker {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Walker{
		engine:   engine,
		sessions: sessions,
		notify:   notify,
		ack:      ack,
		maxSteps: maxSteps,
		now:      time.Now,
		log:      log.Sub("walker"),
	}
}

// Walk processes env, the reply to a remote call just made for sess, and
// any acknowledgments it chains into. The session is saved once at the
// end; a completed form is ended and reported after the save.
func (w *Walker) Walk(ctx context.Context, sess *domain.Session, env *formplayer.Envelope) (Turn, error) {
	turn := w.advance(ctx, sess, env)

	complete, done := turn.Response.(*formplayer.Complete)
	if done {
		sess.End(w.now())
	}
	if err := w.sessions.Save(ctx, sess); err != nil {
		return turn, fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	if done {
		w.log.Info().Str("session", sess.ID).Str("keyword", sess.Keyword).Msg("form completed")
		w.notify.FormCompleted(ctx, sess, complete.Output)
		w.notify.SessionEnded(ctx, sess, EndCompleted)
	}
	return turn, nil
}

// advance is the walk loop proper. It mutates sess in memory only.
func (w *Walker) advance(ctx context.Context, sess *domain.Session, env *formplayer.Envelope) Turn {
	var turn Turn
	for {
		sess.Touch(w.now())
		sess.LastResponse = env.Encode()

		resp := env.Classify()
		info, ok := resp.(*formplayer.Info)
		if !ok {
			turn.Response = resp
			return turn
		}

		if turn.Acks >= w.maxSteps {
			turn.Err = fmt.Errorf("%w: more than %d consecutive info prompts", ErrEngineProtocol, w.maxSteps)
			turn.Response = &formplayer.Failure{Status: formplayer.StatusHTTPError, Message: turn.Err.Error()}
			w.log.Error().Err(turn.Err).Str("session", sess.ID).Msg("walk aborted")
			return turn
		}

		turn.Acks++
		turn.Prompt = info.Prompt
		w.log.Debug().Str("session", sess.ID).Str("prompt", info.Prompt).Msg("acknowledging info prompt")

		next, err := w.engine.Answer(ctx, sess.FormSessionID, w.ack)
		if err != nil {
			next = formplayer.TransportFailure(err)
		}
		env = next
	}
}
