// Package conversation runs the SMS form protocol: it decides what an
// inbound text means, validates answers, walks the form engine forward and
// picks the reply.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/smsforms/internal/answer"
	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/formplayer"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/store"
)

// MaxReplyLen bounds replies the dispatcher composes itself.
const MaxReplyLen = 159

// DefaultMaxSteps bounds info acknowledgments per walk and empty
// submissions when playing out a whole-form message.
const DefaultMaxSteps = 50

// Replies holds the fixed reply texts.
type Replies struct {
	ServerError string
	Completed   string
	// Incomplete is a format string taking the first unanswered prompt.
	Incomplete string
}

// DefaultReplies returns the stock reply texts.
func DefaultReplies() Replies {
	return Replies{
		ServerError: "There was a server error. Please try again later",
		Completed:   "Thanks! Your form has been received.",
		Incomplete:  "Incomplete form! The first unanswered question is '%s'.",
	}
}

// Options configures a Dispatcher.
type Options struct {
	InfoAck  string
	MaxSteps int
	Language string
	// RepromptOnInvalid keeps a session open after an invalid answer in
	// session-form mode and asks the question again.
	RepromptOnInvalid bool
	Replies           Replies
}

// Result is what became of one inbound message.
type Result struct {
	Kind    PlanKind
	Replies []string
	Session *domain.Session
}

// Handled reports whether the message belonged to the form protocol.
func (r Result) Handled() bool { return r.Kind != Unmatched }

// Dispatcher is the entry point for inbound texts.
type Dispatcher struct {
	sessions store.SessionStore
	triggers store.TriggerStore
	engine   formplayer.Client
	notify   Notifier
	walker   *Walker
	opts     Options
	now      func() time.Time
	newID    func() string
	log      *logging.Logger
}

// NewDispatcher wires a dispatcher. notify may be nil.
func NewDispatcher(sessions store.SessionStore, triggers store.TriggerStore, engine formplayer.Client, notify Notifier, opts Options, log *logging.Logger) *Dispatcher {
	if notify == nil {
		notify = NopNotifier{}
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.InfoAck == "" {
		opts.InfoAck = "OK"
	}
	def := DefaultReplies()
	if opts.Replies.ServerError == "" {
		opts.Replies.ServerError = def.ServerError
	}
	if opts.Replies.Completed == "" {
		opts.Replies.Completed = def.Completed
	}
	if opts.Replies.Incomplete == "" {
		opts.Replies.Incomplete = def.Incomplete
	}
	return &Dispatcher{
		sessions: sessions,
		triggers: triggers,
		engine:   engine,
		notify:   notify,
		walker:   NewWalker(engine, sessions, notify, opts.InfoAck, opts.MaxSteps, log),
		opts:     opts,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		log:      log.Sub("dispatcher"),
	}
}

// SetClock replaces the time source of the dispatcher and its walker.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
	d.walker.now = now
}

// Handle classifies and processes one inbound message for key.
func (d *Dispatcher) Handle(ctx context.Context, key domain.ConversationKey, msg domain.InboundMessage) (Result, error) {
	plan, err := d.Classify(ctx, key, msg.Body)
	if err != nil {
		return Result{}, err
	}
	return d.Execute(ctx, key, msg, plan)
}

// Execute processes msg according to plan. When another writer ends the
// session while the message is in flight, the turn stops without replies.
func (d *Dispatcher) Execute(ctx context.Context, key domain.ConversationKey, msg domain.InboundMessage, plan Plan) (Result, error) {
	d.log.Debug().Str("conversation", key.String()).Str("plan", plan.Kind.String()).Msg("dispatching")

	res, err := d.execute(ctx, key, msg, plan)
	if !errors.Is(err, ErrSessionEnded) {
		return res, err
	}
	sess := res.Session
	if sess == nil {
		sess = plan.Session
	}
	if sess != nil {
		if fresh, gerr := d.sessions.Get(ctx, sess.ID); gerr == nil {
			sess = fresh
		}
	}
	d.log.Info().Err(err).Str("conversation", key.String()).Msg("session ended by another writer, dropping message")
	return Result{Kind: plan.Kind, Session: sess}, nil
}

func (d *Dispatcher) execute(ctx context.Context, key domain.ConversationKey, msg domain.InboundMessage, plan Plan) (Result, error) {
	switch plan.Kind {
	case Unmatched:
		return Result{Kind: Unmatched}, nil
	case NewWholeForm:
		if plan.Trigger == nil {
			return d.invariant(key, plan)
		}
		return d.wholeForm(ctx, key, msg, plan)
	default:
		return d.sessionForm(ctx, key, msg, plan)
	}
}

func (d *Dispatcher) invariant(key domain.ConversationKey, plan Plan) (Result, error) {
	err := fmt.Errorf("%w: plan %s with trigger=%t session=%t",
		ErrProtocolInvariant, plan.Kind, plan.Trigger != nil, plan.Session != nil)
	d.log.Error().Err(err).Str("conversation", key.String()).Msg("refusing to process message")
	return Result{Kind: Unmatched}, err
}

// wholeForm answers an entire form from one message.
func (d *Dispatcher) wholeForm(ctx context.Context, key domain.ConversationKey, msg domain.InboundMessage, plan Plan) (Result, error) {
	if err := d.closeOpen(ctx, key, false); err != nil {
		return Result{}, err
	}

	sess, turn, err := d.start(ctx, key, msg, plan.Trigger)
	if err != nil {
		return Result{}, err
	}
	res := Result{Kind: plan.Kind, Session: sess}
	if f := turn.Failure(); f != nil {
		return d.fail(ctx, res, sess, f, turn.Prompt)
	}

	for i, raw := range plan.Answers {
		if turn.Completed() {
			d.log.Warn().
				Str("conversation", key.String()).
				Str("session", sess.ID).
				Int("dropped", len(plan.Answers)-i).
				Msg("form completed before all answers were used; dropping the rest")
			break
		}
		q := turn.Question()
		formatted, err := answer.Format(raw, q)
		if err != nil {
			return d.reject(ctx, res, sess, err, q)
		}
		if turn, err = d.submit(ctx, sess, formatted); err != nil {
			return Result{}, err
		}
		if f := turn.Failure(); f != nil {
			return d.fail(ctx, res, sess, f, promptOr(turn.Prompt, q.Prompt))
		}
	}

	// Out of answers: skip whatever is left so trailing required questions
	// surface as engine validation errors.
	var firstUnanswered string
	for steps := 0; !turn.Completed() && steps < d.opts.MaxSteps; steps++ {
		q := turn.Question()
		if firstUnanswered == "" {
			firstUnanswered = q.Prompt
		}
		if turn, err = d.submit(ctx, sess, ""); err != nil {
			return Result{}, err
		}
		if f := turn.Failure(); f != nil {
			return d.fail(ctx, res, sess, f, promptOr(turn.Prompt, q.Prompt))
		}
	}

	if !turn.Completed() {
		return d.terminate(ctx, res, sess, EndIncomplete, fmt.Sprintf(d.opts.Replies.Incomplete, firstUnanswered))
	}

	reply := plan.Trigger.FinalResponse
	if reply == "" {
		reply = d.opts.Replies.Completed
	}
	res.Replies = []string{domain.Truncate(reply, MaxReplyLen)}
	return res, nil
}

// sessionForm handles one answer per message.
func (d *Dispatcher) sessionForm(ctx context.Context, key domain.ConversationKey, msg domain.InboundMessage, plan Plan) (Result, error) {
	switch plan.Kind {
	case CancelledRestart:
		if plan.Trigger == nil || plan.Session == nil {
			return d.invariant(key, plan)
		}
		if err := d.closeOpen(ctx, key, true); err != nil {
			return Result{}, err
		}
		return d.startAndReply(ctx, key, msg, plan)

	case StartSession:
		if plan.Trigger == nil {
			return d.invariant(key, plan)
		}
		return d.startAndReply(ctx, key, msg, plan)

	case ContinueSession:
		if plan.Session == nil {
			return d.invariant(key, plan)
		}
		return d.continueSession(ctx, msg, plan)
	}
	return d.invariant(key, plan)
}

func (d *Dispatcher) startAndReply(ctx context.Context, key domain.ConversationKey, msg domain.InboundMessage, plan Plan) (Result, error) {
	sess, turn, err := d.start(ctx, key, msg, plan.Trigger)
	if err != nil {
		return Result{}, err
	}
	res := Result{Kind: plan.Kind, Session: sess}
	if f := turn.Failure(); f != nil {
		return d.fail(ctx, res, sess, f, turn.Prompt)
	}
	res.Replies = turnReplies(turn, plan.Trigger)
	return res, nil
}

func (d *Dispatcher) continueSession(ctx context.Context, msg domain.InboundMessage, plan Plan) (Result, error) {
	sess := plan.Session
	res := Result{Kind: plan.Kind, Session: sess}

	q := d.currentQuestion(ctx, sess)
	formatted, err := answer.Format(msg.Body, q)
	if err != nil {
		var verr *answer.ValidationError
		if d.opts.RepromptOnInvalid && errors.As(err, &verr) {
			sess.Touch(d.now())
			if err := d.sessions.Save(ctx, sess); err != nil {
				return Result{}, fmt.Errorf("saving session %s: %w", sess.ID, err)
			}
			res.Replies = []string{domain.Truncate(validationReply(verr.Message, q.Prompt), MaxReplyLen)}
			return res, nil
		}
		return d.reject(ctx, res, sess, err, q)
	}

	turn, err := d.submit(ctx, sess, formatted)
	if err != nil {
		return Result{}, err
	}
	if f := turn.Failure(); f != nil {
		return d.fail(ctx, res, sess, f, promptOr(turn.Prompt, q.Prompt))
	}
	res.Replies = turnReplies(turn, d.triggerFor(ctx, sess))
	return res, nil
}

// turnReplies is the session-form reply: the next prompt, or the final
// response once the form is complete.
func turnReplies(turn Turn, trig *domain.Trigger) []string {
	if turn.Completed() {
		if trig != nil && trig.FinalResponse != "" {
			return []string{domain.Truncate(trig.FinalResponse, MaxReplyLen)}
		}
		return nil
	}
	if q := turn.Question(); q != nil && q.Prompt != "" {
		return []string{q.Prompt}
	}
	return nil
}

// start opens an engine session for trig, records it and walks the first
// reply. A failed start still yields a recorded session to fail.
func (d *Dispatcher) start(ctx context.Context, key domain.ConversationKey, msg domain.InboundMessage, trig *domain.Trigger) (*domain.Session, Turn, error) {
	lang := trig.Language
	if lang == "" {
		lang = msg.Language
	}
	if lang == "" {
		lang = d.opts.Language
	}

	env, err := d.engine.Start(ctx, formplayer.StartRequest{
		FormPath: trig.FormPath,
		Language: lang,
		Context:  trig.Context,
	})
	if err != nil {
		env = formplayer.TransportFailure(err)
	}

	sess := domain.NewSession(d.newID(), key, msg.ReplyTarget(), trig, d.now())
	if env.SessionID != "" {
		sess.FormSessionID = env.SessionID
	}
	if err := d.sessions.Create(ctx, sess); err != nil {
		return nil, Turn{}, fmt.Errorf("creating session: %w", err)
	}
	d.log.Info().
		Str("conversation", key.String()).
		Str("session", sess.ID).
		Str("keyword", trig.Keyword).
		Msg("session started")
	d.notify.SessionStarted(ctx, sess)

	turn, err := d.walker.Walk(ctx, sess, env)
	return sess, turn, err
}

func (d *Dispatcher) submit(ctx context.Context, sess *domain.Session, value string) (Turn, error) {
	env, err := d.engine.Answer(ctx, sess.FormSessionID, value)
	if err != nil {
		env = formplayer.TransportFailure(err)
	}
	if env.SessionID != "" {
		if err := sess.AssignFormSession(env.SessionID); err != nil {
			d.log.Warn().Err(err).Str("session", sess.ID).Str("got", env.SessionID).Msg("engine changed session id")
		}
	}
	return d.walker.Walk(ctx, sess, env)
}

// currentQuestion recovers the pending question from the last persisted
// engine reply, asking the engine when that is unusable.
func (d *Dispatcher) currentQuestion(ctx context.Context, sess *domain.Session) *formplayer.Question {
	if env, err := formplayer.Decode(sess.LastResponse); err == nil {
		if q, ok := env.Classify().(*formplayer.Question); ok {
			return q
		}
	}
	if sess.FormSessionID == "" {
		return nil
	}
	env, err := d.engine.Current(ctx, sess.FormSessionID)
	if err != nil {
		d.log.Warn().Err(err).Str("session", sess.ID).Msg("could not fetch current question")
		return nil
	}
	q, _ := env.Classify().(*formplayer.Question)
	return q
}

func (d *Dispatcher) triggerFor(ctx context.Context, sess *domain.Session) *domain.Trigger {
	if sess.Keyword == "" {
		return nil
	}
	t, err := d.triggers.FindTrigger(ctx, sess.Keyword)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.log.Warn().Err(err).Str("keyword", sess.Keyword).Msg("trigger lookup failed")
		}
		return nil
	}
	return t
}

// Cancel closes an open session on an operator's behalf.
func (d *Dispatcher) Cancel(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := d.sessions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	if sess.Ended {
		return sess, ErrSessionEnded
	}
	sess.Cancel(d.now())
	if err := d.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("cancelling session %s: %w", id, err)
	}
	d.log.Info().Str("session", id).Msg("session cancelled by operator")
	d.notify.SessionEnded(ctx, sess, EndCancelled)
	return sess, nil
}

// closeOpen ends every open session of the conversation, marking them
// cancelled when a new trigger supersedes them.
func (d *Dispatcher) closeOpen(ctx context.Context, key domain.ConversationKey, cancel bool) error {
	open, err := d.sessions.ListOpen(ctx, key)
	if err != nil {
		return fmt.Errorf("listing open sessions: %w", err)
	}
	reason := EndSuperseded
	if cancel {
		reason = EndCancelled
	}
	for _, s := range open {
		if cancel {
			s.Cancel(d.now())
		} else {
			s.End(d.now())
		}
		err := d.sessions.Save(ctx, s)
		if errors.Is(err, store.ErrSessionEnded) {
			continue
		}
		if err != nil {
			return fmt.Errorf("closing session %s: %w", s.ID, err)
		}
		d.log.Info().Str("session", s.ID).Str("reason", reason).Msg("closed open session")
		d.notify.SessionEnded(ctx, s, reason)
	}
	return nil
}

// fail handles an engine failure: the session is flagged and ended, and
// transport failures salvage the partial instance for form_error.
func (d *Dispatcher) fail(ctx context.Context, res Result, sess *domain.Session, f *formplayer.Failure, prompt string) (Result, error) {
	sess.SetError(f.Message)

	if !f.Transport() {
		d.log.Info().Str("session", sess.ID).Str("error", f.Message).Msg("engine rejected answer")
		return d.terminate(ctx, res, sess, EndInvalid, validationReply(f.Message, prompt))
	}

	d.log.Error().Str("session", sess.ID).Str("error", f.Message).Msg("form engine failure")
	partial := d.salvage(ctx, sess)
	sess.End(d.now())
	if err := d.sessions.Save(ctx, sess); err != nil {
		return Result{}, fmt.Errorf("saving failed session %s: %w", sess.ID, err)
	}
	d.notify.FormError(ctx, sess, partial)
	d.notify.SessionEnded(ctx, sess, EndError)
	res.Replies = []string{domain.Truncate(d.opts.Replies.ServerError, MaxReplyLen)}
	return res, nil
}

// reject ends the session after a local validation failure.
func (d *Dispatcher) reject(ctx context.Context, res Result, sess *domain.Session, err error, q *formplayer.Question) (Result, error) {
	prompt := ""
	if q != nil {
		prompt = q.Prompt
	}
	d.log.Info().Str("session", sess.ID).Err(err).Msg("invalid answer")
	return d.terminate(ctx, res, sess, EndInvalid, validationReply(err.Error(), prompt))
}

func (d *Dispatcher) terminate(ctx context.Context, res Result, sess *domain.Session, reason, reply string) (Result, error) {
	sess.End(d.now())
	if err := d.sessions.Save(ctx, sess); err != nil {
		return Result{}, fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	d.notify.SessionEnded(ctx, sess, reason)
	res.Replies = []string{domain.Truncate(reply, MaxReplyLen)}
	return res, nil
}

func (d *Dispatcher) salvage(ctx context.Context, sess *domain.Session) string {
	if sess.FormSessionID == "" {
		return ""
	}
	partial, err := d.engine.RawInstance(ctx, sess.FormSessionID)
	if err != nil {
		d.log.Warn().Err(err).Str("session", sess.ID).Msg("could not fetch partial instance")
		return ""
	}
	return partial
}

func validationReply(msg, prompt string) string {
	if prompt == "" {
		return msg
	}
	return fmt.Sprintf("%s for \"%s\"", msg, prompt)
}

func promptOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
