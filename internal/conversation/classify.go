package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/store"
)

// PlanKind is how an inbound message will be processed.
type PlanKind int

const (
	Unmatched PlanKind = iota
	NewWholeForm
	StartSession
	ContinueSession
	CancelledRestart
)

func (k PlanKind) String() string {
	switch k {
	case NewWholeForm:
		return "whole-form"
	case StartSession:
		return "start-session"
	case ContinueSession:
		return "continue-session"
	case CancelledRestart:
		return "cancelled-restart"
	default:
		return "unmatched"
	}
}

// Plan is the outcome of classifying one inbound message.
type Plan struct {
	Kind    PlanKind
	Trigger *domain.Trigger
	Session *domain.Session // the open session, if any
	Answers []string        // whole-form answers, in order
}

// Classify looks up the keyword trigger and the open session for the
// conversation and decides how text is to be processed.
func (d *Dispatcher) Classify(ctx context.Context, key domain.ConversationKey, text string) (Plan, error) {
	tokens := strings.Fields(text)

	var trig *domain.Trigger
	if len(tokens) > 0 {
		t, err := d.triggers.FindTrigger(ctx, tokens[0])
		switch {
		case err == nil:
			trig = t
		case !errors.Is(err, store.ErrNotFound):
			return Plan{}, fmt.Errorf("looking up trigger: %w", err)
		}
	}

	var open *domain.Session
	if trig == nil || len(tokens) == 1 {
		s, err := d.sessions.FindOpen(ctx, key)
		switch {
		case err == nil:
			open = s
		case !errors.Is(err, store.ErrNotFound):
			return Plan{}, fmt.Errorf("finding open session: %w", err)
		}
	}

	plan := Plan{
		Kind:    classify(len(tokens), trig != nil, open != nil),
		Trigger: trig,
		Session: open,
	}
	if plan.Kind == NewWholeForm {
		plan.Answers = tokens[1:]
	}
	return plan, nil
}

// classify is the decision table behind Classify. A keyword followed by
// more tokens is a whole-form submission regardless of open sessions.
func classify(tokens int, keyword, open bool) PlanKind {
	switch {
	case keyword && tokens > 1:
		return NewWholeForm
	case keyword && open:
		return CancelledRestart
	case keyword:
		return StartSession
	case open:
		return ContinueSession
	default:
		return Unmatched
	}
}
