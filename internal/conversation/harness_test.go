package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/formplayer"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/store"
	"github.com/stretchr/testify/require"
)

var (
	t0      = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	phone   = "+15550001111"
	convKey = domain.ConversationKey{ChannelID: "sms", ChatID: phone}
)

type recorder struct {
	mu        sync.Mutex
	completed []string
	errors    []string
	started   []string
	ended     []string
}

func (r *recorder) FormCompleted(_ context.Context, _ *domain.Session, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, output)
}

func (r *recorder) FormError(_ context.Context, _ *domain.Session, partial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, partial)
}

func (r *recorder) SessionStarted(_ context.Context, s *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, s.ID)
}

func (r *recorder) SessionEnded(_ context.Context, _ *domain.Session, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, reason)
}

type harness struct {
	t      *testing.T
	store  *store.MemoryStore
	engine *formplayer.Mock
	rec    *recorder
	d      *Dispatcher
	ticks  int
}

func intQ(prompt string) formplayer.Step {
	return formplayer.Step{Datatype: formplayer.DatatypeInt, Prompt: prompt}
}

func required(step formplayer.Step) formplayer.Step {
	step.Validate = func(a string) string {
		if a == "" {
			return "An answer is required"
		}
		return ""
	}
	return step
}

func newHarness(t *testing.T, opts Options, forms map[string][]formplayer.Step, triggers ...*domain.Trigger) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		store:  store.NewMemoryStore(),
		engine: formplayer.NewMock(forms),
		rec:    &recorder{},
	}
	for _, trig := range triggers {
		require.NoError(t, h.store.SaveTrigger(context.Background(), trig))
	}
	h.d = NewDispatcher(h.store, h.store, h.engine, h.rec, opts, logging.New(nil, "silent"))
	h.d.SetClock(func() time.Time {
		h.ticks++
		return t0.Add(time.Duration(h.ticks) * time.Second)
	})
	return h
}

func (h *harness) send(text string) Result {
	h.t.Helper()
	res, err := h.d.Handle(context.Background(), convKey, domain.InboundMessage{
		ChannelID: "sms",
		From:      phone,
		ChatID:    phone,
		ChatType:  domain.ChatTypeDM,
		Body:      text,
	})
	require.NoError(h.t, err)
	h.assertAtMostOneOpen()
	return res
}

func (h *harness) assertAtMostOneOpen() {
	h.t.Helper()
	open, err := h.store.List(context.Background(), store.SessionFilter{OpenOnly: true, Conversation: convKey.String()})
	require.NoError(h.t, err)
	require.LessOrEqual(h.t, len(open), 1, "at most one open session per conversation")
}

func (h *harness) session(id string) *domain.Session {
	h.t.Helper()
	s, err := h.store.Get(context.Background(), id)
	require.NoError(h.t, err)
	return s
}

func (h *harness) answers(s *domain.Session) []string {
	return h.engine.Answers(s.FormSessionID)
}
