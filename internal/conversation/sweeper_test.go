package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepClosesIdleSessions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	rec := &recorder{}

	stale := domain.NewSession("stale", convKey, phone, nil, t0)
	other := domain.ConversationKey{ChannelID: "sms", ChatID: "+15559998888"}
	fresh := domain.NewSession("fresh", other, "+15559998888", nil, t0.Add(50*time.Minute))
	require.NoError(t, st.Create(ctx, stale))
	require.NoError(t, st.Create(ctx, fresh))

	s := NewSweeper(st, rec, 30*time.Minute, logging.New(nil, "silent"))
	s.now = func() time.Time { return t0.Add(time.Hour) }

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{EndIdle}, rec.ended)

	got, err := st.Get(ctx, "stale")
	require.NoError(t, err)
	assert.True(t, got.Ended)
	assert.False(t, got.HasError)

	_, err = st.FindOpen(ctx, convKey)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.FindOpen(ctx, other)
	assert.NoError(t, err)

	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already closed sessions are not swept again")
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	s := NewSweeper(store.NewMemoryStore(), nil, time.Minute, logging.New(nil, "silent"))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 5*time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// endBeforeSave closes every idle session just after it is listed.
type endBeforeSave struct {
	*store.MemoryStore
}

func (e endBeforeSave) ListIdle(ctx context.Context, cutoff time.Time) ([]*domain.Session, error) {
	idle, err := e.MemoryStore.ListIdle(ctx, cutoff)
	for _, s := range idle {
		done := *s
		done.Cancel(cutoff)
		if serr := e.MemoryStore.Save(ctx, &done); serr != nil {
			return nil, serr
		}
	}
	return idle, err
}

func TestSweepSkipsSessionsEndedMeanwhile(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	rec := &recorder{}
	require.NoError(t, st.Create(ctx, domain.NewSession("stale", convKey, phone, nil, t0)))

	s := NewSweeper(endBeforeSave{st}, rec, 30*time.Minute, logging.New(nil, "silent"))
	s.now = func() time.Time { return t0.Add(time.Hour) }

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, rec.ended)

	got, err := st.Get(ctx, "stale")
	require.NoError(t, err)
	assert.True(t, got.Cancelled, "the earlier close wins")
}
