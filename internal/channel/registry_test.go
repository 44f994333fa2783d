package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

// mockChannel is a test double for domain.Channel. Start blocks until the
// context is done, like a connected transport.
type mockChannel struct {
	id       string
	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error
	stopErr  error
}

func (m *mockChannel) ID() string { return m.id }
func (m *mockChannel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{ChatTypes: []domain.ChatType{domain.ChatTypeDM}}
}
func (m *mockChannel) Start(ctx context.Context) error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	<-ctx.Done()
	return ctx.Err()
}
func (m *mockChannel) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return m.stopErr
}
func (m *mockChannel) Send(_ context.Context, _ domain.OutboundMessage) error { return nil }
func (m *mockChannel) OnMessage(_ func(domain.InboundMessage))                {}

func (m *mockChannel) state() (started, stopped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.stopped
}

// statusChannel reports its own status.
type statusChannel struct{ mockChannel }

func (s *statusChannel) Status() domain.ChannelStatus {
	return domain.ChannelStatus{ChannelID: s.id, Connected: false, LastError: "dial tcp: refused"}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&mockChannel{id: "sms"})

	got, ok := reg.Get("sms")
	require.True(t, ok)
	assert.Equal(t, "sms", got.ID())

	_, ok = reg.Get("nonexistent")
	assert.False(t, ok)
}

func TestRegistryReplace(t *testing.T) {
	reg := NewRegistry(testLogger())
	first, second := &mockChannel{id: "sms"}, &mockChannel{id: "sms"}
	reg.Register(first)
	reg.Register(second)

	got, _ := reg.Get("sms")
	assert.Same(t, second, got)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistryListSorted(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&mockChannel{id: "sms"})
	reg.Register(&mockChannel{id: "irc"})

	assert.Equal(t, []string{"irc", "sms"}, reg.List())
}

func TestRegistryStatus(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&mockChannel{id: "sms"})
	reg.Register(&statusChannel{mockChannel{id: "irc"}})

	assert.Equal(t, []domain.ChannelStatus{
		{ChannelID: "irc", LastError: "dial tcp: refused"},
		{ChannelID: "sms", Running: true},
	}, reg.Status())
}

func TestRegistryRun(t *testing.T) {
	reg := NewRegistry(testLogger())
	ok := &mockChannel{id: "sms"}
	broken := &mockChannel{id: "irc", startErr: assert.AnError}
	reg.Register(ok)
	reg.Register(broken)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()

	assert.Eventually(t, func() bool {
		s1, _ := ok.state()
		s2, _ := broken.state()
		return s1 && s2
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err, "a failed channel does not fail the registry")
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, stopped := ok.state()
	assert.True(t, stopped)
}

func TestRegistryStopAll(t *testing.T) {
	reg := NewRegistry(testLogger())
	ch1 := &mockChannel{id: "irc", stopErr: assert.AnError}
	ch2 := &mockChannel{id: "sms"}
	reg.Register(ch1)
	reg.Register(ch2)

	err := reg.StopAll(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "irc")

	_, s1 := ch1.state()
	_, s2 := ch2.state()
	assert.True(t, s1)
	assert.True(t, s2)
}
