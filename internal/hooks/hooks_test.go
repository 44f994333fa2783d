package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func TestManager_On_And_Emit(t *testing.T) {
	m := testManager()

	var got Payload
	m.On(EventFormCompleted, "test", func(_ context.Context, p Payload) error {
		got = p
		return nil
	})

	m.Emit(context.Background(), EventFormCompleted, map[string]any{"sessionId": "s1"})
	assert.Equal(t, EventFormCompleted, got.Event)
	assert.Equal(t, "s1", got.Data["sessionId"])
	assert.False(t, got.Time.IsZero())
}

func TestManager_Emit_OrderAndErrors(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventFormError, "failing", func(_ context.Context, _ Payload) error {
		order = append(order, "failing")
		return errors.New("handler broke")
	})
	m.On(EventFormError, "second", func(_ context.Context, _ Payload) error {
		order = append(order, "second")
		return nil
	})

	m.Emit(context.Background(), EventFormError, nil)
	assert.Equal(t, []string{"failing", "second"}, order)
}

func TestManager_Emit_NoHandlers(t *testing.T) {
	m := testManager()
	m.Emit(context.Background(), EventGatewayStop, nil)
}

func TestManager_Off(t *testing.T) {
	m := testManager()

	var removed, kept int
	m.On(EventSessionEnded, "remove-me", func(_ context.Context, _ Payload) error {
		removed++
		return nil
	})
	m.On(EventSessionEnded, "keep-me", func(_ context.Context, _ Payload) error {
		kept++
		return nil
	})

	m.Off(EventSessionEnded, "remove-me")
	m.Emit(context.Background(), EventSessionEnded, nil)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, kept)
}

func TestManager_Emit_RecoversPanic(t *testing.T) {
	m := testManager()

	var after bool
	m.On(EventFormCompleted, "panics", func(_ context.Context, _ Payload) error {
		panic("boom")
	})
	m.On(EventFormCompleted, "after", func(_ context.Context, _ Payload) error {
		after = true
		return nil
	})

	assert.NotPanics(t, func() { m.Emit(context.Background(), EventFormCompleted, nil) })
	assert.True(t, after)
}

func TestManager_CountAndEvents(t *testing.T) {
	m := testManager()
	assert.Equal(t, 0, m.Count(EventGatewayStart))

	m.On(EventGatewayStart, "h1", func(_ context.Context, _ Payload) error { return nil })
	m.On(EventFormCompleted, "h2", func(_ context.Context, _ Payload) error { return nil })
	assert.Equal(t, 1, m.Count(EventGatewayStart))

	assert.Equal(t, []string{EventFormCompleted, EventGatewayStart}, m.Events())

	m.Off(EventGatewayStart, "h1")
	assert.Equal(t, []string{EventFormCompleted}, m.Events())
}

func TestKnown(t *testing.T) {
	require.NotEmpty(t, AllEvents)
	assert.True(t, Known(EventFormCompleted))
	assert.True(t, Known(EventFormError))
	assert.False(t, Known("message_received"))
}
