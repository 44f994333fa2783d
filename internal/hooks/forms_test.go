package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endedSession() *domain.Session {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := domain.NewSession("s1", domain.ConversationKey{ChannelID: "sms", ChatID: "+1555"}, "+1555",
		&domain.Trigger{ID: "t1", Keyword: "reg", FormPath: "reg.xml"}, start)
	s.FormSessionID = "fs-1"
	s.End(start.Add(time.Minute))
	return s
}

func TestFormCompletedPayload(t *testing.T) {
	m := testManager()
	var got Payload
	m.On(EventFormCompleted, "capture", func(_ context.Context, p Payload) error {
		got = p
		return nil
	})

	m.FormCompleted(context.Background(), endedSession(), "<data/>")

	require.NotNil(t, got.Data)
	assert.Equal(t, "s1", got.Data["sessionId"])
	assert.Equal(t, "sms:+1555", got.Data["conversation"])
	assert.Equal(t, "fs-1", got.Data["formSessionId"])
	assert.Equal(t, "<data/>", got.Data["output"])
	assert.Equal(t, true, got.Data["ended"])
	assert.Contains(t, got.Data, "endTime")
}

func TestFormErrorPayload(t *testing.T) {
	m := testManager()
	var got Payload
	m.On(EventFormError, "capture", func(_ context.Context, p Payload) error {
		got = p
		return nil
	})

	sess := endedSession()
	sess.SetError("engine down")
	m.FormError(context.Background(), sess, "<data><a>1</a></data>")

	assert.Equal(t, "<data><a>1</a></data>", got.Data["partial"])
	assert.Equal(t, "engine down", got.Data["error"])
	assert.Equal(t, true, got.Data["hasError"])
}

func TestSessionEndedReason(t *testing.T) {
	m := testManager()
	var reason any
	m.On(EventSessionEnded, "capture", func(_ context.Context, p Payload) error {
		reason = p.Data["reason"]
		return nil
	})
	m.SessionEnded(context.Background(), endedSession(), "idle")
	assert.Equal(t, "idle", reason)
}
