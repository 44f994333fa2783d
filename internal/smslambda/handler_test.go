package smslambda

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/soyeahso/smsforms/internal/conversation"
	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/formplayer"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twimlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

type stubProcessor struct {
	res conversation.Result
	err error
	got []domain.InboundMessage
}

func (s *stubProcessor) Process(_ context.Context, msg domain.InboundMessage) (conversation.Result, error) {
	s.got = append(s.got, msg)
	return s.res, s.err
}

func makeEvent(from, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/sms",
		Headers:    map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:       url.Values{"From": {from}, "Body": {body}, "MessageSid": {"SM1"}}.Encode(),
	}
}

func TestNewHandler_RequiresProcessor(t *testing.T) {
	_, err := NewHandler(nil, "", logging.New(nil, "silent"))
	require.Error(t, err)
}

func TestHandle_RejectsBadRequests(t *testing.T) {
	proc := &stubProcessor{}
	h, err := NewHandler(proc, "s3cret", logging.New(nil, "silent"))
	require.NoError(t, err)
	ctx := context.Background()

	get := makeEvent("+15550001", "hi")
	get.HTTPMethod = http.MethodGet
	resp, err := h.Handle(ctx, get)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = h.Handle(ctx, makeEvent("+15550001", "hi"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	noFrom := makeEvent("", "hi")
	noFrom.QueryStringParameters = map[string]string{"secret": "s3cret"}
	resp, err = h.Handle(ctx, noFrom)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	badB64 := makeEvent("+15550001", "hi")
	badB64.Headers["x-smsforms-secret"] = "s3cret"
	badB64.IsBase64Encoded = true
	badB64.Body = "%%%"
	resp, err = h.Handle(ctx, badB64)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, proc.got)
}

func TestHandle_RepliesInline(t *testing.T) {
	proc := &stubProcessor{res: conversation.Result{
		Kind:    conversation.StartSession,
		Replies: []string{"How many adults?"},
	}}
	h, err := NewHandler(proc, "s3cret", logging.New(nil, "silent"))
	require.NoError(t, err)

	ev := makeEvent("+15550001", "FOO")
	ev.Headers["X-Smsforms-Secret"] = "s3cret"
	ev.IsBase64Encoded = true
	ev.Body = base64.StdEncoding.EncodeToString([]byte(ev.Body))

	resp, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/xml", resp.Headers["Content-Type"])
	assert.Equal(t, twimlHeader+"<Response><Message>How many adults?</Message></Response>", resp.Body)

	require.Len(t, proc.got, 1)
	assert.Equal(t, "SM1", proc.got[0].ID)
	assert.Equal(t, "+15550001", proc.got[0].From)
	assert.Equal(t, "FOO", proc.got[0].Body)
}

func TestHandle_ProcessError(t *testing.T) {
	proc := &stubProcessor{err: errors.New("table unavailable")}
	h, err := NewHandler(proc, "", logging.New(nil, "silent"))
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent("+15550001", "FOO"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHandle_EndToEnd(t *testing.T) {
	var (
		mu       sync.Mutex
		notified []string
	)
	notify := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		notified = append(notified, r.Header.Get("X-Smsforms-Event"))
		mu.Unlock()
	}))
	defer notify.Close()

	ctx := context.Background()
	log := logging.New(nil, "silent")
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveTrigger(ctx, &domain.Trigger{
		Keyword: "foo", FormPath: "foo.xml", FinalResponse: "Thanks, recorded.",
	}))
	engine := formplayer.NewMock(map[string][]formplayer.Step{
		"foo.xml": {
			{Name: "adults", Datatype: formplayer.DatatypeInt, Prompt: "How many adults?"},
			{Name: "children", Datatype: formplayer.DatatypeInt, Prompt: "How many children?"},
		},
	})
	e := Env{InfoAck: "OK", MaxSteps: 50, Scope: "per-sender"}
	router := NewRouter(e, st, engine, NotifyHooks([]string{notify.URL}, nil, log), log)

	h, err := NewHandler(router, "", log)
	require.NoError(t, err)
	h.now = func() time.Time { return time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC) }

	texts := []struct{ in, want string }{
		{"FOO", "How many adults?"},
		{"2", "How many children?"},
		{"1", "Thanks, recorded."},
	}
	for _, tt := range texts {
		resp, err := h.Handle(ctx, makeEvent("+15550001", tt.in))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, twimlHeader+"<Response><Message>"+tt.want+"</Message></Response>", resp.Body, tt.in)
	}

	resp, err := h.Handle(ctx, makeEvent("+15550001", "hello"))
	require.NoError(t, err)
	assert.Equal(t, twimlHeader+"<Response/>", resp.Body)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"form_completed"}, notified)
}
