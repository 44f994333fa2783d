package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/soyeahso/smsforms/internal/config"
	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAllowedConfigPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"gateway.port", true},
		{"gateway.bind", true},
		{"gateway.customBindHost", true},
		{"formPlayer", true},
		{"formPlayer.timeout", true},
		{"session.idleTimeout", true},
		{"replies.infoAck", true},
		{"logging.level", true},
		{"gateway.auth", false},
		{"gateway.auth.token", false},
		{"gateway.tls.keyPath", false},
		{"gateway.portal", false},
		{"sms.authToken", false},
		{"store.dynamodb", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isAllowedConfigPath(tt.path), tt.path)
	}
}

func TestRPCStatusAndHealth(t *testing.T) {
	f := newFixture(t)
	conn := connect(t, f)

	resp, _ := call(t, conn, "r1", "health", nil)
	var health HealthResponse
	ok(t, resp, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)

	resp, _ = call(t, conn, "r2", "status", nil)
	var status StatusResponse
	ok(t, resp, &status)
	assert.Equal(t, []string{"sms"}, status.Channels)
	assert.Equal(t, 0, status.OpenSessions)
}

func TestRPCConfigGet(t *testing.T) {
	f := newFixture(t)
	conn := connect(t, f)

	resp, _ := call(t, conn, "r1", "config.get", map[string]string{"key": "gateway.port"})
	var got map[string]any
	ok(t, resp, &got)
	assert.EqualValues(t, 18790, got["value"])

	resp, _ = call(t, conn, "r2", "config.get", map[string]string{"key": "gateway.auth.token"})
	failed(t, resp, CodeForbidden)

	resp, _ = call(t, conn, "r3", "config.get", map[string]string{"key": "logging.file"})
	failed(t, resp, CodeNotFound)

	resp, _ = call(t, conn, "r4", "config.get", nil)
	failed(t, resp, CodeInvalidParams)
}

func TestRPCConfigSetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := map[string]any{"logging": map[string]any{"level": "info"}}
	f := newFixture(t, WithConfigRaw(raw, path))
	conn := connect(t, f)

	resp, _ := call(t, conn, "r1", "config.set", map[string]any{"key": "session.idleTimeout", "value": "2h"})
	var got map[string]any
	ok(t, resp, &got)
	assert.Equal(t, true, got["restartRequired"])

	saved, err := config.LoadRaw(path)
	require.NoError(t, err)
	v, found := config.GetValueAtPath(saved, []string{"session", "idleTimeout"})
	require.True(t, found)
	assert.Equal(t, "2h", v)

	resp, _ = call(t, conn, "r2", "config.set", map[string]any{"key": "gateway.auth.token", "value": "x"})
	failed(t, resp, CodeForbidden)
}

func TestRPCChannelsStatus(t *testing.T) {
	f := newFixture(t)
	conn := connect(t, f)

	resp, _ := call(t, conn, "r1", "channels.status", nil)
	var got struct {
		Channels []domain.ChannelStatus `json:"channels"`
	}
	ok(t, resp, &got)
	require.Len(t, got.Channels, 1)
	assert.Equal(t, "sms", got.Channels[0].ChannelID)
}

func TestRPCTriggers(t *testing.T) {
	f := newFixture(t)
	conn := connect(t, f)

	resp, _ := call(t, conn, "r1", "triggers.save", domain.Trigger{Keyword: " Reg ", FormPath: "reg.xml"})
	var saved domain.Trigger
	ok(t, resp, &saved)
	assert.Equal(t, "reg", saved.Keyword)
	assert.NotEmpty(t, saved.ID)

	resp, _ = call(t, conn, "r2", "triggers.save", domain.Trigger{Keyword: "two words", FormPath: "x.xml"})
	failed(t, resp, CodeInvalidParams)

	resp, _ = call(t, conn, "r3", "triggers.list", nil)
	var list struct {
		Triggers []domain.Trigger `json:"triggers"`
	}
	ok(t, resp, &list)
	assert.Len(t, list.Triggers, 2)

	resp, _ = call(t, conn, "r4", "triggers.delete", map[string]string{"keyword": "REG"})
	ok(t, resp, nil)

	resp, _ = call(t, conn, "r5", "triggers.delete", map[string]string{"keyword": "reg"})
	failed(t, resp, CodeNotFound)

	resp, _ = call(t, conn, "r6", "triggers.delete", nil)
	failed(t, resp, CodeInvalidParams)
}

func TestRPCSimulateBroadcastsCompletion(t *testing.T) {
	f := newFixture(t)
	unsubscribe := f.srv.subscribe()
	t.Cleanup(unsubscribe)
	conn := connect(t, f)

	resp, events := call(t, conn, "r1", "message.simulate", map[string]string{"from": "+15550001", "text": "foo 2 1"})
	var res SimulateResult
	ok(t, resp, &res)
	assert.Equal(t, "whole-form", res.Plan)
	assert.Equal(t, []string{"Thanks, recorded."}, res.Replies)
	require.NotEmpty(t, res.SessionID)
	assert.Empty(t, f.sms.messages(), "simulated replies are not sent")

	var names []string
	for _, ev := range events {
		names = append(names, ev.Event)
	}
	assert.Contains(t, names, EventFormCompleted)
	assert.Contains(t, names, EventSessionStarted)

	resp, _ = call(t, conn, "r2", "message.simulate", map[string]string{"text": "foo"})
	failed(t, resp, CodeInvalidParams)
}

func TestRPCSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	conn := connect(t, f)

	resp, _ := call(t, conn, "r1", "message.simulate", map[string]string{"from": "+15550002", "text": "FOO"})
	var res SimulateResult
	ok(t, resp, &res)
	assert.Equal(t, []string{"How many adults?"}, res.Replies)

	resp, _ = call(t, conn, "r2", "sessions.list", map[string]any{"openOnly": true})
	var list struct {
		Sessions []domain.Session `json:"sessions"`
	}
	ok(t, resp, &list)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, res.SessionID, list.Sessions[0].ID)

	resp, _ = call(t, conn, "r3", "sessions.get", map[string]string{"id": res.SessionID})
	var detail SessionDetail
	ok(t, resp, &detail)
	assert.False(t, detail.Session.Ended)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, domain.DirectionIncoming, detail.Messages[0].Direction)
	assert.Equal(t, "How many adults?", detail.Messages[1].Text)

	resp, _ = call(t, conn, "r4", "sessions.send", map[string]string{"id": res.SessionID, "text": "Still there?"})
	ok(t, resp, nil)
	sent := f.sms.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "+15550002", sent[0].To)

	resp, _ = call(t, conn, "r5", "sessions.cancel", map[string]string{"id": res.SessionID})
	ok(t, resp, nil)
	sess, err := f.store.Get(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.Ended)
	assert.True(t, sess.Cancelled)

	resp, _ = call(t, conn, "r6", "sessions.cancel", map[string]string{"id": res.SessionID})
	failed(t, resp, CodeConflict)

	resp, _ = call(t, conn, "r7", "sessions.cancel", map[string]string{"id": "missing"})
	failed(t, resp, CodeNotFound)

	resp, _ = call(t, conn, "r8", "sessions.get", map[string]string{"id": "missing"})
	failed(t, resp, CodeNotFound)

	resp, _ = call(t, conn, "r9", "sessions.list", map[string]any{"since": "yesterday"})
	failed(t, resp, CodeInvalidParams)
}

func TestRPCMessageSend(t *testing.T) {
	f := newFixture(t)
	conn := connect(t, f)

	resp, _ := call(t, conn, "r1", "message.send", map[string]string{"channel": "sms", "to": "+15550003", "text": "Reminder: reply FOO"})
	ok(t, resp, nil)
	sent := f.sms.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Reminder: reply FOO", sent[0].Body)

	resp, _ = call(t, conn, "r2", "message.send", map[string]string{"channel": "irc", "to": "x", "text": "y"})
	failed(t, resp, CodeUnavailable)

	resp, _ = call(t, conn, "r3", "message.send", map[string]string{"channel": "sms"})
	failed(t, resp, CodeInvalidParams)
}

func TestRPCWithoutStore(t *testing.T) {
	cfg := config.Defaults().Gateway
	cfg.Auth = config.GatewayAuth{Mode: "token", Token: testToken}
	srv := New(cfg, testLog())
	conn := connect(t, &fixture{srv: srv, ts: serve(t, srv)})

	for i, method := range []string{"triggers.list", "sessions.list", "sessions.cancel", "message.simulate"} {
		resp, _ := call(t, conn, fmt.Sprint("r", i), method, map[string]string{"id": "x", "from": "y"})
		failed(t, resp, CodeUnavailable)
	}
}
