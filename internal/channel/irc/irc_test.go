package irc

import (
	"context"
	"strings"
	"testing"

	"github.com/lrstanley/girc"
	"github.com/soyeahso/smsforms/internal/config"
	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func parse(t *testing.T, raw string) girc.Event {
	t.Helper()
	e := girc.ParseEvent(raw)
	require.NotNil(t, e, raw)
	return *e
}

func TestNew(t *testing.T) {
	ch := New(config.IRCConfig{Server: "irc.libera.chat", Nick: "formbot"}, testLogger())
	assert.Equal(t, "irc", ch.ID())

	caps := ch.Capabilities()
	assert.Contains(t, caps.ChatTypes, domain.ChatTypeDM)
	assert.Contains(t, caps.ChatTypes, domain.ChatTypeGroup)
	assert.Zero(t, caps.MaxMessageLen)
}

func TestStatusNotStarted(t *testing.T) {
	status := New(config.IRCConfig{}, testLogger()).Status()
	assert.Equal(t, domain.ChannelStatus{ChannelID: "irc"}, status)
}

func TestClientConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.IRCConfig
		wantPort int
		sasl     bool
		pass     string
	}{
		{"tls default port", config.IRCConfig{Server: "irc.test", Nick: "bot", UseTLS: true}, 6697, false, ""},
		{"plain default port", config.IRCConfig{Server: "irc.test", Nick: "bot"}, 6667, false, ""},
		{"explicit port", config.IRCConfig{Server: "irc.test", Nick: "bot", Port: 7000}, 7000, false, ""},
		{"sasl", config.IRCConfig{Server: "irc.test", Nick: "bot", Password: "pw", SASL: true}, 6667, true, ""},
		{"server password", config.IRCConfig{Server: "irc.test", Nick: "bot", Password: "pw"}, 6667, false, "pw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gc := New(tt.cfg, testLogger()).clientConfig()
			assert.Equal(t, tt.wantPort, gc.Port)
			assert.Equal(t, tt.sasl, gc.SASL != nil)
			assert.Equal(t, tt.pass, gc.ServerPass)
			assert.Equal(t, tt.cfg.UseTLS, gc.TLSConfig != nil)
		})
	}
}

func TestInboundPrivateMessage(t *testing.T) {
	msg, ok := inbound("formbot", parse(t, ":alice!a@host PRIVMSG formbot :  reg 1 2 "))
	require.True(t, ok)
	assert.Equal(t, "irc", msg.ChannelID)
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, "alice", msg.ChatID)
	assert.Equal(t, domain.ChatTypeDM, msg.ChatType)
	assert.Equal(t, "reg 1 2", msg.Body)
	assert.NotEmpty(t, msg.ID)
}

func TestInboundChannelLines(t *testing.T) {
	msg, ok := inbound("formbot", parse(t, ":bob!b@host PRIVMSG #clinic :FormBot: survey"))
	require.True(t, ok)
	assert.Equal(t, "#clinic", msg.ChatID)
	assert.Equal(t, domain.ChatTypeGroup, msg.ChatType)
	assert.Equal(t, "survey", msg.Body)
	assert.Equal(t, "#clinic", msg.ReplyTarget())

	msg, ok = inbound("formbot", parse(t, ":bob!b@host PRIVMSG #clinic :formbot, 42"))
	require.True(t, ok)
	assert.Equal(t, "42", msg.Body)

	_, ok = inbound("formbot", parse(t, ":bob!b@host PRIVMSG #clinic :survey"))
	assert.False(t, ok, "not addressed to us")

	_, ok = inbound("formbot", parse(t, ":bob!b@host PRIVMSG #clinic :formbotty: hi"))
	assert.False(t, ok, "nick prefix only")
}

func TestInboundIgnoresSelf(t *testing.T) {
	_, ok := inbound("formbot", parse(t, ":FormBot!f@host PRIVMSG alice :hello"))
	assert.False(t, ok)
}

func TestOnMessage(t *testing.T) {
	ch := New(config.IRCConfig{}, testLogger())
	var received domain.InboundMessage
	ch.OnMessage(func(msg domain.InboundMessage) { received = msg })

	ch.mu.RLock()
	handler := ch.handler
	ch.mu.RUnlock()
	require.NotNil(t, handler)

	handler(domain.InboundMessage{ID: "test-1", From: "alice", Body: "hello"})
	assert.Equal(t, "test-1", received.ID)
}

func TestSendNotConnected(t *testing.T) {
	ch := New(config.IRCConfig{}, testLogger())
	err := ch.Send(context.Background(), domain.OutboundMessage{To: "alice", Body: "hi"})
	assert.ErrorContains(t, err, "not connected")
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, splitMessage("hello world", 400))
	assert.Equal(t, []string{"line one", "line two"}, splitMessage("line one\n\nline two", 400))
	assert.Equal(t, []string{"abcdefghij", "klmnopqrst", "uvwxyz"}, splitMessage("abcdefghijklmnopqrstuvwxyz", 10))
	assert.Equal(t, []string{""}, splitMessage("", 10))

	chunks := splitMessage(strings.Repeat("é", 10), 5)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 5)
		assert.True(t, strings.HasPrefix(c, "é"))
	}
	assert.Equal(t, strings.Repeat("é", 10), strings.Join(chunks, ""))
}
