package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- ConversationKey tests ---

func TestConversationKeyString(t *testing.T) {
	tests := []struct {
		name string
		key  ConversationKey
		want string
	}{
		{
			name: "with sender",
			key:  ConversationKey{ChannelID: "irc", ChatID: "#forms", SenderID: "alice"},
			want: "irc:#forms:alice",
		},
		{
			name: "without sender",
			key:  ConversationKey{ChannelID: "sms", ChatID: "+15550001111"},
			want: "sms:+15550001111",
		},
		{
			name: "empty fields",
			key:  ConversationKey{},
			want: ":",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.String())
		})
	}
}

func TestParseConversationKey(t *testing.T) {
	k, err := ParseConversationKey("irc:#forms:alice")
	require.NoError(t, err)
	assert.Equal(t, ConversationKey{ChannelID: "irc", ChatID: "#forms", SenderID: "alice"}, k)

	k, err = ParseConversationKey("sms:+15550001111")
	require.NoError(t, err)
	assert.Equal(t, "sms:+15550001111", k.String())

	_, err = ParseConversationKey("sms")
	assert.Error(t, err)
	_, err = ParseConversationKey(":x")
	assert.Error(t, err)
}

func TestReplyTarget(t *testing.T) {
	dm := InboundMessage{From: "alice", ChatID: "alice", ChatType: ChatTypeDM}
	assert.Equal(t, "alice", dm.ReplyTarget())

	group := InboundMessage{From: "alice", ChatID: "#forms", ChatType: ChatTypeGroup}
	assert.Equal(t, "#forms", group.ReplyTarget())
}

// --- Session lifecycle tests ---

func testTrigger() *Trigger {
	return &Trigger{ID: "t1", Keyword: "reg", FormPath: "forms/reg.xml"}
}

func TestNewSession(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	conv := ConversationKey{ChannelID: "sms", ChatID: "+1555"}
	s := NewSession("s1", conv, "+1555", testTrigger(), now)

	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, "t1", s.TriggerID)
	assert.Equal(t, "reg", s.Keyword)
	assert.Equal(t, "forms/reg.xml", s.FormPath)
	assert.Equal(t, now, s.StartTime)
	assert.Equal(t, now, s.ModifiedTime)
	assert.False(t, s.Ended)
	assert.Nil(t, s.EndTime)
}

func TestSessionEnd(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSession("s1", ConversationKey{ChannelID: "sms", ChatID: "+1"}, "+1", testTrigger(), start)

	end := start.Add(90 * time.Second)
	s.End(end)
	assert.True(t, s.Ended)
	require.NotNil(t, s.EndTime)
	assert.Equal(t, end, *s.EndTime)
	assert.Equal(t, end, s.ModifiedTime)
	assert.Equal(t, 90*time.Second, s.Duration())

	// A second End keeps the first end time.
	s.End(end.Add(time.Hour))
	assert.Equal(t, end, *s.EndTime)
}

func TestSessionCancel(t *testing.T) {
	now := time.Now()
	s := NewSession("s1", ConversationKey{ChannelID: "sms", ChatID: "+1"}, "+1", nil, now)
	s.Cancel(now)
	assert.True(t, s.Ended)
	assert.True(t, s.Cancelled)
	assert.NotNil(t, s.EndTime)
}

func TestSessionSetErrorTruncates(t *testing.T) {
	s := &Session{}
	long := make([]rune, 400)
	for i := range long {
		long[i] = 'é'
	}
	s.SetError(string(long))
	assert.True(t, s.HasError)
	assert.Len(t, []rune(s.ErrorMsg), MaxErrorLen)
}

func TestAssignFormSession(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.AssignFormSession("remote-1"))
	require.NoError(t, s.AssignFormSession("remote-1"))
	assert.ErrorIs(t, s.AssignFormSession("remote-2"), ErrFormSessionAssigned)
	assert.Equal(t, "remote-1", s.FormSessionID)
}

func TestOpenSessionDuration(t *testing.T) {
	s := &Session{StartTime: time.Now()}
	assert.Zero(t, s.Duration())
}

func TestSessionJSON_OmitsEmpty(t *testing.T) {
	s := Session{ID: "s1", Conversation: ConversationKey{ChannelID: "sms", ChatID: "+1"}}
	data, err := json.Marshal(s)
	require.NoError(t, err)

	raw := string(data)
	assert.NotContains(t, raw, "endTime")
	assert.NotContains(t, raw, "formSessionId")
	assert.NotContains(t, raw, "lastResponse")
}

// --- Helpers ---

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "", Truncate("abc", 0))
	assert.Equal(t, "héé", Truncate("hééllo", 3))
}

func TestKeywordOf(t *testing.T) {
	assert.Equal(t, "reg", KeywordOf("  REG 1 2"))
	assert.Equal(t, "reg", KeywordOf("Reg"))
	assert.Equal(t, "", KeywordOf("   "))
	assert.Equal(t, "reg", NormalizeKeyword(" ReG "))
}

func TestChatTypeConstants(t *testing.T) {
	assert.Equal(t, ChatType("dm"), ChatTypeDM)
	assert.Equal(t, ChatType("group"), ChatTypeGroup)
}

func TestTriggerValidate(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		wantErr string
	}{
		{"ok", Trigger{Keyword: "reg", FormPath: "reg.xml"}, ""},
		{"missing keyword", Trigger{FormPath: "reg.xml"}, "keyword is required"},
		{"two words", Trigger{Keyword: "reg now", FormPath: "reg.xml"}, "single word"},
		{"missing form", Trigger{Keyword: "reg"}, "form path is required"},
		{"long final response", Trigger{Keyword: "reg", FormPath: "reg.xml", FinalResponse: strings.Repeat("x", 161)}, "longer than 160"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trigger.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
