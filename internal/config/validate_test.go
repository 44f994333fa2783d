package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuePaths(issues []ValidationIssue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Path
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{"defaults", func(*Config) {}, nil},
		{"bad port", func(c *Config) { c.Gateway.Port = 70000 }, []string{"gateway.port"}},
		{"bad bind", func(c *Config) { c.Gateway.Bind = "tailnet" }, []string{"gateway.bind"}},
		{"custom bind without host", func(c *Config) { c.Gateway.Bind = "custom" }, []string{"gateway.customBindHost"}},
		{"bad auth mode", func(c *Config) { c.Gateway.Auth.Mode = "oauth" }, []string{"gateway.auth.mode"}},
		{"tls without files", func(c *Config) { c.Gateway.TLS.Enabled = true }, []string{"gateway.tls"}},
		{"relative engine url", func(c *Config) { c.FormPlayer.URL = "formplayer/" }, []string{"formPlayer.url"}},
		{"negative retries", func(c *Config) { c.FormPlayer.Retries = -1 }, []string{"formPlayer.retries"}},
		{"bad store", func(c *Config) { c.Session.Store = "redis" }, []string{"session.store"}},
		{"bad scope", func(c *Config) { c.Session.Scope = "global" }, []string{"session.scope"}},
		{"dynamodb without table", func(c *Config) { c.Session.Store = "dynamodb" }, []string{"dynamodb.table"}},
		{"incomplete without placeholder", func(c *Config) { c.Replies.Incomplete = "Incomplete." }, []string{"replies.incomplete"}},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, []string{"logging.level"}},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, []string{"logging.format"}},
		{"webhook without url", func(c *Config) { c.Webhooks = []WebhookEntry{{}} }, []string{"webhooks[0].url"}},
		{"webhook unknown event", func(c *Config) {
			c.Webhooks = []WebhookEntry{{URL: "https://h", Events: []string{"form_done"}}}
		}, []string{"webhooks[0].events"}},
		{"trigger missing fields", func(c *Config) { c.Triggers = []TriggerEntry{{}} }, []string{"triggers[0].keyword", "triggers[0].form"}},
		{"trigger two words", func(c *Config) {
			c.Triggers = []TriggerEntry{{Keyword: "sign up", Form: "a.xml"}}
		}, []string{"triggers[0].keyword"}},
		{"duplicate keyword", func(c *Config) {
			c.Triggers = []TriggerEntry{{Keyword: "reg", Form: "a.xml"}, {Keyword: "REG", Form: "b.xml"}}
		}, []string{"triggers[1].keyword"}},
		{"long final response", func(c *Config) {
			c.Triggers = []TriggerEntry{{Keyword: "reg", Form: "a.xml", FinalResponse: strings.Repeat("x", 161)}}
		}, []string{"triggers[0].finalResponse"}},
		{"sms missing fields", func(c *Config) { c.Channels.SMS = &SMSConfig{} }, []string{"channels.sms.apiBase", "channels.sms.from"}},
		{"irc missing fields", func(c *Config) { c.Channels.IRC = &IRCConfig{Port: -1} }, []string{"channels.irc.server", "channels.irc.nick", "channels.irc.port"}},
		{"irc sasl without password", func(c *Config) {
			c.Channels.IRC = &IRCConfig{Server: "irc.libera.chat", Nick: "forms", SASL: true}
		}, []string{"channels.irc.sasl"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			got := issuePaths(Validate(&cfg))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidationIssueString(t *testing.T) {
	cfg := Defaults()
	cfg.Session.Scope = "global"
	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, `session.scope: must be one of [per-sender per-chat], got "global"`, issues[0].String())
}
