package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/hooks"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

func oneOf(issues []ValidationIssue, path, value string, valid []string) []ValidationIssue {
	if value != "" && !slices.Contains(valid, value) {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Message: fmt.Sprintf("must be one of %v, got %q", valid, value),
		})
	}
	return issues
}

func portIssue(path string, port int) *ValidationIssue {
	if port < 0 || port > 65535 {
		return &ValidationIssue{Path: path, Message: fmt.Sprintf("port must be 0-65535, got %d", port)}
	}
	return nil
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Gateway
	if p := portIssue("gateway.port", cfg.Gateway.Port); p != nil {
		issues = append(issues, *p)
	}
	issues = oneOf(issues, "gateway.bind", cfg.Gateway.Bind, []string{"loopback", "lan", "custom"})
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{Path: "gateway.customBindHost", Message: "required when bind is custom"})
	}
	issues = oneOf(issues, "gateway.auth.mode", cfg.Gateway.Auth.Mode, []string{"token", "password"})
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{Path: "gateway.tls", Message: "certPath and keyPath are required when TLS is enabled"})
	}

	// Form engine
	if cfg.FormPlayer.URL != "" {
		if u, err := url.Parse(cfg.FormPlayer.URL); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, ValidationIssue{Path: "formPlayer.url", Message: fmt.Sprintf("not an absolute URL: %q", cfg.FormPlayer.URL)})
		}
	}
	if cfg.FormPlayer.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{Path: "formPlayer.timeoutSeconds", Message: "must not be negative"})
	}
	if cfg.FormPlayer.Retries < 0 {
		issues = append(issues, ValidationIssue{Path: "formPlayer.retries", Message: "must not be negative"})
	}
	if cfg.FormPlayer.MaxSteps < 0 {
		issues = append(issues, ValidationIssue{Path: "formPlayer.maxSteps", Message: "must not be negative"})
	}

	// Sessions
	issues = oneOf(issues, "session.store", cfg.Session.Store, []string{"sqlite", "memory", "dynamodb"})
	issues = oneOf(issues, "session.scope", cfg.Session.Scope, []string{"per-sender", "per-chat"})
	if cfg.Session.IdleMinutes < 0 {
		issues = append(issues, ValidationIssue{Path: "session.idleMinutes", Message: "must not be negative"})
	}
	if cfg.Session.Store == "dynamodb" && cfg.DynamoDB.Table == "" {
		issues = append(issues, ValidationIssue{Path: "dynamodb.table", Message: "required when session.store is dynamodb"})
	}
	if cfg.Replies.Incomplete != "" && strings.Count(cfg.Replies.Incomplete, "%s") != 1 {
		issues = append(issues, ValidationIssue{Path: "replies.incomplete", Message: "must contain exactly one %s"})
	}

	// Logging
	issues = oneOf(issues, "logging.level", cfg.Logging.Level, []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	issues = oneOf(issues, "logging.format", cfg.Logging.Format, []string{"console", "json"})

	// Webhooks
	for i, w := range cfg.Webhooks {
		path := fmt.Sprintf("webhooks[%d]", i)
		if w.URL == "" {
			issues = append(issues, ValidationIssue{Path: path + ".url", Message: "url is required"})
		}
		for _, e := range w.Events {
			if !hooks.Known(e) {
				issues = append(issues, ValidationIssue{Path: path + ".events", Message: fmt.Sprintf("unknown event %q", e)})
			}
		}
	}

	// Triggers
	seen := make(map[string]bool)
	for i, t := range cfg.Triggers {
		path := fmt.Sprintf("triggers[%d]", i)
		kw := domain.NormalizeKeyword(t.Keyword)
		switch {
		case kw == "":
			issues = append(issues, ValidationIssue{Path: path + ".keyword", Message: "keyword is required"})
		case strings.ContainsAny(kw, " \t\n"):
			issues = append(issues, ValidationIssue{Path: path + ".keyword", Message: "keyword must be a single word"})
		case seen[kw]:
			issues = append(issues, ValidationIssue{Path: path + ".keyword", Message: fmt.Sprintf("duplicate keyword %q", kw)})
		}
		seen[kw] = true
		if t.Form == "" {
			issues = append(issues, ValidationIssue{Path: path + ".form", Message: "form is required"})
		}
		if n := utf8.RuneCountInString(t.FinalResponse); n > domain.MaxFinalResponseLen {
			issues = append(issues, ValidationIssue{
				Path:    path + ".finalResponse",
				Message: fmt.Sprintf("at most %d characters, got %d", domain.MaxFinalResponseLen, n),
			})
		}
	}

	// SMS (only if configured)
	if sms := cfg.Channels.SMS; sms != nil {
		if sms.APIBase == "" {
			issues = append(issues, ValidationIssue{Path: "channels.sms.apiBase", Message: "apiBase is required"})
		}
		if sms.From == "" {
			issues = append(issues, ValidationIssue{Path: "channels.sms.from", Message: "from is required"})
		}
	}

	// IRC (only if configured)
	if irc := cfg.Channels.IRC; irc != nil {
		if irc.Server == "" {
			issues = append(issues, ValidationIssue{Path: "channels.irc.server", Message: "server is required"})
		}
		if irc.Nick == "" {
			issues = append(issues, ValidationIssue{Path: "channels.irc.nick", Message: "nick is required"})
		}
		if p := portIssue("channels.irc.port", irc.Port); p != nil {
			issues = append(issues, *p)
		}
		if irc.SASL && irc.Password == "" {
			issues = append(issues, ValidationIssue{Path: "channels.irc.sasl", Message: "SASL requires a password to be set"})
		}
	}

	return issues
}
