package config

import (
	"fmt"

	"github.com/soyeahso/smsforms/internal/domain"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		FormPlayer: FormPlayerConfig{
			TimeoutSeconds: 10,
			Retries:        2,
			Language:       "en",
			InfoAck:        "OK",
			MaxSteps:       50,
		},
		Session: SessionConfig{
			Store:        "sqlite",
			Scope:        "per-sender",
			IdleMinutes:  60,
			SweepSeconds: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Secrets returns pointers to every credential field, for in-place
// resolution of ssm: references.
func (c *Config) Secrets() []*string {
	out := []*string{&c.Gateway.Auth.Token, &c.Gateway.Auth.Password}
	if c.Channels.SMS != nil {
		out = append(out, &c.Channels.SMS.AuthToken, &c.Channels.SMS.WebhookSecret)
	}
	if c.Channels.IRC != nil {
		out = append(out, &c.Channels.IRC.Password)
	}
	for i := range c.Webhooks {
		out = append(out, &c.Webhooks[i].Secret)
	}
	return out
}

// Trigger converts a seeded entry into a domain trigger.
func (t TriggerEntry) Trigger() *domain.Trigger {
	return &domain.Trigger{
		Keyword:       t.Keyword,
		FormPath:      t.Form,
		Language:      t.Language,
		FinalResponse: t.FinalResponse,
		Context:       t.Context,
	}
}
