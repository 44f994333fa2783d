package smslambda

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Env is the function's configuration, read from environment variables.
type Env struct {
	Table             string        `env:"SMSFORMS_TABLE,required,notEmpty"`
	FormPlayerURL     string        `env:"SMSFORMS_FORMPLAYER_URL,required,notEmpty"`
	FormPlayerTimeout time.Duration `env:"SMSFORMS_FORMPLAYER_TIMEOUT" envDefault:"10s"`
	FormPlayerRetries int           `env:"SMSFORMS_FORMPLAYER_RETRIES" envDefault:"2"`
	// WebhookSecret may be an ssm: reference.
	WebhookSecret string   `env:"SMSFORMS_WEBHOOK_SECRET"`
	MaxSteps      int      `env:"SMSFORMS_MAX_STEPS"      envDefault:"50"`
	Language      string   `env:"SMSFORMS_LANGUAGE"`
	InfoAck       string   `env:"SMSFORMS_INFO_ACK"       envDefault:"OK"`
	Scope         string   `env:"SMSFORMS_SESSION_SCOPE"  envDefault:"per-sender"`
	LogLevel      string   `env:"SMSFORMS_LOG_LEVEL"      envDefault:"info"`
	NotifyURLs    []string `env:"SMSFORMS_NOTIFY_URLS"    envSeparator:","`
}

// LoadEnv parses Env from the process environment.
func LoadEnv() (Env, error) {
	return env.ParseAs[Env]()
}
