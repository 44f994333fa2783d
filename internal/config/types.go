package config

// Config is the root configuration for smsforms.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway,omitempty"`
	FormPlayer FormPlayerConfig `yaml:"formPlayer,omitempty"`
	Session    SessionConfig    `yaml:"session,omitempty"`
	Replies    RepliesConfig    `yaml:"replies,omitempty"`
	DynamoDB   DynamoDBConfig   `yaml:"dynamodb,omitempty"`
	AWS        AWSConfig        `yaml:"aws,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
	Hooks      HooksConfig      `yaml:"hooks,omitempty"`
	Webhooks   []WebhookEntry   `yaml:"webhooks,omitempty"`
	Triggers   []TriggerEntry   `yaml:"triggers,omitempty"`
	Channels   ChannelsConfig   `yaml:"channels,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
}

// GatewayAuth configures operator authentication on the WebSocket endpoint.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// FormPlayerConfig points at the remote form engine.
type FormPlayerConfig struct {
	URL            string `yaml:"url,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
	Retries        int    `yaml:"retries,omitempty"`
	Language       string `yaml:"language,omitempty"`
	InfoAck        string `yaml:"infoAck,omitempty"`
	MaxSteps       int    `yaml:"maxSteps,omitempty"`
}

// SessionConfig defines session storage and behavior.
type SessionConfig struct {
	Store             string `yaml:"store,omitempty"` // "sqlite" | "memory" | "dynamodb"
	Database          string `yaml:"database,omitempty"`
	Scope             string `yaml:"scope,omitempty"` // "per-sender" | "per-chat"
	IdleMinutes       int    `yaml:"idleMinutes,omitempty"`
	SweepSeconds      int    `yaml:"sweepSeconds,omitempty"`
	RepromptOnInvalid bool   `yaml:"repromptOnInvalid,omitempty"`
}

// RepliesConfig overrides the fixed reply texts. Empty fields keep the
// built-in wording.
type RepliesConfig struct {
	ServerError string `yaml:"serverError,omitempty"`
	Completed   string `yaml:"completed,omitempty"`
	Incomplete  string `yaml:"incomplete,omitempty"` // %s is the first unanswered question
}

// DynamoDBConfig selects the table used by the dynamodb session store.
type DynamoDBConfig struct {
	Table string `yaml:"table,omitempty"`
}

// AWSConfig configures the AWS SDK for the dynamodb store and ssm: refs.
type AWSConfig struct {
	Region  string `yaml:"region,omitempty"`
	Profile string `yaml:"profile,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Format string `yaml:"format,omitempty"` // "console" | "json"
	File   string `yaml:"file,omitempty"`
}

// HooksConfig binds shell commands to session events.
type HooksConfig struct {
	FormCompleted  []HookEntry `yaml:"formCompleted,omitempty"`
	FormError      []HookEntry `yaml:"formError,omitempty"`
	SessionStarted []HookEntry `yaml:"sessionStarted,omitempty"`
	SessionEnded   []HookEntry `yaml:"sessionEnded,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}

// WebhookEntry forwards events to an HTTP endpoint.
type WebhookEntry struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events,omitempty"` // empty means form_completed and form_error
	Secret string   `yaml:"secret,omitempty"`
}

// TriggerEntry seeds a keyword trigger at startup.
type TriggerEntry struct {
	Keyword       string         `yaml:"keyword"`
	Form          string         `yaml:"form"`
	Language      string         `yaml:"language,omitempty"`
	FinalResponse string         `yaml:"finalResponse,omitempty"`
	Context       map[string]any `yaml:"context,omitempty"`
}

// ChannelsConfig defines channel-specific configurations.
type ChannelsConfig struct {
	SMS *SMSConfig `yaml:"sms,omitempty"`
	IRC *IRCConfig `yaml:"irc,omitempty"`
}

// SMSConfig configures the HTTP SMS provider.
type SMSConfig struct {
	APIBase       string `yaml:"apiBase"`
	AccountSID    string `yaml:"accountSid"`
	AuthToken     string `yaml:"authToken,omitempty"`
	From          string `yaml:"from"`
	WebhookSecret string `yaml:"webhookSecret,omitempty"`
}

// IRCConfig defines IRC channel settings.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels,omitempty"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
}
