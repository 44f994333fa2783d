package config

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/soyeahso/smsforms/internal/paramstore"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so secrets can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	for _, f := range cfg.Secrets() {
		*f = expandEnvVars(*f)
	}
}

// HasSecretRefs reports whether any credential field is an ssm: reference.
func HasSecretRefs(cfg *Config) bool {
	for _, f := range cfg.Secrets() {
		if paramstore.IsRef(*f) {
			return true
		}
	}
	return false
}

// ResolveSecrets replaces ssm: references in credential fields with the
// parameter values.
func ResolveSecrets(ctx context.Context, cfg *Config, g paramstore.Getter) error {
	if err := paramstore.ResolveAll(ctx, g, cfg.Secrets()...); err != nil {
		return &ConfigError{Message: "resolving secrets: " + err.Error()}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = def.Gateway.Bind
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = def.Gateway.Auth.Mode
	}
	if cfg.FormPlayer.TimeoutSeconds == 0 {
		cfg.FormPlayer.TimeoutSeconds = def.FormPlayer.TimeoutSeconds
	}
	if cfg.FormPlayer.Language == "" {
		cfg.FormPlayer.Language = def.FormPlayer.Language
	}
	if cfg.FormPlayer.InfoAck == "" {
		cfg.FormPlayer.InfoAck = def.FormPlayer.InfoAck
	}
	if cfg.FormPlayer.MaxSteps == 0 {
		cfg.FormPlayer.MaxSteps = def.FormPlayer.MaxSteps
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = def.Session.Store
	}
	if cfg.Session.Scope == "" {
		cfg.Session.Scope = def.Session.Scope
	}
	if cfg.Session.IdleMinutes == 0 {
		cfg.Session.IdleMinutes = def.Session.IdleMinutes
	}
	if cfg.Session.SweepSeconds == 0 {
		cfg.Session.SweepSeconds = def.Session.SweepSeconds
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
}

// applyEnvOverrides reads SMSFORMS_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SMSFORMS_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("SMSFORMS_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("SMSFORMS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SMSFORMS_FORMPLAYER_URL"); v != "" {
		cfg.FormPlayer.URL = v
	}
	if v := os.Getenv("SMSFORMS_SESSION_STORE"); v != "" {
		cfg.Session.Store = strings.ToLower(v)
	}
}
