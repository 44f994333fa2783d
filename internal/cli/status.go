package cli

import (
	"fmt"
	"strings"

	"github.com/soyeahso/smsforms/internal/config"
	"github.com/soyeahso/smsforms/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show smsforms paths and a configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "smsforms %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:     %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:   error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway:  port=%d bind=%s auth=%s tls=%t\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)

			engine := cfg.FormPlayer.URL
			if engine == "" {
				engine = "(not configured)"
			}
			fmt.Fprintf(out, "Engine:   %s timeout=%ds retries=%d maxSteps=%d\n",
				engine, cfg.FormPlayer.TimeoutSeconds, cfg.FormPlayer.Retries, cfg.FormPlayer.MaxSteps)

			fmt.Fprintf(out, "Session:  store=%s scope=%s idle=%dm reprompt=%t\n",
				cfg.Session.Store, cfg.Session.Scope, cfg.Session.IdleMinutes, cfg.Session.RepromptOnInvalid)
			if cfg.Session.Store == "dynamodb" {
				fmt.Fprintf(out, "DynamoDB: table=%s region=%s\n", cfg.DynamoDB.Table, cfg.AWS.Region)
			}

			if s := cfg.Channels.SMS; s != nil {
				fmt.Fprintf(out, "SMS:      api=%s from=%s secret=%t\n", s.APIBase, s.From, s.WebhookSecret != "")
			} else {
				fmt.Fprintln(out, "SMS:      (not configured)")
			}
			if irc := cfg.Channels.IRC; irc != nil {
				fmt.Fprintf(out, "IRC:      server=%s nick=%s channels=%s tls=%v\n",
					irc.Server, irc.Nick, strings.Join(irc.Channels, ","), irc.UseTLS)
			} else {
				fmt.Fprintln(out, "IRC:      (not configured)")
			}

			keywords := make([]string, 0, len(cfg.Triggers))
			for _, t := range cfg.Triggers {
				keywords = append(keywords, t.Keyword)
			}
			if len(keywords) > 0 {
				fmt.Fprintf(out, "Triggers: %s (seeded from config)\n", strings.Join(keywords, ", "))
			}
			if n := len(cfg.Webhooks); n > 0 {
				fmt.Fprintf(out, "Webhooks: %d\n", n)
			}
			if config.HasSecretRefs(&cfg) {
				fmt.Fprintln(out, "Secrets:  ssm: references resolved at startup")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
