package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/smsforms/internal/channel"
	"github.com/soyeahso/smsforms/internal/conversation"
	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/formplayer"
	"github.com/soyeahso/smsforms/internal/routing"
	"github.com/soyeahso/smsforms/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send texts or try triggers",
	}

	cmd.AddCommand(newMessageSendCmd())
	cmd.AddCommand(newMessageSimulateCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var channelID, to, text string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a text through a channel of the running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			c, err := dialGateway(ctx, cfg.Gateway)
			if err != nil {
				return err
			}
			defer c.Close()

			err = c.call(ctx, "message.send", map[string]string{"channel": channelID, "to": to, "text": text}, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s via %s\n", to, channelID)
			return nil
		},
	}

	cmd.Flags().StringVar(&channelID, "channel", "sms", "channel to send through")
	cmd.Flags().StringVar(&to, "to", "", "recipient address")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

// mockStep is one prompt of a form in a --mock file.
type mockStep struct {
	Name     string   `yaml:"name"`
	Datatype string   `yaml:"datatype"`
	Prompt   string   `yaml:"prompt"`
	Choices  []string `yaml:"choices"`
}

// loadMockForms reads a YAML map of form path to prompts.
func loadMockForms(path string) (map[string][]formplayer.Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string][]mockStep
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	forms := make(map[string][]formplayer.Step, len(raw))
	for form, steps := range raw {
		for _, s := range steps {
			if s.Datatype == "" {
				s.Datatype = "str"
			}
			forms[form] = append(forms[form], formplayer.Step{
				Name:     s.Name,
				Datatype: s.Datatype,
				Prompt:   s.Prompt,
				Choices:  s.Choices,
			})
		}
	}
	return forms, nil
}

func newMessageSimulateCmd() *cobra.Command {
	var (
		from     string
		texts    []string
		mockFile string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run texts through the dispatcher and print the replies",
		Long: `Run texts through the dispatcher as if they came from --from and print
the replies instead of sending them. Repeat --text to walk through a form.

With --mock, forms are played from a YAML file mapping form paths to
prompts, sessions are kept in memory, and no engine is contacted:

  reg.xml:
    - prompt: How many adults?
      datatype: int
    - prompt: Village name?`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.store
			var engine formplayer.Client
			if mockFile != "" {
				forms, err := loadMockForms(mockFile)
				if err != nil {
					return err
				}
				engine = formplayer.NewMock(forms)
				mem := store.NewMemoryStore()
				triggers, err := a.store.ListTriggers(ctx)
				if err != nil {
					return err
				}
				for _, t := range triggers {
					if err := mem.SaveTrigger(ctx, t); err != nil {
						return err
					}
				}
				st = mem
			} else if engine, err = newEngine(a.cfg.FormPlayer); err != nil {
				return err
			}

			hm, plugins, err := startPlugins(ctx, a.cfg, log)
			if err != nil {
				return err
			}
			defer plugins.CloseAll()

			disp := conversation.NewDispatcher(st, st, engine, hm, dispatcherOptions(a.cfg), log)
			router := routing.NewRouter(channel.NewRegistry(log), disp, st, hm, a.cfg.Session.Scope, log)

			out := cmd.OutOrStdout()
			for i, text := range texts {
				res, err := router.Process(ctx, domain.InboundMessage{
					ID:        fmt.Sprintf("cli-%d", i+1),
					ChannelID: "sms",
					From:      from,
					ChatID:    from,
					ChatType:  domain.ChatTypeDM,
					Body:      text,
					Timestamp: time.Now(),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "< %s\n", text)
				if !res.Handled() {
					fmt.Fprintln(out, "  (not a form message)")
					continue
				}
				for _, r := range res.Replies {
					fmt.Fprintf(out, "> %s\n", r)
				}
				if res.Session != nil {
					fmt.Fprintf(out, "  [%s, session %s, %s]\n", res.Kind, res.Session.ID, sessionState(res.Session))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "+15550000000", "sender address")
	cmd.Flags().StringArrayVar(&texts, "text", nil, "message text (repeatable)")
	cmd.Flags().StringVar(&mockFile, "mock", "", "play forms from this YAML file instead of the engine")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
