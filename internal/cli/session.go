package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/smsforms/internal/conversation"
	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/report"
	"github.com/soyeahso/smsforms/internal/store"
	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions"},
		Short:   "Inspect and cancel form sessions",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionCancelCmd())
	return cmd
}

// sessionFilterFlags binds the flags shared by session list and report.
type sessionFilterFlags struct {
	conversation string
	open         bool
	since        time.Duration
	limit        int
}

func (f *sessionFilterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.conversation, "conversation", "", "only sessions of this conversation (e.g. sms:+15551234)")
	cmd.Flags().BoolVar(&f.open, "open", false, "only open sessions")
	cmd.Flags().DurationVar(&f.since, "since", 0, "only sessions started within this long ago (e.g. 24h)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of sessions")
}

func (f *sessionFilterFlags) filter(now time.Time) store.SessionFilter {
	sf := store.SessionFilter{Conversation: f.conversation, OpenOnly: f.open, Limit: f.limit}
	if f.since > 0 {
		sf.Since = now.Add(-f.since)
	}
	return sf
}

func sessionState(s *domain.Session) string {
	switch {
	case !s.Ended:
		return "open"
	case s.Cancelled:
		return "cancelled"
	case s.HasError:
		return "error"
	default:
		return "ended"
	}
}

func newSessionListCmd() *cobra.Command {
	var flags sessionFilterFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sessions, err := a.store.List(cmd.Context(), flags.filter(time.Now()))
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCONVERSATION\tKEYWORD\tSTARTED\tSTATE")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					s.ID, s.Conversation, s.Keyword, s.StartTime.Local().Format(time.DateTime), sessionState(s))
			}
			return tw.Flush()
		},
	}

	flags.bind(cmd)
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.store.Get(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session:      %s\n", s.ID)
			fmt.Fprintf(out, "Conversation: %s (reply to %s)\n", s.Conversation, s.ReplyTo)
			fmt.Fprintf(out, "Form:         %s (keyword %s)\n", s.FormPath, s.Keyword)
			if s.FormSessionID != "" {
				fmt.Fprintf(out, "Engine ID:    %s\n", s.FormSessionID)
			}
			fmt.Fprintf(out, "Started:      %s\n", s.StartTime.Local().Format(time.DateTime))
			if s.EndTime != nil {
				fmt.Fprintf(out, "Ended:        %s (%s)\n", s.EndTime.Local().Format(time.DateTime), s.Duration().Round(time.Second))
			}
			fmt.Fprintf(out, "State:        %s\n", sessionState(s))
			if s.ErrorMsg != "" {
				fmt.Fprintf(out, "Error:        %s\n", s.ErrorMsg)
			}

			var to time.Time
			if s.EndTime != nil {
				to = *s.EndTime
			}
			msgs, err := a.store.Messages(ctx, s.Conversation.String(), s.StartTime.Add(-5*time.Second), to)
			if err != nil {
				return err
			}
			if len(msgs) > 0 {
				fmt.Fprintln(out)
			}
			for _, m := range msgs {
				arrow := "<"
				if m.Direction == domain.DirectionOutgoing {
					arrow = ">"
				}
				fmt.Fprintf(out, "  %s %s %s\n", m.Date.Local().Format(time.TimeOnly), arrow, m.Text)
			}
			return nil
		},
	}
}

func newSessionCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an open session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			hm, plugins, err := startPlugins(ctx, a.cfg, log)
			if err != nil {
				return err
			}
			defer plugins.CloseAll()

			// Cancelling never talks to the engine.
			disp := conversation.NewDispatcher(a.store, a.store, nil, hm, dispatcherOptions(a.cfg), log)
			s, err := disp.Cancel(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s cancelled (finished form: %t)\n", s.ID, report.Finished(s))
			return nil
		},
	}
}
