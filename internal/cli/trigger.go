package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/spf13/cobra"
)

func newTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "trigger",
		Aliases: []string{"triggers"},
		Short:   "Manage keyword triggers",
	}

	cmd.AddCommand(newTriggerListCmd())
	cmd.AddCommand(newTriggerAddCmd())
	cmd.AddCommand(newTriggerRemoveCmd())
	return cmd
}

func newTriggerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			triggers, err := a.store.ListTriggers(cmd.Context())
			if err != nil {
				return err
			}
			if len(triggers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No triggers.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEYWORD\tFORM\tLANGUAGE\tFINAL RESPONSE")
			for _, t := range triggers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Keyword, t.FormPath, t.Language, t.FinalResponse)
			}
			return tw.Flush()
		},
	}
}

func newTriggerAddCmd() *cobra.Command {
	var (
		language string
		final    string
		ctxJSON  string
	)

	cmd := &cobra.Command{
		Use:   "add <keyword> <form>",
		Short: "Add or replace a trigger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := &domain.Trigger{
				Keyword:       args[0],
				FormPath:      args[1],
				Language:      language,
				FinalResponse: final,
			}
			if ctxJSON != "" {
				if err := json.Unmarshal([]byte(ctxJSON), &t.Context); err != nil {
					return fmt.Errorf("--context must be a JSON object: %w", err)
				}
			}
			if err := t.Validate(); err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.SaveTrigger(cmd.Context(), t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trigger %s -> %s saved\n", t.Keyword, t.FormPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&language, "language", "", "form language (default formPlayer.language)")
	cmd.Flags().StringVar(&final, "final-response", "", "text sent when the form is completed")
	cmd.Flags().StringVar(&ctxJSON, "context", "", "JSON object passed to the engine when the form starts")
	return cmd
}

func newTriggerRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <keyword>",
		Aliases: []string{"rm"},
		Short:   "Remove a trigger",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteTrigger(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("removing %q: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trigger %s removed\n", domain.NormalizeKeyword(args[0]))
			return nil
		},
	}
}
