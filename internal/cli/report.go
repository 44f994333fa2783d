package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/soyeahso/smsforms/internal/report"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var (
		flags sessionFilterFlags
		out   string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a CSV report of sessions and their messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := report.Write(cmd.Context(), w, a.store, flags.filter(time.Now()))
			if err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d session(s) to %s\n", n, out)
			}
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}
