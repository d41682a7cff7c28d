package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rivet-gg/pegboard-runner/internal/audit"
	"github.com/rivet-gg/pegboard-runner/internal/config"
)

// newKvLogCmd shows recorded KV request outcomes from the local audit
// spool.
func newKvLogCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "kv-log",
		Short: "Show the most recently recorded KV request outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if opts.Audit.Driver != "sqlite" {
				return fmt.Errorf("kv-log: audit spool is disabled (audit.driver = %q)", opts.Audit.Driver)
			}
			log, err := audit.Open(opts.Audit.Path)
			if err != nil {
				return err
			}
			defer func() { _ = log.Close() }()

			rows, err := log.RecentKvOutcomes(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rows {
				status := "ok"
				if !r.Ok {
					status = "error: " + r.Error
				}
				_, _ = fmt.Fprintf(out, "%s  req=%d  actor=%s  op=%s  %s  (%s)\n",
					r.OccurredAt.Format("2006-01-02T15:04:05Z07:00"), r.RequestID, r.ActorID, r.Op, status, r.Duration)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of outcomes to show")
	return cmd
}
