package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rivet-gg/pegboard-runner/internal/audit"
	"github.com/rivet-gg/pegboard-runner/internal/config"
)

// newEventsCmd exposes the optional local audit spool for operator
// debugging: it never touches the live control channel, only the
// SQLite file a previous `run` was configured to write to.
func newEventsCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the local audit spool",
	}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recently recorded lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if opts.Audit.Driver != "sqlite" {
				return fmt.Errorf("events tail: audit spool is disabled (audit.driver = %q)", opts.Audit.Driver)
			}
			log, err := audit.Open(opts.Audit.Path)
			if err != nil {
				return err
			}
			defer func() { _ = log.Close() }()

			rows, err := log.RecentEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rows {
				_, _ = fmt.Fprintf(out, "%s  idx=%d  kind=%s  actor=%s  %s\n",
					r.OccurredAt.Format("2006-01-02T15:04:05Z07:00"), r.JournalIdx, r.Kind, r.ActorID, r.Detail)
			}
			return nil
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "Maximum number of events to show")
	cmd.AddCommand(tail)
	return cmd
}
