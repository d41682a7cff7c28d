package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rivet-gg/pegboard-runner/internal/config"
)

// newDoctorCmd loads and validates the config file, then prints the
// settings the runner would start with.
func newDoctorCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate the config file and print resolved settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return fmt.Errorf("doctor: %w", err)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "control endpoint: %s\n", opts.ControlEndpoint())
			_, _ = fmt.Fprintf(out, "relay endpoint:   %s\n", opts.RelayEndpoint())
			_, _ = fmt.Fprintf(out, "namespace:        %s\n", opts.Namespace)
			_, _ = fmt.Fprintf(out, "runner name:      %s\n", opts.RunnerName)
			_, _ = fmt.Fprintf(out, "total slots:      %d\n", opts.TotalSlots)
			_, _ = fmt.Fprintf(out, "metrics enabled:  %t\n", opts.Metrics.Enabled)
			_, _ = fmt.Fprintf(out, "audit driver:     %s\n", opts.Audit.Driver)
			_, _ = fmt.Fprintln(out, "ok")
			return nil
		},
	}
	return cmd
}
