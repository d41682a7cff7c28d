// Package cli wires the pegboard-runner command tree: run, doctor,
// events, and kv-log.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the pegboard-runner command tree.
func NewRootCmd(version string) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "pegboard-runner",
		Short:        "Pegboard Runner Core — connects a local actor host to Pegboard",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("PEGBOARD_RUNNER_CONFIG"), "Path to YAML config file")

	cmd.AddCommand(newRunCmd(&configPath))
	cmd.AddCommand(newDoctorCmd(&configPath))
	cmd.AddCommand(newEventsCmd(&configPath))
	cmd.AddCommand(newKvLogCmd(&configPath))

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
