package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rivet-gg/pegboard-runner/internal/config"
	"github.com/rivet-gg/pegboard-runner/pkg/runner"
)

// newRunCmd runs the runner in the foreground: flags overlay the
// loaded config file (CLI > file > defaults), then the command blocks
// until a signal or a fatal Start error.
func newRunCmd(configPath *string) *cobra.Command {
	var (
		endpoint    string
		namespace   string
		runnerName  string
		runnerKey   string
		totalSlots  int64
		noShutdown  bool
		metricsAddr string
		enableMetr  bool
		auditPath   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the runner in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if endpoint != "" {
				opts.Endpoint = endpoint
			}
			if namespace != "" {
				opts.Namespace = namespace
			}
			if runnerName != "" {
				opts.RunnerName = runnerName
			}
			if runnerKey != "" {
				opts.RunnerKey = runnerKey
			}
			if totalSlots > 0 {
				opts.TotalSlots = totalSlots
			}
			if cmd.Flags().Changed("no-auto-shutdown") {
				opts.NoAutoShutdown = noShutdown
			}
			if cmd.Flags().Changed("metrics") {
				opts.Metrics.Enabled = enableMetr
			}
			if metricsAddr != "" {
				opts.Metrics.Addr = metricsAddr
			}
			if auditPath != "" {
				opts.Audit.Driver = "sqlite"
				opts.Audit.Path = auditPath
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if !opts.NoAutoShutdown {
				var stop func()
				ctx, stop = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
			}

			r := runner.New(runner.Config{Options: opts})
			if err := r.Start(ctx); err != nil {
				return fmt.Errorf("run: starting runner: %w", err)
			}

			if opts.Metrics.Enabled && r.MetricsHandler() != nil {
				mux := http.NewServeMux()
				mux.Handle("/metrics", r.MetricsHandler())
				mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte("ok"))
				})
				srv := &http.Server{Addr: opts.Metrics.Addr, Handler: mux}
				go func() { _ = srv.ListenAndServe() }()
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pegboard-runner: connecting to %s as %q\n", opts.ControlEndpoint(), opts.RunnerName)

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownGracePeriod+5*time.Second)
			defer cancel()
			return r.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Pegboard endpoint (overrides config file)")
	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace (overrides config file)")
	cmd.Flags().StringVar(&runnerName, "runner-name", "", "Runner name (overrides config file)")
	cmd.Flags().StringVar(&runnerKey, "runner-key", "", "Runner key (overrides config file)")
	cmd.Flags().Int64Var(&totalSlots, "total-slots", 0, "Total actor slots (overrides config file)")
	cmd.Flags().BoolVar(&noShutdown, "no-auto-shutdown", false, "Do not install SIGINT/SIGTERM handlers")
	cmd.Flags().BoolVar(&enableMetr, "metrics", false, "Enable the local Prometheus /metrics endpoint")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address for the metrics endpoint (overrides config file)")
	cmd.Flags().StringVar(&auditPath, "audit-path", "", "Enable the local SQLite audit spool at this path")

	return cmd
}
