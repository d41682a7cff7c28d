package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PrepopulateActor mirrors protocol.PrepopulateActor but as the
// YAML-facing shape (opaque metadata as a raw YAML value serialized
// back to a JSON string at load time would be over-engineering for a
// single opaque field, so it's kept as a plain string here too).
type PrepopulateActor struct {
	Metadata string `yaml:"metadata"`
}

// Options is the file/flag-driven subset of the runner's recognized
// configuration. Callback functions and injected collaborators
// (Tunnel, logger) are code-level and live on pkg/runner.Config, not
// here — this struct only covers what can be expressed in YAML or on
// the command line.
type Options struct {
	Endpoint              string `yaml:"endpoint"`
	PegboardEndpoint      string `yaml:"pegboard_endpoint,omitempty"`
	PegboardRelayEndpoint string `yaml:"pegboard_relay_endpoint,omitempty"`

	Version    int64  `yaml:"version"`
	Namespace  string `yaml:"namespace"`
	RunnerName string `yaml:"runner_name"`
	RunnerKey  string `yaml:"runner_key"`

	TotalSlots            int64                       `yaml:"total_slots"`
	PrepopulateActorNames map[string]PrepopulateActor `yaml:"prepopulate_actor_names,omitempty"`
	Metadata              string                      `yaml:"metadata,omitempty"`

	NoAutoShutdown bool `yaml:"no_auto_shutdown"`

	// Ambient knobs beyond the wire-level recognized configuration set.
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period,omitempty"`
	CallbackTimeout     time.Duration `yaml:"callback_timeout,omitempty"`

	Metrics MetricsOptions `yaml:"metrics,omitempty"`
	Audit   AuditOptions   `yaml:"audit,omitempty"`
}

// MetricsOptions configures the optional local Prometheus endpoint.
type MetricsOptions struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr,omitempty"`
}

// AuditOptions configures the optional local audit spool. Driver
// "none" (the default) disables it entirely.
type AuditOptions struct {
	Driver string `yaml:"driver,omitempty"` // "none" | "sqlite"
	Path   string `yaml:"path,omitempty"`
}

// Defaults returns an Options populated with the runner's defaults.
func Defaults() Options {
	return Options{
		Version:             1,
		TotalSlots:          1,
		ShutdownGracePeriod: 10 * time.Second,
		CallbackTimeout:     30 * time.Second,
		Metrics:             MetricsOptions{Enabled: false, Addr: "127.0.0.1:9520"},
		Audit:               AuditOptions{Driver: "none"},
	}
}

// Load reads a YAML config file layered on top of Defaults. A missing
// path is not an error: it returns the defaults unchanged. Callers
// layer CLI flags on top of the result for CLI > file > defaults
// precedence.
func Load(path string) (Options, error) {
	opts := Defaults()
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return opts, nil
}

// Validate checks the options a runner cannot safely start without.
func (o Options) Validate() error {
	if o.Endpoint == "" {
		return fmt.Errorf("config: endpoint is required")
	}
	if o.RunnerName == "" {
		return fmt.Errorf("config: runner_name is required")
	}
	return nil
}

// ControlEndpoint returns the endpoint to use for the control
// WebSocket, honoring the pegboard_endpoint override.
func (o Options) ControlEndpoint() string {
	if o.PegboardEndpoint != "" {
		return o.PegboardEndpoint
	}
	return o.Endpoint
}

// RelayEndpoint returns the endpoint to use for the tunnel, honoring
// the pegboard_relay_endpoint override.
func (o Options) RelayEndpoint() string {
	if o.PegboardRelayEndpoint != "" {
		return o.PegboardRelayEndpoint
	}
	return o.Endpoint
}
