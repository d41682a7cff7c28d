package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()
	opts, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Defaults()
	if !reflect.DeepEqual(opts, want) {
		t.Fatalf("Load(missing) = %+v, want defaults %+v", opts, want)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()
	opts, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(opts, Defaults()) {
		t.Fatalf("Load(\"\") = %+v, want defaults", opts)
	}
}

func TestLoadOverlaysFileOntoDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runner.yaml")
	contents := `
endpoint: https://pegboard.example.com
namespace: prod
runner_name: worker-1
runner_key: secret-key
total_slots: 8
no_auto_shutdown: true
prepopulate_actor_names:
  warm-1:
    metadata: '{"kind":"warm"}'
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if opts.Endpoint != "https://pegboard.example.com" {
		t.Fatalf("Endpoint = %q", opts.Endpoint)
	}
	if opts.Namespace != "prod" || opts.RunnerName != "worker-1" || opts.RunnerKey != "secret-key" {
		t.Fatalf("identity fields not loaded: %+v", opts)
	}
	if opts.TotalSlots != 8 {
		t.Fatalf("TotalSlots = %d, want 8", opts.TotalSlots)
	}
	if !opts.NoAutoShutdown {
		t.Fatal("NoAutoShutdown = false, want true")
	}
	// Defaults not overridden by the file must survive the overlay.
	if opts.CallbackTimeout != Defaults().CallbackTimeout {
		t.Fatalf("CallbackTimeout clobbered: %v", opts.CallbackTimeout)
	}
	pa, ok := opts.PrepopulateActorNames["warm-1"]
	if !ok || pa.Metadata != `{"kind":"warm"}` {
		t.Fatalf("PrepopulateActorNames[warm-1] = %+v, ok=%v", pa, ok)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("not: [valid"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestValidateRequiresEndpointAndRunnerName(t *testing.T) {
	t.Parallel()
	opts := Defaults()
	if err := opts.Validate(); err == nil {
		t.Fatal("expected error for missing endpoint/runner_name")
	}
	opts.Endpoint = "https://pegboard.example.com"
	if err := opts.Validate(); err == nil {
		t.Fatal("expected error for missing runner_name")
	}
	opts.RunnerName = "worker-1"
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestControlAndRelayEndpointOverrides(t *testing.T) {
	t.Parallel()
	opts := Defaults()
	opts.Endpoint = "https://pegboard.example.com"
	if got := opts.ControlEndpoint(); got != opts.Endpoint {
		t.Fatalf("ControlEndpoint fallback = %q", got)
	}
	if got := opts.RelayEndpoint(); got != opts.Endpoint {
		t.Fatalf("RelayEndpoint fallback = %q", got)
	}

	opts.PegboardEndpoint = "https://control.example.com"
	opts.PegboardRelayEndpoint = "https://relay.example.com"
	if got := opts.ControlEndpoint(); got != opts.PegboardEndpoint {
		t.Fatalf("ControlEndpoint override = %q", got)
	}
	if got := opts.RelayEndpoint(); got != opts.PegboardRelayEndpoint {
		t.Fatalf("RelayEndpoint override = %q", got)
	}
}
