package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `ListenRPC = "0.0.0.0:9090"
DataDir = "/var/lib/creditnet"
GenesisFile = "genesis.json"
NetworkName = "creditnet-test"
Environment = "staging"
LogLevel = "debug"
RPCMutationsPerSecond = 2.5
RPCMutationBurst = 4

[journal]
Path = "/var/lib/creditnet/events.db"

[relay]
ConfigFile = "relay.yaml"

[pauses]
Credit = true

[telemetry]
Enabled = true
Endpoint = "collector:4318"
Insecure = true
Headers = "x-team=lending, x-tier=prod"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.ListenRPC != "0.0.0.0:9090" {
		t.Fatalf("unexpected listen address: %s", cfg.ListenRPC)
	}
	if cfg.DataDir != "/var/lib/creditnet" || cfg.GenesisFile != "genesis.json" {
		t.Fatalf("unexpected paths: %+v", cfg)
	}
	if cfg.NetworkName != "creditnet-test" || cfg.Environment != "staging" {
		t.Fatalf("unexpected network identity: %+v", cfg)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %s", cfg.LogLevel)
	}
	if cfg.RPCMutationsPerSecond != 2.5 || cfg.RPCMutationBurst != 4 {
		t.Fatalf("unexpected rate knobs: %f/%d", cfg.RPCMutationsPerSecond, cfg.RPCMutationBurst)
	}
	if cfg.JournalPath() != "/var/lib/creditnet/events.db" {
		t.Fatalf("unexpected journal path: %s", cfg.JournalPath())
	}
	if cfg.Relay.ConfigFile != "relay.yaml" {
		t.Fatalf("unexpected relay config file: %s", cfg.Relay.ConfigFile)
	}
	if !cfg.Pauses.Credit {
		t.Fatalf("expected credit pause to be set")
	}
	if view := cfg.Pauses.View(); !view.IsPaused("credit") {
		t.Fatalf("pause view should report credit paused")
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "collector:4318" {
		t.Fatalf("unexpected telemetry: %+v", cfg.Telemetry)
	}
	if cfg.Telemetry.Headers != "x-team=lending, x-tier=prod" {
		t.Fatalf("unexpected telemetry headers: %s", cfg.Telemetry.Headers)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `ListenRPC = ":8080"
LegacyBootnodes = ["1.1.1.1:6001"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.DataDir != "./creditnet-data" {
		t.Fatalf("unexpected data dir: %s", cfg.DataDir)
	}
	if cfg.NetworkName != "creditnet-local" || cfg.Environment != "local" {
		t.Fatalf("unexpected identity defaults: %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected log level default: %s", cfg.LogLevel)
	}
	if cfg.RPCMutationsPerSecond != 5 || cfg.RPCMutationBurst != 10 {
		t.Fatalf("unexpected rate defaults: %f/%d", cfg.RPCMutationsPerSecond, cfg.RPCMutationBurst)
	}
	if cfg.JournalPath() != filepath.Join("./creditnet-data", "journal.db") {
		t.Fatalf("unexpected journal path: %s", cfg.JournalPath())
	}
	if cfg.Pauses.Credit {
		t.Fatalf("pauses should default to off")
	}
	if cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "localhost:4318" {
		t.Fatalf("unexpected telemetry defaults: %+v", cfg.Telemetry)
	}
}

func TestLoadKeepsNegativeRateDisabled(t *testing.T) {
	path := writeConfig(t, `ListenRPC = ":8080"
RPCMutationsPerSecond = -1.0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RPCMutationsPerSecond != -1 {
		t.Fatalf("negative rate must pass through, got %f", cfg.RPCMutationsPerSecond)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected default file: %v", err)
	}
	if !strings.HasPrefix(string(raw), "# creditnetd node configuration.") {
		t.Fatalf("default file missing header comment: %q", string(raw[:40]))
	}

	if cfg.ListenRPC != ":8080" || cfg.DataDir != "./creditnet-data" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.NetworkName != "creditnet-local" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if *reloaded != *cfg {
		t.Fatalf("reload mismatch: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"bad log level", "ListenRPC = \":8080\"\nLogLevel = \"verbose\"\n"},
		{"negative burst", "ListenRPC = \":8080\"\nRPCMutationBurst = -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.contents)
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
