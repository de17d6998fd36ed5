package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the node configuration decoded from TOML.
type Config struct {
	ListenRPC   string `toml:"ListenRPC"`
	DataDir     string `toml:"DataDir"`
	GenesisFile string `toml:"GenesisFile"`
	NetworkName string `toml:"NetworkName"`
	Environment string `toml:"Environment"`
	LogLevel    string `toml:"LogLevel"`

	RPCMutationsPerSecond float64 `toml:"RPCMutationsPerSecond"`
	RPCMutationBurst      int     `toml:"RPCMutationBurst"`

	Journal   JournalConfig   `toml:"journal"`
	Relay     RelayConfig     `toml:"relay"`
	Pauses    PausesConfig    `toml:"pauses"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

const defaultConfigTOML = `# creditnetd node configuration.

ListenRPC = ":8080"
DataDir = "./creditnet-data"
# Genesis document applied on first boot when the data directory is empty.
GenesisFile = ""
NetworkName = "creditnet-local"
Environment = "local"
LogLevel = "info"

# Per-source throttle applied to mutating RPC methods. A negative rate
# disables the throttle entirely.
RPCMutationsPerSecond = 5.0
RPCMutationBurst = 10

[journal]
# Append-only event journal. Defaults to <DataDir>/journal.db when empty.
Path = ""

[relay]
# Optional YAML file describing webhook delivery targets. Empty disables
# the relay.
ConfigFile = ""

[pauses]
# Rejects every mutating ledger operation while set. Reads stay available.
Credit = false

[telemetry]
# OTLP HTTP exporters for traces and metrics.
Enabled = false
Endpoint = "localhost:4318"
Insecure = true
# Comma-separated key=value pairs forwarded with every export request.
Headers = ""
`

// Load reads the configuration at path, creating a commented default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		slog.Warn("config: ignoring unknown key", "path", path, "key", undecoded.String())
	}

	cfg.applyDefaults()
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault writes the commented default configuration and returns its
// parsed form.
func createDefault(path string) (*Config, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfigTOML), 0o644); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if _, err := toml.Decode(defaultConfigTOML, cfg); err != nil {
		return nil, fmt.Errorf("decode default config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenRPC) == "" {
		c.ListenRPC = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./creditnet-data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "creditnet-local"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if c.RPCMutationsPerSecond == 0 {
		c.RPCMutationsPerSecond = 5
	}
	if c.RPCMutationBurst == 0 {
		c.RPCMutationBurst = 10
	}
	if strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		c.Telemetry.Endpoint = "localhost:4318"
	}
}

// JournalPath resolves the journal location, falling back to the data
// directory.
func (c *Config) JournalPath() string {
	if p := strings.TrimSpace(c.Journal.Path); p != "" {
		return p
	}
	return filepath.Join(c.DataDir, "journal.db")
}
