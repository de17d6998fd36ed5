package config

import (
	nativecommon "creditnet/native/common"
)

// JournalConfig locates the append-only event journal.
type JournalConfig struct {
	Path string `toml:"Path"`
}

// RelayConfig points at the webhook relay target file.
type RelayConfig struct {
	ConfigFile string `toml:"ConfigFile"`
}

// PausesConfig holds the operator pause switches applied at boot.
type PausesConfig struct {
	Credit bool `toml:"Credit"`
}

// View converts the switches into the pause view consulted by module guards.
func (p PausesConfig) View() nativecommon.StaticPauses {
	return nativecommon.StaticPauses{"credit": p.Credit}
}

// TelemetryConfig wires the optional OTLP exporters.
type TelemetryConfig struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
}
