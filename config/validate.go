package config

import (
	"fmt"
	"strings"

	"creditnet/observability/logging"
)

func validate(c *Config) error {
	if strings.TrimSpace(c.ListenRPC) == "" {
		return fmt.Errorf("config: ListenRPC must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.RPCMutationsPerSecond > 0 && c.RPCMutationBurst < 1 {
		return fmt.Errorf("config: RPCMutationBurst must be at least 1 when throttling is enabled")
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("config: telemetry enabled without an endpoint")
	}
	return nil
}
