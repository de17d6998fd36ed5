package relay

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Target describes one webhook destination draining the event journal.
type Target struct {
	Name          string   `yaml:"name"`
	URL           string   `yaml:"url"`
	Events        []string `yaml:"events"`
	Authorization string   `yaml:"authorization"`
	Timeout       Duration `yaml:"timeout"`
	MaxAttempts   int      `yaml:"max_attempts"`
	MinBackoff    Duration `yaml:"min_backoff"`
	MaxBackoff    Duration `yaml:"max_backoff"`
}

// Matches reports whether the target subscribes to the supplied event type.
// An empty filter list subscribes to every event.
func (t Target) Matches(eventType string) bool {
	if len(t.Events) == 0 {
		return true
	}
	for _, filter := range t.Events {
		if filter == eventType {
			return true
		}
	}
	return false
}

// Config captures the relay runtime configuration.
type Config struct {
	Targets []Target `yaml:"targets"`
}

// LoadConfig reads relay configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open relay config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode relay config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	for i := range cfg.Targets {
		target := &cfg.Targets[i]
		target.Name = strings.TrimSpace(target.Name)
		target.URL = strings.TrimSpace(target.URL)
		target.Authorization = strings.TrimSpace(target.Authorization)
		filtered := target.Events[:0]
		for _, event := range target.Events {
			if event = strings.TrimSpace(event); event != "" {
				filtered = append(filtered, event)
			}
		}
		target.Events = filtered
		if target.Timeout.Duration <= 0 {
			target.Timeout.Duration = defaultTimeout
		}
		if target.MaxAttempts <= 0 {
			target.MaxAttempts = defaultMaxAttempts
		}
		if target.MinBackoff.Duration <= 0 {
			target.MinBackoff.Duration = defaultMinBackoff
		}
		if target.MaxBackoff.Duration <= 0 {
			target.MaxBackoff.Duration = defaultMaxBackoff
		}
		if target.MaxBackoff.Duration < target.MinBackoff.Duration {
			target.MaxBackoff.Duration = target.MinBackoff.Duration
		}
	}
}

func validateConfig(cfg Config) error {
	seen := make(map[string]struct{}, len(cfg.Targets))
	for _, target := range cfg.Targets {
		if target.Name == "" {
			return fmt.Errorf("relay target requires a name")
		}
		if _, dup := seen[target.Name]; dup {
			return fmt.Errorf("duplicate relay target %q", target.Name)
		}
		seen[target.Name] = struct{}{}
		if target.URL == "" {
			return fmt.Errorf("relay target %q requires a url", target.Name)
		}
		parsed, err := url.Parse(target.URL)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("relay target %q url must be http or https", target.Name)
		}
	}
	return nil
}
