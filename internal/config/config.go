package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QUOTECALL_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (QUOTECALL_*). A double underscore
// descends into a section: QUOTECALL_BRIDGE__SECRET sets bridge.secret.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validProviders = map[ProviderType]bool{
	ProviderAnthropic:  true,
	ProviderOpenAI:     true,
	ProviderOpenRouter: true,
}

var validBackends = map[StateBackend]bool{
	BackendSQLite: true,
	BackendMemory: true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q: must be one of anthropic, openai, openrouter", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	ss := c.StateStore
	if !validBackends[ss.Backend] {
		return fmt.Errorf("invalid state_store.backend %q: must be sqlite or memory", ss.Backend)
	}
	if ss.TTL <= 0 || ss.LockWait <= 0 || ss.LockLease <= 0 {
		return fmt.Errorf("state_store ttl, lock_wait and lock_lease must be positive")
	}

	if c.Bridge.TurnTimeout <= 0 {
		return fmt.Errorf("bridge.turn_timeout must be positive")
	}
	// A lease shorter than a turn would let a second handler steal the lock mid-turn.
	if ss.LockLease <= c.Bridge.TurnTimeout {
		return fmt.Errorf("state_store.lock_lease (%s) must exceed bridge.turn_timeout (%s)", ss.LockLease, c.Bridge.TurnTimeout)
	}
	if c.Bridge.AcceptPlaceholderToken && c.Bridge.PlaceholderToken == "" {
		return fmt.Errorf("bridge.placeholder_token is required when accept_placeholder_token is set")
	}

	n := c.Negotiation
	if n.MaxNegotiationAttempts < 0 {
		return fmt.Errorf("negotiation.max_negotiation_attempts must be non-negative")
	}
	if n.MaxClarificationAttempts < 1 {
		return fmt.Errorf("negotiation.max_clarification_attempts must be at least 1")
	}
	if n.PriceGapPercent < 0 {
		return fmt.Errorf("negotiation.price_gap_percent must be non-negative")
	}
	if n.MaxProviderFailures < 1 {
		return fmt.Errorf("negotiation.max_provider_failures must be at least 1")
	}

	e := c.Extraction
	if e.Workers < 1 || e.QueueSize < 1 {
		return fmt.Errorf("extraction.workers and extraction.queue_size must be at least 1")
	}
	if e.MaxAttempts < 1 {
		return fmt.Errorf("extraction.max_attempts must be at least 1")
	}
	if e.RequestsPerMinute < 0 {
		return fmt.Errorf("extraction.requests_per_minute must be non-negative")
	}

	if c.Maintenance.Enabled {
		for name, spec := range map[string]string{
			"purge_schedule":     c.Maintenance.PurgeSchedule,
			"requeue_schedule":   c.Maintenance.RequeueSchedule,
			"redeliver_schedule": c.Maintenance.RedeliverSchedule,
		} {
			if _, err := cron.ParseStandard(spec); err != nil {
				return fmt.Errorf("invalid maintenance.%s %q: %w", name, spec, err)
			}
		}
	}

	return nil
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	default:
		return ""
	}
}
