package config

import "time"

// DefaultConfigPath is where `quotecall init` writes its output.
const DefaultConfigPath = ".quotecall.yml"

// providerModels maps each provider to its default turn and extraction models.
// Turns need low latency, extraction benefits from a stronger model.
var providerModels = map[ProviderType]struct {
	Turn       string
	Extraction string
}{
	ProviderOpenAI:     {Turn: "gpt-4o-mini", Extraction: "gpt-4o"},
	ProviderAnthropic:  {Turn: "claude-haiku-4-5-20251001", Extraction: "claude-sonnet-4-5-20250929"},
	ProviderOpenRouter: {Turn: "openai/gpt-4o-mini", Extraction: "openai/gpt-4o"},
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider:        ProviderOpenAI,
		Model:           "gpt-4o-mini",
		ExtractionModel: "gpt-4o",
		Server: ServerConfig{
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "data/quotecall.db",
		},
		StateStore: StateStoreConfig{
			Backend:      BackendSQLite,
			TTL:          2 * time.Hour,
			LockWait:     5 * time.Second,
			LockLease:    30 * time.Second,
			PollInterval: 25 * time.Millisecond,
		},
		Bridge: BridgeConfig{
			PlaceholderToken: "no-api-key",
			TurnTimeout:      8 * time.Second,
		},
		Webhooks: WebhookConfig{
			SecretHeader: "X-Vapi-Secret",
		},
		Negotiation: NegotiationConfig{
			AgentName:                "Alex",
			CompanyName:              "our purchasing team",
			MaxNegotiationAttempts:   2,
			MaxClarificationAttempts: 3,
			PriceGapPercent:          10,
			MaxProviderFailures:      2,
		},
		Extraction: ExtractionConfig{
			Workers:           4,
			QueueSize:         64,
			MaxAttempts:       3,
			RequestsPerMinute: 60,
			Timeout:           2 * time.Minute,
			DefaultCurrency:   "USD",
		},
		Notifications: NotificationsConfig{
			WebhookTimeout: 10 * time.Second,
			MaxAttempts:    3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Maintenance: MaintenanceConfig{
			Enabled:           true,
			PurgeSchedule:     "@every 5m",
			RequeueSchedule:   "@every 10m",
			RedeliverSchedule: "@every 15m",
		},
	}
}

// DefaultModels returns the turn and extraction models for a provider.
// Unknown providers fall back to the OpenAI defaults.
func DefaultModels(provider ProviderType) (turn, extraction string) {
	if m, ok := providerModels[provider]; ok {
		return m.Turn, m.Extraction
	}
	m := providerModels[ProviderOpenAI]
	return m.Turn, m.Extraction
}
