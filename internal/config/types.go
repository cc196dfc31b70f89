package config

import "time"

// ProviderType identifies an LLM provider.
type ProviderType string

const (
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderOpenAI     ProviderType = "openai"
	ProviderOpenRouter ProviderType = "openrouter"
)

// StateBackend selects where in-flight call state lives.
type StateBackend string

const (
	BackendSQLite StateBackend = "sqlite"
	BackendMemory StateBackend = "memory"
)

// Config is the top-level quotecall configuration, corresponding to .quotecall.yml.
type Config struct {
	Provider        ProviderType        `yaml:"provider" koanf:"provider"`
	Model           string              `yaml:"model" koanf:"model"`
	ExtractionModel string              `yaml:"extraction_model" koanf:"extraction_model"`
	Server          ServerConfig        `yaml:"server" koanf:"server"`
	Database        DatabaseConfig      `yaml:"database" koanf:"database"`
	StateStore      StateStoreConfig    `yaml:"state_store" koanf:"state_store"`
	Bridge          BridgeConfig        `yaml:"bridge" koanf:"bridge"`
	Webhooks        WebhookConfig       `yaml:"webhooks" koanf:"webhooks"`
	Negotiation     NegotiationConfig   `yaml:"negotiation" koanf:"negotiation"`
	Extraction      ExtractionConfig    `yaml:"extraction" koanf:"extraction"`
	Notifications   NotificationsConfig `yaml:"notifications" koanf:"notifications"`
	Logging         LoggingConfig       `yaml:"logging" koanf:"logging"`
	Maintenance     MaintenanceConfig   `yaml:"maintenance" koanf:"maintenance"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int  `yaml:"port" koanf:"port"`
	AllowAllOrigins bool `yaml:"allow_all_origins" koanf:"allow_all_origins"`
}

// DatabaseConfig points at the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path" koanf:"path"`
}

// StateStoreConfig controls call state persistence and per-call locking.
type StateStoreConfig struct {
	Backend      StateBackend  `yaml:"backend" koanf:"backend"`
	TTL          time.Duration `yaml:"ttl" koanf:"ttl"`
	LockWait     time.Duration `yaml:"lock_wait" koanf:"lock_wait"`
	LockLease    time.Duration `yaml:"lock_lease" koanf:"lock_lease"`
	PollInterval time.Duration `yaml:"poll_interval" koanf:"poll_interval"`
}

// BridgeConfig configures the chat-completions endpoint polled by the voice vendor.
type BridgeConfig struct {
	Secret string `yaml:"secret" koanf:"secret"`
	// AcceptPlaceholderToken lets the vendor's placeholder bearer token through
	// while the shared secret is being rolled out on the vendor side.
	AcceptPlaceholderToken bool          `yaml:"accept_placeholder_token" koanf:"accept_placeholder_token"`
	PlaceholderToken       string        `yaml:"placeholder_token" koanf:"placeholder_token"`
	TurnTimeout            time.Duration `yaml:"turn_timeout" koanf:"turn_timeout"`
}

// WebhookConfig configures the lifecycle webhook.
type WebhookConfig struct {
	Secret       string `yaml:"secret" koanf:"secret"`
	SecretHeader string `yaml:"secret_header" koanf:"secret_header"`
}

// NegotiationConfig holds the call policy knobs.
type NegotiationConfig struct {
	AgentName                string  `yaml:"agent_name" koanf:"agent_name"`
	CompanyName              string  `yaml:"company_name" koanf:"company_name"`
	MaxNegotiationAttempts   int     `yaml:"max_negotiation_attempts" koanf:"max_negotiation_attempts"`
	MaxClarificationAttempts int     `yaml:"max_clarification_attempts" koanf:"max_clarification_attempts"`
	PriceGapPercent          float64 `yaml:"price_gap_percent" koanf:"price_gap_percent"`
	MaxProviderFailures      int     `yaml:"max_provider_failures" koanf:"max_provider_failures"`
}

// ExtractionConfig controls the asynchronous quote extraction workers.
type ExtractionConfig struct {
	Workers           int           `yaml:"workers" koanf:"workers"`
	QueueSize         int           `yaml:"queue_size" koanf:"queue_size"`
	MaxAttempts       int           `yaml:"max_attempts" koanf:"max_attempts"`
	RequestsPerMinute int           `yaml:"requests_per_minute" koanf:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout" koanf:"timeout"`
	DefaultCurrency   string        `yaml:"default_currency" koanf:"default_currency"`
}

// NotificationsConfig controls requester webhook delivery.
type NotificationsConfig struct {
	WebhookTimeout time.Duration `yaml:"webhook_timeout" koanf:"webhook_timeout"`
	MaxAttempts    int           `yaml:"max_attempts" koanf:"max_attempts"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"`
}

// MaintenanceConfig holds cron schedules for background housekeeping.
type MaintenanceConfig struct {
	Enabled           bool   `yaml:"enabled" koanf:"enabled"`
	PurgeSchedule     string `yaml:"purge_schedule" koanf:"purge_schedule"`
	RequeueSchedule   string `yaml:"requeue_schedule" koanf:"requeue_schedule"`
	RedeliverSchedule string `yaml:"redeliver_schedule" koanf:"redeliver_schedule"`
}
