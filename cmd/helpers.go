package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
	"github.com/ziadkadry99/quote-caller/internal/config"
	"github.com/ziadkadry99/quote-caller/internal/db"
	"github.com/ziadkadry99/quote-caller/internal/extraction"
	"github.com/ziadkadry99/quote-caller/internal/llm"
	"github.com/ziadkadry99/quote-caller/internal/negotiation"
	"github.com/ziadkadry99/quote-caller/internal/notifications"
	"github.com/ziadkadry99/quote-caller/internal/observability"
	"github.com/ziadkadry99/quote-caller/internal/quotes"
	"github.com/ziadkadry99/quote-caller/internal/retry"
)

// app holds the components shared by the server and extract commands.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *observability.Metrics
	database   *db.DB
	quotes     *quotes.Store
	notices    *notifications.Store
	dispatcher *notifications.Dispatcher
}

// newApp opens the database and builds the stores every command needs.
func newApp(cfg *config.Config) (*app, error) {
	logger := createLoggerFromConfig(cfg)

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.Database.Path, err)
	}

	metrics := observability.NewMetrics()
	notices := notifications.NewStore(database)
	dispatcher := notifications.NewDispatcher(notices, notifications.DispatcherOptions{
		Timeout:     cfg.Notifications.WebhookTimeout,
		MaxAttempts: cfg.Notifications.MaxAttempts,
		Logger:      logger.With("component", "notifications"),
		Sent:        metrics.NotificationsSent,
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		database:   database,
		quotes:     quotes.NewStore(database),
		notices:    notices,
		dispatcher: dispatcher,
	}, nil
}

func (a *app) Close() error {
	return a.database.Close()
}

// stateStore builds the call state store for the configured backend.
func (a *app) stateStore() (callstate.Store, error) {
	backend := string(a.cfg.StateStore.Backend)
	opts := callstate.Options{
		TTL:          a.cfg.StateStore.TTL,
		LockWait:     a.cfg.StateStore.LockWait,
		LockLease:    a.cfg.StateStore.LockLease,
		PollInterval: a.cfg.StateStore.PollInterval,
		ObserveLockWait: func(waited time.Duration, acquired bool) {
			result := "acquired"
			if !acquired {
				result = "timeout"
			}
			a.metrics.LockWait.WithLabelValues(backend, result).Observe(waited.Seconds())
		},
	}

	switch a.cfg.StateStore.Backend {
	case config.BackendMemory:
		a.logger.Warn("call state is kept in memory; run a single instance only")
		return callstate.NewMemoryStore(opts), nil
	case config.BackendSQLite, "":
		store, err := callstate.NewSQLStore(a.database.DB, opts)
		if err != nil {
			return nil, fmt.Errorf("creating call state store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported state store backend: %s", backend)
	}
}

// turnProcessor builds the live-call processor. Its provider is never
// rate limited so a turn cannot queue behind extraction traffic.
func (a *app) turnProcessor() (*negotiation.Processor, error) {
	provider, err := llm.NewProvider(string(a.cfg.Provider), a.cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("creating turn provider: %w", err)
	}
	provider = llm.NewInstrumentedProvider(provider, llm.PurposeTurn, a.metrics.LLMRequestDuration)

	n := a.cfg.Negotiation
	cfg := negotiation.DefaultConfig()
	cfg.Model = a.cfg.Model
	cfg.AgentName = nonEmpty(n.AgentName, cfg.AgentName)
	cfg.CompanyName = nonEmpty(n.CompanyName, cfg.CompanyName)
	if n.MaxClarificationAttempts > 0 {
		cfg.MaxClarificationAttempts = n.MaxClarificationAttempts
	}
	if n.MaxProviderFailures > 0 {
		cfg.MaxProviderFailures = n.MaxProviderFailures
	}
	if n.PriceGapPercent > 0 {
		cfg.PriceGapPercent = n.PriceGapPercent
	}
	if a.cfg.Bridge.TurnTimeout > 0 {
		cfg.TurnTimeout = a.cfg.Bridge.TurnTimeout
	}

	return negotiation.NewProcessor(provider, cfg,
		negotiation.WithLogger(a.logger.With("component", "negotiation")),
		negotiation.WithTurnCounter(a.metrics.TurnsTotal),
	), nil
}

// extractionRunner builds the extraction pipeline and its worker pool.
func (a *app) extractionRunner() (*extraction.Runner, error) {
	ec := a.cfg.Extraction
	model := nonEmpty(a.cfg.ExtractionModel, a.cfg.Model)

	provider, err := llm.NewProvider(string(a.cfg.Provider), model)
	if err != nil {
		return nil, fmt.Errorf("creating extraction provider: %w", err)
	}
	provider = llm.NewRateLimitedProvider(provider, ec.RequestsPerMinute)
	provider = llm.NewInstrumentedProvider(provider, llm.PurposeExtraction, a.metrics.LLMRequestDuration)

	policy := retry.DefaultPolicy()
	if ec.MaxAttempts > 0 {
		policy.Attempts = ec.MaxAttempts
	}

	logger := a.logger.With("component", "extraction")
	extractor := extraction.NewExtractor(provider, extraction.ExtractorOptions{
		Model:           model,
		DefaultCurrency: ec.DefaultCurrency,
		Timeout:         ec.Timeout,
		Retry:           policy,
		Logger:          logger,
	})
	pipeline := extraction.NewPipeline(a.quotes, extractor, extraction.PipelineOptions{
		Notifier: a.dispatcher,
		Logger:   logger,
		Runs:     a.metrics.ExtractionRuns,
		Upserted: a.metrics.QuotesUpserted,
	})
	return extraction.NewRunner(pipeline, extraction.RunnerOptions{
		Workers:   ec.Workers,
		QueueSize: ec.QueueSize,
		Logger:    logger,
	}), nil
}

// createLoggerFromConfig builds the process logger. --verbose forces debug.
func createLoggerFromConfig(cfg *config.Config) *slog.Logger {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
}

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `quotecall init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
