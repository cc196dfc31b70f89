package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. Each instance owns a
// private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// TurnsTotal counts processed conversational turns.
	// Labels: node (resulting node), result (model|scripted|repaired|clipped|provider_error|terminal)
	TurnsTotal *prometheus.CounterVec

	// BridgeFallbacks counts turns answered with the canned apology.
	// Labels: reason (auth|bad_request|missing_call_id|unknown_call|store|provider|internal)
	BridgeFallbacks *prometheus.CounterVec

	// WebhookEvents counts lifecycle events by type and handling result.
	WebhookEvents *prometheus.CounterVec

	// LockWait observes how long handlers waited for a call lock.
	// Labels: backend (memory|sqlite), result (acquired|timeout)
	LockWait *prometheus.HistogramVec

	// CallOutcomes counts finalized calls by outcome.
	CallOutcomes *prometheus.CounterVec

	// ExtractionRuns counts extraction jobs. Labels: source (call|email|pdf), status (done|failed)
	ExtractionRuns *prometheus.CounterVec

	// QuotesUpserted counts quote rows written by extraction.
	QuotesUpserted prometheus.Counter

	// LLMRequestDuration measures provider latency. Labels: purpose (turn|extraction), status
	LLMRequestDuration *prometheus.HistogramVec

	// NotificationsSent counts webhook deliveries. Labels: status (sent|failed)
	NotificationsSent *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecall_turns_total",
			Help: "Conversational turns processed, by resulting node and result",
		}, []string{"node", "result"}),

		BridgeFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecall_bridge_fallbacks_total",
			Help: "Bridge responses that fell back to the canned apology",
		}, []string{"reason"}),

		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecall_webhook_events_total",
			Help: "Lifecycle webhook events by type and result",
		}, []string{"type", "result"}),

		LockWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quotecall_state_lock_wait_seconds",
			Help:    "Time spent waiting for a per-call state lock",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"backend", "result"}),

		CallOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecall_call_outcomes_total",
			Help: "Finalized calls by outcome",
		}, []string{"outcome"}),

		ExtractionRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecall_extraction_runs_total",
			Help: "Extraction jobs by source and status",
		}, []string{"source", "status"}),

		QuotesUpserted: f.NewCounter(prometheus.CounterOpts{
			Name: "quotecall_quotes_upserted_total",
			Help: "Supplier quote rows written by the extraction pipeline",
		}),

		LLMRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quotecall_llm_request_duration_seconds",
			Help:    "Duration of LLM provider calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"purpose", "status"}),

		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecall_notifications_sent_total",
			Help: "Requester webhook deliveries by status",
		}, []string{"status"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
