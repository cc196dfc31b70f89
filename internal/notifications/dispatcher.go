package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ziadkadry99/quote-caller/internal/retry"
)

// Digest summarises notifications for an organization over a time period.
type Digest struct {
	OrganizationID string         `json:"organization_id"`
	Period         string         `json:"period"`
	Notifications  []Notification `json:"notifications"`
	Summary        string         `json:"summary"`
}

// DispatcherOptions tune webhook delivery.
type DispatcherOptions struct {
	Timeout     time.Duration
	Retry       retry.Policy
	MaxAttempts int
	Logger      *slog.Logger
	// Sent counts deliveries by status when set.
	Sent *prometheus.CounterVec
}

// Dispatcher creates notifications and delivers them to webhook subscribers.
type Dispatcher struct {
	store  *Store
	client *http.Client
	opts   DispatcherOptions
}

// NewDispatcher creates a Dispatcher backed by the given store.
func NewDispatcher(store *Store, opts DispatcherOptions) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		opts: opts,
	}
}

// Dispatch persists a notification and sends it to matching webhook
// subscribers. Delivery failures are recorded for redelivery, not returned.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	if err := d.store.Create(ctx, &n); err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}
	d.deliver(ctx, n)
	return nil
}

// Redeliver retries every pending notification that still has attempts
// left and returns how many were delivered.
func (d *Dispatcher) Redeliver(ctx context.Context) (int, error) {
	pending, err := d.store.GetPending(ctx, d.opts.MaxAttempts)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, n := range pending {
		if d.deliver(ctx, n) {
			delivered++
		}
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) bool {
	prefs, err := d.store.GetPreferences(ctx, n.OrganizationID)
	if err != nil {
		d.opts.Logger.Warn("loading notification preferences", "organization_id", n.OrganizationID, "error", err)
		return false
	}

	payload, err := json.Marshal(n)
	if err != nil {
		d.opts.Logger.Error("encoding notification", "notification_id", n.ID, "error", err)
		return false
	}

	ok := true
	for _, pref := range prefs {
		if pref.WebhookURL == "" || !severityMatches(n.Severity, pref.SeverityFilter) {
			continue
		}
		_, err := retry.Do(ctx, d.opts.Retry, func(ctx context.Context) error {
			return d.SendWebhook(ctx, pref.WebhookURL, payload)
		})
		if err != nil {
			ok = false
			d.count("failed")
			d.opts.Logger.Warn("notification delivery failed",
				"notification_id", n.ID, "channel", pref.Channel, "error", err)
			continue
		}
		d.count("sent")
	}

	if !ok {
		if err := d.store.RecordAttempt(ctx, n.ID); err != nil {
			d.opts.Logger.Warn("recording notification attempt", "notification_id", n.ID, "error", err)
		}
		return false
	}
	if err := d.store.MarkDelivered(ctx, n.ID); err != nil {
		d.opts.Logger.Warn("marking notification delivered", "notification_id", n.ID, "error", err)
		return false
	}
	return true
}

func (d *Dispatcher) count(status string) {
	if d.opts.Sent != nil {
		d.opts.Sent.WithLabelValues(status).Inc()
	}
}

// GenerateDigest builds a summary of an organization's notifications since
// the given time.
func (d *Dispatcher) GenerateDigest(ctx context.Context, orgID string, since time.Time) (*Digest, error) {
	matched, err := d.store.List(ctx, ListFilter{OrganizationID: orgID, Since: since})
	if err != nil {
		return nil, fmt.Errorf("listing notifications for digest: %w", err)
	}

	period := fmt.Sprintf("%s to %s",
		since.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339))

	counts := make(map[NotificationType]int)
	for _, n := range matched {
		counts[n.Type]++
	}
	summary := fmt.Sprintf("%d notification(s): %d quote update(s), %d escalation(s), %d failure(s)",
		len(matched), counts[TypeQuotesExtracted], counts[TypeCallEscalated],
		counts[TypeCallFailed]+counts[TypeExtractionFailed])

	return &Digest{
		OrganizationID: orgID,
		Period:         period,
		Notifications:  matched,
		Summary:        summary,
	}, nil
}

// SendWebhook POSTs payload to the given URL. Client errors are permanent.
func (d *Dispatcher) SendWebhook(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("creating webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// severityMatches returns true if the notification severity meets or exceeds the filter threshold.
func severityMatches(actual, filter Severity) bool {
	levels := map[Severity]int{
		SeverityInfo:     0,
		SeverityWarning:  1,
		SeverityCritical: 2,
	}
	return levels[actual] >= levels[filter]
}
