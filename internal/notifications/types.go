package notifications

import (
	"fmt"
	"time"
)

// Severity indicates the importance of a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// NotificationType categorises the event that triggered the notification.
type NotificationType string

const (
	TypeQuotesExtracted  NotificationType = "quotes_extracted"
	TypeCallEscalated    NotificationType = "call_escalated"
	TypeCallFailed       NotificationType = "call_failed"
	TypeExtractionFailed NotificationType = "extraction_failed"
)

// Notification is a single message for the requester's organization.
type Notification struct {
	ID             string           `json:"id"`
	Type           NotificationType `json:"type"`
	Severity       Severity         `json:"severity"`
	OrganizationID string           `json:"organization_id"`
	QuoteRequestID string           `json:"quote_request_id,omitempty"`
	CallID         string           `json:"call_id,omitempty"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Delivered      bool             `json:"delivered"`
	Attempts       int              `json:"attempts"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Preference stores an organization's notification delivery preferences.
type Preference struct {
	OrganizationID string   `json:"organization_id"`
	Channel        string   `json:"channel"`
	SeverityFilter Severity `json:"severity_filter"`
	WebhookURL     string   `json:"webhook_url,omitempty"`
}

// QuotesExtracted tells the requester that a supplier's quotes are ready.
func QuotesExtracted(orgID, quoteRequestID, sourceID, supplier string, count int) Notification {
	return Notification{
		Type:           TypeQuotesExtracted,
		Severity:       SeverityInfo,
		OrganizationID: orgID,
		QuoteRequestID: quoteRequestID,
		CallID:         sourceID,
		Title:          fmt.Sprintf("New quotes from %s", supplier),
		Message:        fmt.Sprintf("%d quoted item(s) were recorded for this request.", count),
	}
}

// CallEscalated asks a person to follow up on a call the agent handed off.
func CallEscalated(orgID, quoteRequestID, callID, supplier, reason string) Notification {
	return Notification{
		Type:           TypeCallEscalated,
		Severity:       SeverityWarning,
		OrganizationID: orgID,
		QuoteRequestID: quoteRequestID,
		CallID:         callID,
		Title:          fmt.Sprintf("Call to %s needs follow-up", supplier),
		Message:        reason,
	}
}

// CallFailed reports a call the voice vendor could not complete.
func CallFailed(orgID, quoteRequestID, callID, supplier, reason string) Notification {
	return Notification{
		Type:           TypeCallFailed,
		Severity:       SeverityCritical,
		OrganizationID: orgID,
		QuoteRequestID: quoteRequestID,
		CallID:         callID,
		Title:          fmt.Sprintf("Call to %s failed", supplier),
		Message:        reason,
	}
}

// ExtractionFailed reports a transcript or reply that could not be parsed.
func ExtractionFailed(orgID, quoteRequestID, sourceID, supplier, reason string) Notification {
	return Notification{
		Type:           TypeExtractionFailed,
		Severity:       SeverityWarning,
		OrganizationID: orgID,
		QuoteRequestID: quoteRequestID,
		CallID:         sourceID,
		Title:          fmt.Sprintf("Could not read quotes from %s", supplier),
		Message:        reason,
	}
}
