package quotes

import (
	"time"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
)

// Availability is the normalized stock vocabulary for a quote.
type Availability string

const (
	InStock      Availability = "IN_STOCK"
	Backordered  Availability = "BACKORDERED"
	SpecialOrder Availability = "SPECIAL_ORDER"
	Unknown      Availability = "UNKNOWN"
)

// Source records where a quote came from.
type Source string

const (
	SourceCall  Source = "call"
	SourceEmail Source = "email"
	SourcePDF   Source = "pdf"
)

// CallStatus is the durable status of a call log.
type CallStatus string

const (
	CallQueued     CallStatus = "queued"
	CallInProgress CallStatus = "in_progress"
	CallCompleted  CallStatus = "completed"
	CallEscalated  CallStatus = "escalated"
	CallFailed     CallStatus = "failed"
)

// Final reports whether no further lifecycle updates apply.
func (s CallStatus) Final() bool {
	return s == CallCompleted || s == CallEscalated || s == CallFailed
}

// ExtractionStatus tracks the extraction pipeline for a call or reply.
type ExtractionStatus string

const (
	ExtractionNone    ExtractionStatus = "none"
	ExtractionPending ExtractionStatus = "pending"
	ExtractionDone    ExtractionStatus = "done"
	ExtractionFailed  ExtractionStatus = "failed"
)

// Supplier is a vendor the caller dials.
type Supplier struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone,omitempty"`
	Email          string    `json:"email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// QuoteRequest groups the parts a requester wants priced.
type QuoteRequest struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	RequesterID    string    `json:"requester_id,omitempty"`
	Title          string    `json:"title,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// RequestedItem is one part line on a quote request.
type RequestedItem struct {
	ID             string `json:"id"`
	QuoteRequestID string `json:"quote_request_id"`
	PartNumber     string `json:"part_number"`
	Description    string `json:"description,omitempty"`
	Quantity       int    `json:"quantity"`
	Position       int    `json:"position"`
}

// SupplierQuote is the persisted price record for one (item, supplier) pair.
type SupplierQuote struct {
	ID              string       `json:"id"`
	RequestedItemID string       `json:"requested_item_id"`
	SupplierID      string       `json:"supplier_id"`
	QuoteRequestID  string       `json:"quote_request_id"`
	PartNumber      string       `json:"part_number,omitempty"`
	UnitPrice       *float64     `json:"unit_price"`
	TotalPrice      *float64     `json:"total_price"`
	Currency        string       `json:"currency"`
	Availability    Availability `json:"availability"`
	LeadTimeDays    *int         `json:"lead_time_days"`
	Notes           string       `json:"notes,omitempty"`
	ValidUntil      *time.Time   `json:"valid_until"`
	Source          Source       `json:"source"`
	SourceID        string       `json:"source_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// CallLog is the durable record of one outbound call.
type CallLog struct {
	ID                   string                 `json:"id"`
	QuoteRequestID       string                 `json:"quote_request_id"`
	SupplierID           string                 `json:"supplier_id"`
	OrganizationID       string                 `json:"organization_id"`
	CallerID             string                 `json:"caller_id,omitempty"`
	ExternalCallID       string                 `json:"external_call_id,omitempty"`
	Status               CallStatus             `json:"status"`
	VendorStatus         string                 `json:"vendor_status,omitempty"`
	Outcome              string                 `json:"outcome,omitempty"`
	NextAction           string                 `json:"next_action,omitempty"`
	NeedsHumanEscalation bool                   `json:"needs_human_escalation"`
	EndedReason          string                 `json:"ended_reason,omitempty"`
	Error                string                 `json:"error,omitempty"`
	Transcript           []callstate.Turn       `json:"transcript"`
	CapturedQuotes       []callstate.QuoteDraft `json:"captured_quotes"`
	ExtractionStatus     ExtractionStatus       `json:"extraction_status"`
	StartedAt            *time.Time             `json:"started_at,omitempty"`
	EndedAt              *time.Time             `json:"ended_at,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// CallResult is what the lifecycle webhook records when a call ends.
type CallResult struct {
	Status               CallStatus
	Outcome              string
	NextAction           string
	NeedsHumanEscalation bool
	EndedReason          string
	Error                string
	Transcript           []callstate.Turn
	CapturedQuotes       []callstate.QuoteDraft
	ExtractionStatus     ExtractionStatus
}

// Reply is a supplier's written answer (email body or PDF text).
type Reply struct {
	ID               string           `json:"id"`
	QuoteRequestID   string           `json:"quote_request_id"`
	SupplierID       string           `json:"supplier_id"`
	Kind             Source           `json:"kind"`
	Body             string           `json:"body"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`
	ReceivedAt       time.Time        `json:"received_at"`
}

// CallContext is everything needed to start a call's conversation.
type CallContext struct {
	Call     CallLog
	Supplier Supplier
	Items    []RequestedItem
	// Benchmarks maps requested item id to the lowest unit price any other
	// supplier has quoted for it.
	Benchmarks map[string]float64
}
