package extraction

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ziadkadry99/quote-caller/internal/quotes"
)

// ErrQueueFull is returned by the runner when no queue slot is free. The
// source stays pending and is picked up by the maintenance sweep.
var ErrQueueFull = errors.New("extraction queue full")

// Item is one normalized line from an extraction run. Items are built fresh
// on every run and never persisted directly.
type Item struct {
	PartNumber           string              `json:"part_number"`
	NormalizedPartNumber string              `json:"normalized_part_number"`
	Description          string              `json:"description,omitempty"`
	Quantity             int                 `json:"quantity,omitempty"`
	UnitPrice            *float64            `json:"unit_price"`
	TotalPrice           *float64            `json:"total_price"`
	Currency             string              `json:"currency"`
	Availability         quotes.Availability `json:"availability"`
	LeadTimeDays         *int                `json:"lead_time_days"`
	Notes                string              `json:"notes,omitempty"`
	ValidUntil           *time.Time          `json:"valid_until,omitempty"`
}

// HasPrice reports whether the item carries any price information.
func (i Item) HasPrice() bool {
	return i.UnitPrice != nil || i.TotalPrice != nil
}

// Input is the text handed to the model plus the parts it should look for.
type Input struct {
	Source quotes.Source
	Text   string
	Items  []quotes.RequestedItem
}

// JobKind distinguishes call transcripts from written replies.
type JobKind string

const (
	JobCall  JobKind = "call"
	JobReply JobKind = "reply"
)

// Job identifies one extraction source.
type Job struct {
	Kind JobKind `json:"kind"`
	ID   string  `json:"id"`
}

// Report summarises one supplier's extraction run. A failed run carries
// Err; other suppliers are unaffected.
type Report struct {
	Job            Job      `json:"job"`
	QuoteRequestID string   `json:"quote_request_id,omitempty"`
	SupplierID     string   `json:"supplier_id,omitempty"`
	Extracted      int      `json:"extracted"`
	Upserted       int      `json:"upserted"`
	Skipped        int      `json:"skipped"`
	Unmatched      []string `json:"unmatched,omitempty"`
	Attempts       int      `json:"attempts"`
	Err            error    `json:"-"`
}

// OK reports whether the run finished without error.
func (r Report) OK() bool { return r.Err == nil }

// rawItem is the model's view of a line item before normalization.
type rawItem struct {
	PartNumber   string    `json:"part_number"`
	Description  string    `json:"description"`
	Quantity     flexFloat `json:"quantity"`
	UnitPrice    flexFloat `json:"unit_price"`
	TotalPrice   flexFloat `json:"total_price"`
	Currency     string    `json:"currency"`
	Availability string    `json:"availability"`
	LeadTime     flexText  `json:"lead_time"`
	Notes        string    `json:"availability_note"`
	ValidUntil   string    `json:"valid_until"`
}

type rawOutput struct {
	Items []rawItem `json:"items"`
}

// flexFloat accepts 45, 45.0, "45", "$1,045.50", "45 USD", "$45.00 each"
// or null. Text without any amount decodes as absent.
type flexFloat struct {
	v *float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	f.v = quotes.ParsePrice(s)
	return nil
}

// flexText accepts a string or a bare number.
type flexText string

func (t *flexText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = flexText(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*t = flexText(strings.TrimSpace(string(b)))
	return nil
}
