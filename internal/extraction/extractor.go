// Package extraction turns finished call transcripts and written supplier
// replies into normalized quote records. It runs off the live-call path,
// so its model calls are retried and rate limited.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
	"github.com/ziadkadry99/quote-caller/internal/llm"
	"github.com/ziadkadry99/quote-caller/internal/quotes"
	"github.com/ziadkadry99/quote-caller/internal/retry"
)

// ExtractorOptions tune an Extractor.
type ExtractorOptions struct {
	Model           string
	DefaultCurrency string
	Timeout         time.Duration
	Retry           retry.Policy
	Logger          *slog.Logger
}

// Extractor asks a model for the quoted line items in a piece of text.
type Extractor struct {
	provider llm.Provider
	opts     ExtractorOptions
}

// NewExtractor creates an Extractor. A zero Retry policy uses the default.
func NewExtractor(provider llm.Provider, opts ExtractorOptions) *Extractor {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Extractor{provider: provider, opts: opts}
}

// Extract returns the normalized items found in in.Text along with the
// number of model attempts made. Malformed output is retried like any
// other provider failure.
func (e *Extractor) Extract(ctx context.Context, in Input) ([]Item, int, error) {
	req := llm.CompletionRequest{
		Model:       e.opts.Model,
		Messages:    buildMessages(in),
		MaxTokens:   2048,
		Temperature: 0,
		JSONMode:    true,
	}

	var out rawOutput
	attempts, err := retry.Do(ctx, e.opts.Retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()

		resp, err := e.provider.Complete(callCtx, req)
		if err != nil {
			return err
		}
		out = rawOutput{}
		return itemsSchema.Decode(resp.Content, &out)
	})
	if err != nil {
		return nil, attempts, fmt.Errorf("extracting quotes after %d attempt(s): %w", attempts, err)
	}

	items := make([]Item, 0, len(out.Items))
	for _, raw := range out.Items {
		items = append(items, e.normalize(raw))
	}
	return items, attempts, nil
}

func (e *Extractor) normalize(raw rawItem) Item {
	it := Item{
		PartNumber:           strings.TrimSpace(raw.PartNumber),
		NormalizedPartNumber: callstate.NormalizePartNumber(raw.PartNumber),
		Description:          strings.TrimSpace(raw.Description),
		UnitPrice:            raw.UnitPrice.v,
		TotalPrice:           raw.TotalPrice.v,
		Currency:             strings.ToUpper(strings.TrimSpace(raw.Currency)),
		Availability:         quotes.NormalizeAvailability(raw.Availability),
		LeadTimeDays:         quotes.ParseLeadTimeDays(string(raw.LeadTime)),
		Notes:                strings.TrimSpace(raw.Notes),
		ValidUntil:           parseDate(raw.ValidUntil),
	}
	if raw.Quantity.v != nil && *raw.Quantity.v > 0 {
		it.Quantity = int(math.Round(*raw.Quantity.v))
	}
	if it.Currency == "" {
		it.Currency = e.opts.DefaultCurrency
	}
	it.Availability = quotes.ApplyLeadTimeOverride(it.Availability, it.LeadTimeDays)
	return it
}

// Match finds the requested item an extracted part number refers to:
// exact value first, then case-insensitive, then the normalized form.
func Match(items []quotes.RequestedItem, partNumber string) (quotes.RequestedItem, bool) {
	pn := strings.TrimSpace(partNumber)
	if pn == "" {
		return quotes.RequestedItem{}, false
	}
	for _, it := range items {
		if it.PartNumber == pn {
			return it, true
		}
	}
	for _, it := range items {
		if strings.EqualFold(it.PartNumber, pn) {
			return it, true
		}
	}
	norm := callstate.NormalizePartNumber(pn)
	for _, it := range items {
		if callstate.NormalizePartNumber(it.PartNumber) == norm {
			return it, true
		}
	}
	return quotes.RequestedItem{}, false
}

// DerivePrices fills in whichever of unit or total price is missing when
// the quantity is known.
func DerivePrices(unit, total *float64, quantity int) (*float64, *float64) {
	if quantity <= 0 {
		return unit, total
	}
	q := float64(quantity)
	switch {
	case unit == nil && total != nil:
		u := roundCents(*total / q)
		unit = &u
	case total == nil && unit != nil:
		t := roundCents(*unit * q)
		total = &t
	}
	return unit, total
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339, "01/02/2006", "January 2, 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
