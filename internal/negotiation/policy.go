package negotiation

import (
	"encoding/json"

	"github.com/ziadkadry99/quote-caller/internal/quotes"
)

// PricePolicy judges whether a quoted price is worth negotiating.
type PricePolicy struct {
	// GapPercent is how far above the best competing price a quote may be
	// before the agent pushes back.
	GapPercent float64
}

// ShouldNegotiate reports whether price exceeds benchmark by more than the
// configured gap. Without a benchmark there is nothing to negotiate against.
func (p PricePolicy) ShouldNegotiate(price float64, benchmark *float64) bool {
	if benchmark == nil || *benchmark <= 0 || price <= 0 {
		return false
	}
	return price > *benchmark*(1+p.GapPercent/100)
}

// flexPrice accepts a price as a JSON number or as spoken text such as
// "$1,234.50" or "45 dollars".
type flexPrice struct {
	Value *float64
}

func (f *flexPrice) UnmarshalJSON(data []byte) error {
	f.Value = nil
	if string(data) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		f.Value = &n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	f.Value = quotes.ParsePrice(s)
	return nil
}
