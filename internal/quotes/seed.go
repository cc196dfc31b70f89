package quotes

import (
	"context"
	"time"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
)

// NewState builds the opening call state for this context: greeting node,
// empty history, counters zeroed and one Part per requested item.
func (cc *CallContext) NewState(maxNegotiationAttempts int, now time.Time) *callstate.CallState {
	st := callstate.New(cc.Call.ID, maxNegotiationAttempts, now)
	st.QuoteRequestID = cc.Call.QuoteRequestID
	st.SupplierID = cc.Supplier.ID
	st.SupplierName = cc.Supplier.Name
	st.OrganizationID = cc.Call.OrganizationID
	st.CallerID = cc.Call.CallerID
	st.ExternalCallID = cc.Call.ExternalCallID

	st.Parts = make([]callstate.Part, 0, len(cc.Items))
	for _, it := range cc.Items {
		part := callstate.Part{
			RequestedItemID: it.ID,
			PartNumber:      it.PartNumber,
			Description:     it.Description,
			Quantity:        it.Quantity,
		}
		if bench, ok := cc.Benchmarks[it.ID]; ok {
			b := bench
			part.BenchmarkPrice = &b
		}
		st.Parts = append(st.Parts, part)
	}
	return st
}

// SeedState returns a MutateFunc that initializes a call's state from the
// stored call context. When state already exists it only fills in a
// late-arriving external call id, so whichever of the lifecycle webhook or
// the first turn gets the lock first initializes and the other merges.
// A call whose log is already final yields ErrCallClosed.
func (s *Store) SeedState(ctx context.Context, callLogID, externalCallID string, maxNegotiationAttempts int) callstate.MutateFunc {
	return func(current *callstate.CallState) (*callstate.CallState, error) {
		if current != nil {
			if externalCallID != "" && current.ExternalCallID == "" {
				current.ExternalCallID = externalCallID
				return current, nil
			}
			return nil, nil
		}
		cc, err := s.LoadCallContext(ctx, callLogID)
		if err != nil {
			return nil, err
		}
		st := cc.NewState(maxNegotiationAttempts, s.now().UTC())
		if st.ExternalCallID == "" {
			st.ExternalCallID = externalCallID
		}
		return st, nil
	}
}
