package llm

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InstrumentedProvider records the latency of every call on a histogram
// labelled by purpose and status.
type InstrumentedProvider struct {
	provider Provider
	purpose  Purpose
	hist     *prometheus.HistogramVec
}

// NewInstrumentedProvider wraps p. A nil histogram returns p unchanged.
func NewInstrumentedProvider(p Provider, purpose Purpose, hist *prometheus.HistogramVec) Provider {
	if hist == nil {
		return p
	}
	return &InstrumentedProvider{provider: p, purpose: purpose, hist: hist}
}

func (i *InstrumentedProvider) Name() string { return i.provider.Name() }

func (i *InstrumentedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := i.provider.Complete(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	i.hist.WithLabelValues(string(i.purpose), status).Observe(time.Since(start).Seconds())
	return resp, err
}
