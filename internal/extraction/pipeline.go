package extraction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ziadkadry99/quote-caller/internal/notifications"
	"github.com/ziadkadry99/quote-caller/internal/quotes"
)

// Notifier informs the requester about extraction results.
type Notifier interface {
	Dispatch(ctx context.Context, n notifications.Notification) error
}

// PipelineOptions wire optional collaborators into a Pipeline.
type PipelineOptions struct {
	Notifier Notifier
	Logger   *slog.Logger
	// Runs counts jobs by source and status; Upserted counts rows written.
	Runs     *prometheus.CounterVec
	Upserted prometheus.Counter
}

// Pipeline loads an extraction source, runs the Extractor over it and
// upserts the matched quotes.
type Pipeline struct {
	store     *quotes.Store
	extractor *Extractor
	opts      PipelineOptions
}

// NewPipeline creates a Pipeline.
func NewPipeline(store *quotes.Store, extractor *Extractor, opts PipelineOptions) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{store: store, extractor: extractor, opts: opts}
}

// Run processes a single job and never panics on a bad source; failures
// are reported in the returned Report.
func (p *Pipeline) Run(ctx context.Context, job Job) Report {
	switch job.Kind {
	case JobCall:
		return p.ProcessCall(ctx, job.ID)
	case JobReply:
		return p.ProcessReply(ctx, job.ID)
	default:
		return Report{Job: job, Err: fmt.Errorf("unknown extraction job kind %q", job.Kind)}
	}
}

// ProcessCall extracts quotes from a finished call's transcript.
func (p *Pipeline) ProcessCall(ctx context.Context, callLogID string) Report {
	rep := Report{Job: Job{Kind: JobCall, ID: callLogID}}

	call, err := p.store.GetCallLog(ctx, callLogID)
	if err != nil {
		rep.Err = fmt.Errorf("loading call log: %w", err)
		return rep
	}
	rep.QuoteRequestID = call.QuoteRequestID
	rep.SupplierID = call.SupplierID

	src := source{
		kind:           quotes.SourceCall,
		id:             call.ID,
		orgID:          call.OrganizationID,
		quoteRequestID: call.QuoteRequestID,
		supplierID:     call.SupplierID,
		text:           RenderTranscript(call.Transcript, call.CapturedQuotes),
		setStatus: func(ctx context.Context, s quotes.ExtractionStatus) error {
			return p.store.SetCallExtraction(ctx, call.ID, s)
		},
	}
	if len(call.Transcript) == 0 && len(call.CapturedQuotes) == 0 {
		src.text = ""
	}
	p.process(ctx, src, &rep)
	return rep
}

// ProcessReply extracts quotes from a stored email or PDF reply.
func (p *Pipeline) ProcessReply(ctx context.Context, replyID string) Report {
	rep := Report{Job: Job{Kind: JobReply, ID: replyID}}

	reply, err := p.store.GetReply(ctx, replyID)
	if err != nil {
		rep.Err = fmt.Errorf("loading reply: %w", err)
		return rep
	}
	rep.QuoteRequestID = reply.QuoteRequestID
	rep.SupplierID = reply.SupplierID

	qr, err := p.store.GetQuoteRequest(ctx, reply.QuoteRequestID)
	if err != nil {
		rep.Err = fmt.Errorf("loading quote request: %w", err)
		return rep
	}

	p.process(ctx, source{
		kind:           reply.Kind,
		id:             reply.ID,
		orgID:          qr.OrganizationID,
		quoteRequestID: reply.QuoteRequestID,
		supplierID:     reply.SupplierID,
		text:           reply.Body,
		setStatus: func(ctx context.Context, s quotes.ExtractionStatus) error {
			return p.store.SetReplyExtraction(ctx, reply.ID, s)
		},
	}, &rep)
	return rep
}

type source struct {
	kind           quotes.Source
	id             string
	orgID          string
	quoteRequestID string
	supplierID     string
	text           string
	setStatus      func(ctx context.Context, s quotes.ExtractionStatus) error
}

func (p *Pipeline) process(ctx context.Context, src source, rep *Report) {
	log := p.opts.Logger.With("source", src.kind, "source_id", src.id, "supplier_id", src.supplierID)
	supplierName := src.supplierID
	if sup, err := p.store.GetSupplier(ctx, src.supplierID); err == nil {
		supplierName = sup.Name
	}

	if src.text == "" {
		log.Info("nothing to extract")
		p.finish(ctx, src, rep, nil)
		return
	}

	requested, err := p.store.ListRequestedItems(ctx, src.quoteRequestID)
	if err != nil {
		p.fail(ctx, src, rep, supplierName, fmt.Errorf("loading requested items: %w", err))
		return
	}

	items, attempts, err := p.extractor.Extract(ctx, Input{Source: src.kind, Text: src.text, Items: requested})
	rep.Attempts = attempts
	if err != nil {
		p.fail(ctx, src, rep, supplierName, err)
		return
	}
	rep.Extracted = len(items)

	for _, it := range items {
		if !it.HasPrice() {
			rep.Skipped++
			continue
		}
		target, ok := Match(requested, it.PartNumber)
		if !ok {
			log.Warn("extracted part matches no requested item", "part_number", it.PartNumber)
			rep.Unmatched = append(rep.Unmatched, it.PartNumber)
			continue
		}

		qty := it.Quantity
		if qty == 0 {
			qty = target.Quantity
		}
		unit, total := DerivePrices(it.UnitPrice, it.TotalPrice, qty)
		_, err := p.store.UpsertQuote(ctx, quotes.SupplierQuote{
			RequestedItemID: target.ID,
			SupplierID:      src.supplierID,
			QuoteRequestID:  src.quoteRequestID,
			UnitPrice:       unit,
			TotalPrice:      total,
			Currency:        it.Currency,
			Availability:    it.Availability,
			LeadTimeDays:    it.LeadTimeDays,
			Notes:           it.Notes,
			ValidUntil:      it.ValidUntil,
			Source:          src.kind,
			SourceID:        src.id,
		})
		if err != nil {
			p.fail(ctx, src, rep, supplierName, err)
			return
		}
		rep.Upserted++
		if p.opts.Upserted != nil {
			p.opts.Upserted.Inc()
		}
	}

	if rep.Upserted > 0 {
		if err := p.store.MarkQuoted(ctx, src.quoteRequestID); err != nil {
			log.Warn("marking quote request quoted", "error", err)
		}
		p.notify(ctx, notifications.QuotesExtracted(src.orgID, src.quoteRequestID, src.id, supplierName, rep.Upserted))
	}
	log.Info("extraction finished",
		"extracted", rep.Extracted, "upserted", rep.Upserted, "skipped", rep.Skipped, "unmatched", len(rep.Unmatched))
	p.finish(ctx, src, rep, nil)
}

func (p *Pipeline) fail(ctx context.Context, src source, rep *Report, supplierName string, err error) {
	p.opts.Logger.Error("extraction failed", "source", src.kind, "source_id", src.id, "error", err)
	rep.Err = err
	p.notify(ctx, notifications.ExtractionFailed(src.orgID, src.quoteRequestID, src.id, supplierName, err.Error()))
	p.finish(ctx, src, rep, err)
}

func (p *Pipeline) finish(ctx context.Context, src source, rep *Report, runErr error) {
	status := quotes.ExtractionDone
	if runErr != nil {
		status = quotes.ExtractionFailed
	}
	if err := src.setStatus(ctx, status); err != nil {
		p.opts.Logger.Warn("recording extraction status", "source_id", src.id, "error", err)
		if rep.Err == nil {
			rep.Err = err
		}
	}
	if p.opts.Runs != nil {
		p.opts.Runs.WithLabelValues(string(src.kind), string(status)).Inc()
	}
}

func (p *Pipeline) notify(ctx context.Context, n notifications.Notification) {
	if p.opts.Notifier == nil {
		return
	}
	if err := p.opts.Notifier.Dispatch(ctx, n); err != nil {
		p.opts.Logger.Warn("dispatching notification", "type", n.Type, "error", err)
	}
}
