// Package webhooks receives call lifecycle events from the voice vendor.
// It initializes call state when a call starts, mirrors status changes,
// and writes the durable call record when the call ends. Conversational
// turns are never advanced here; the bridge owns them.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
	"github.com/ziadkadry99/quote-caller/internal/negotiation"
	"github.com/ziadkadry99/quote-caller/internal/notifications"
	"github.com/ziadkadry99/quote-caller/internal/quotes"
	"github.com/ziadkadry99/quote-caller/internal/vendor"
)

// Options configure a Gateway.
type Options struct {
	// Secret, when set, must match the SecretHeader of every request.
	Secret       string
	SecretHeader string

	MaxNegotiationAttempts int
	Scheduler              Scheduler
	Notifier               Notifier
	Logger                 *slog.Logger
	// Events counts events by type and result; Outcomes counts finalized
	// calls by outcome.
	Events   *prometheus.CounterVec
	Outcomes *prometheus.CounterVec
}

// Gateway handles lifecycle events.
type Gateway struct {
	states    callstate.Store
	quotes    *quotes.Store
	processor *negotiation.Processor
	opts      Options
}

// NewGateway creates a Gateway.
func NewGateway(states callstate.Store, quoteStore *quotes.Store, processor *negotiation.Processor, opts Options) *Gateway {
	if opts.SecretHeader == "" {
		opts.SecretHeader = DefaultSecretHeader
	}
	if opts.MaxNegotiationAttempts <= 0 {
		opts.MaxNegotiationAttempts = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{states: states, quotes: quoteStore, processor: processor, opts: opts}
}

// RegisterRoutes mounts the lifecycle webhook.
func RegisterRoutes(r chi.Router, g *Gateway) {
	r.Post("/api/webhooks/voice", g.ServeHTTP)
}

// ServeHTTP acknowledges every event with 200 unless authentication fails,
// so the vendor never retries a malformed event into a loop.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.opts.Secret != "" && !vendor.TokenMatches(r.Header.Get(g.opts.SecretHeader), g.opts.Secret) {
		g.count("unknown", resultUnauthorized)
		writeJSON(w, http.StatusUnauthorized, Response{Result: resultUnauthorized, Message: "invalid webhook secret"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		g.opts.Logger.Warn("reading webhook body", "error", err)
		g.ack(w, "unknown", Response{Result: resultInvalid, Message: "unreadable body"})
		return
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		g.opts.Logger.Warn("decoding webhook body", "error", err)
		g.ack(w, "unknown", Response{Result: resultInvalid, Message: "invalid json"})
		return
	}

	payload := raw
	if inner, ok := vendor.Map(raw, "message"); ok {
		payload = inner
	}
	eventType := vendor.String(payload, "type")
	label := eventLabel(eventType)

	callID := vendor.CallLogID(payload)
	if callID == "" {
		callID = vendor.CallLogID(raw)
	}
	if callID == "" {
		g.opts.Logger.Warn("webhook without call log id", "type", eventType, "external_call_id", vendor.ExternalCallID(payload))
		g.ack(w, label, Response{Result: resultInvalid, Message: "missing call log id"})
		return
	}

	g.ack(w, label, g.Handle(r.Context(), eventType, callID, payload))
}

// Handle processes one decoded event for callID. It never returns an
// error; problems are logged and reported in the Response.
func (g *Gateway) Handle(ctx context.Context, eventType, callID string, payload map[string]any) Response {
	log := g.opts.Logger.With("call_id", callID, "type", eventType)
	externalID := vendor.ExternalCallID(payload)

	switch eventType {
	case EventCallStarted:
		return g.callStarted(ctx, log, callID, externalID)
	case EventStatusUpdate:
		return g.statusUpdate(ctx, log, callID, externalID, payload)
	case EventCallEnded, EventEndOfCallReport:
		return g.callEnded(ctx, log, callID, payload)
	case EventError:
		return g.vendorError(ctx, log, callID, payload)
	case EventTranscript:
		// Turns are advanced by the bridge only.
		return Response{OK: true, Result: resultIgnored}
	default:
		log.Debug("ignoring webhook event")
		return Response{OK: true, Result: resultIgnored}
	}
}

func (g *Gateway) callStarted(ctx context.Context, log *slog.Logger, callID, externalID string) Response {
	_, err := g.states.Mutate(ctx, callID, g.quotes.SeedState(ctx, callID, externalID, g.opts.MaxNegotiationAttempts))
	switch {
	case errors.Is(err, quotes.ErrCallClosed):
		log.Info("start event for a closed call")
		return Response{OK: true, Result: resultDuplicate}
	case errors.Is(err, quotes.ErrNotFound):
		log.Warn("start event for unknown call")
		return Response{OK: true, Result: resultInvalid, Message: "unknown call"}
	case err != nil:
		log.Error("initializing call state", "error", err)
		return Response{OK: true, Result: resultError}
	}
	if err := g.quotes.MarkCallStarted(ctx, callID, externalID); err != nil {
		log.Warn("marking call started", "error", err)
	}
	log.Info("call started", "external_call_id", externalID)
	return Response{OK: true, Result: resultHandled}
}

func (g *Gateway) statusUpdate(ctx context.Context, log *slog.Logger, callID, externalID string, payload map[string]any) Response {
	status := normalizeStatus(vendor.String(payload, "status"))
	if status == "" {
		status = normalizeStatus(vendor.String(payload, "call", "status"))
	}
	if status == "" {
		return Response{OK: true, Result: resultInvalid, Message: "missing status"}
	}

	if err := g.quotes.UpdateVendorStatus(ctx, callID, status); err != nil {
		log.Warn("mirroring vendor status", "status", status, "error", err)
	}
	if status == statusVoicemail {
		return g.voicemail(ctx, log, callID, externalID)
	}
	if status == statusInProgress {
		if err := g.quotes.MarkCallStarted(ctx, callID, externalID); err != nil {
			log.Warn("marking call started", "error", err)
		}
	}

	_, err := g.states.Mutate(ctx, callID, func(current *callstate.CallState) (*callstate.CallState, error) {
		if current == nil {
			return nil, nil
		}
		current.VendorStatus = status
		return current, nil
	})
	if err != nil {
		log.Warn("recording vendor status on call state", "status", status, "error", err)
	}
	log.Debug("vendor status updated", "status", status)
	return Response{OK: true, Result: resultHandled}
}

// voicemail runs the voicemail node synchronously, writes the terminal
// record and tells the vendor to speak the message and hang up.
func (g *Gateway) voicemail(ctx context.Context, log *slog.Logger, callID, externalID string) Response {
	seed := g.quotes.SeedState(ctx, callID, externalID, g.opts.MaxNegotiationAttempts)
	var turn *negotiation.TurnResult
	st, err := g.states.Mutate(ctx, callID, func(current *callstate.CallState) (*callstate.CallState, error) {
		st, err := seed(current)
		if err != nil {
			return nil, err
		}
		if st == nil {
			st = current
		}
		st.VendorStatus = statusVoicemail
		turn = g.processor.LeaveVoicemail(st)
		return st, nil
	})
	switch {
	case errors.Is(err, quotes.ErrCallClosed):
		log.Info("voicemail status for a closed call")
		return Response{OK: true, Result: resultDuplicate, EndCall: true}
	case errors.Is(err, quotes.ErrNotFound):
		log.Warn("voicemail status for unknown call")
		return Response{OK: true, Result: resultInvalid, Message: "unknown call"}
	case err != nil:
		// The record is still finalized so the call is not left open, and
		// the vendor still gets a message to leave.
		log.Error("running voicemail node", "error", err)
		st = g.voicemailFallback(ctx, log, callID, seed)
		turn = g.processor.LeaveVoicemail(st)
	}

	g.finalize(ctx, log, callID, st, negotiation.Disposition{
		Outcome:    negotiation.OutcomeVoicemailLeft,
		NextAction: callstate.NextActionEmailFallback,
	}, statusVoicemail, "", nil)

	resp := Response{OK: true, Result: resultHandled, EndCall: true}
	if turn != nil {
		resp.Say = turn.Utterance
	}
	return resp
}

// voicemailFallback reads the state without the call lock. The copy keeps
// the conversation so far for the transcript; when none is stored it is
// rebuilt from the call context, and as a last resort started fresh.
func (g *Gateway) voicemailFallback(ctx context.Context, log *slog.Logger, callID string, seed callstate.MutateFunc) *callstate.CallState {
	if st := g.currentState(ctx, log, callID); st != nil {
		return st
	}
	st, err := seed(nil)
	if err != nil || st == nil {
		log.Warn("rebuilding call state for voicemail", "error", err)
		return callstate.New(callID, g.opts.MaxNegotiationAttempts, time.Now().UTC())
	}
	return st
}

// callEnded is authoritative: it does not take the call lock, so it wins
// over any turn still in flight.
func (g *Gateway) callEnded(ctx context.Context, log *slog.Logger, callID string, payload map[string]any) Response {
	st := g.currentState(ctx, log, callID)
	reason := vendor.String(payload, "endedReason")
	if reason == "" {
		reason = vendor.String(payload, "call", "endedReason")
	}
	disp := negotiation.Classify(st, reason)
	if !g.finalize(ctx, log, callID, st, disp, reason, "", vendorTranscript(payload)) {
		return Response{OK: true, Result: resultDuplicate}
	}
	return Response{OK: true, Result: resultHandled}
}

func (g *Gateway) vendorError(ctx context.Context, log *slog.Logger, callID string, payload map[string]any) Response {
	msg := vendor.String(payload, "error")
	if msg == "" {
		msg = vendor.String(payload, "error", "message")
	}
	if msg == "" {
		msg = "voice vendor reported an error"
	}
	st := g.currentState(ctx, log, callID)
	disp := negotiation.Disposition{Outcome: negotiation.OutcomeFailed, NextAction: callstate.NextActionHumanFollowup}
	if !g.finalize(ctx, log, callID, st, disp, "error", msg, vendorTranscript(payload)) {
		return Response{OK: true, Result: resultDuplicate}
	}
	return Response{OK: true, Result: resultHandled}
}

func (g *Gateway) currentState(ctx context.Context, log *slog.Logger, callID string) *callstate.CallState {
	st, err := g.states.Get(ctx, callID)
	if err != nil {
		if !errors.Is(err, callstate.ErrNotFound) {
			log.Warn("reading call state", "error", err)
		}
		return nil
	}
	return st
}

// finalize writes the terminal record and deletes the live state. Follow-up
// work (extraction, notifications, outcome metrics) runs only for the
// event that performed the finalization. It reports whether it did.
func (g *Gateway) finalize(ctx context.Context, log *slog.Logger, callID string, st *callstate.CallState,
	disp negotiation.Disposition, endedReason, errMsg string, fromVendor []callstate.Turn) bool {

	res := quotes.CallResult{
		Status:      callStatus(disp.Outcome),
		Outcome:     string(disp.Outcome),
		NextAction:  disp.NextAction,
		EndedReason: endedReason,
		Error:       errMsg,
	}
	var local []callstate.Turn
	if st != nil {
		local = st.History
		res.CapturedQuotes = st.Quotes
		res.NeedsHumanEscalation = st.NeedsHumanEscalation
	}
	if disp.Outcome == negotiation.OutcomeEscalated {
		res.NeedsHumanEscalation = true
	}
	res.Transcript = mergeTranscript(local, fromVendor)
	extract := (st != nil && st.PricedQuotes() > 0) || disp.Outcome == negotiation.OutcomeQuoted
	if extract {
		res.ExtractionStatus = quotes.ExtractionPending
	}

	first, err := g.quotes.FinalizeCall(ctx, callID, res)
	if err != nil {
		log.Error("finalizing call", "error", err)
	}
	if existed, err := g.states.Delete(ctx, callID); err != nil {
		log.Warn("deleting call state", "error", err)
	} else if existed {
		log.Debug("call state deleted")
	}
	if !first {
		return false
	}

	log.Info("call finalized", "outcome", disp.Outcome, "status", res.Status, "turns", len(res.Transcript))
	if g.opts.Outcomes != nil {
		g.opts.Outcomes.WithLabelValues(string(disp.Outcome)).Inc()
	}
	if extract && g.opts.Scheduler != nil {
		if err := g.opts.Scheduler.ScheduleCall(ctx, callID); err != nil {
			// Left pending for the maintenance sweep.
			log.Warn("scheduling extraction", "error", err)
		}
	}

	switch disp.Outcome {
	case negotiation.OutcomeEscalated:
		g.notify(ctx, log, callID, st, func(org, qr, supplier string) notifications.Notification {
			return notifications.CallEscalated(org, qr, callID, supplier, escalationReason(st, endedReason))
		})
	case negotiation.OutcomeFailed:
		g.notify(ctx, log, callID, st, func(org, qr, supplier string) notifications.Notification {
			return notifications.CallFailed(org, qr, callID, supplier, nonEmpty(errMsg, endedReason))
		})
	}
	return true
}

func (g *Gateway) notify(ctx context.Context, log *slog.Logger, callID string, st *callstate.CallState,
	build func(org, qr, supplier string) notifications.Notification) {

	if g.opts.Notifier == nil {
		return
	}
	var org, qr, supplier string
	if st != nil {
		org, qr, supplier = st.OrganizationID, st.QuoteRequestID, st.SupplierName
	} else if call, err := g.quotes.GetCallLog(ctx, callID); err == nil {
		org, qr, supplier = call.OrganizationID, call.QuoteRequestID, call.SupplierID
		if sup, err := g.quotes.GetSupplier(ctx, call.SupplierID); err == nil {
			supplier = sup.Name
		}
	}
	n := build(org, qr, supplier)
	if err := g.opts.Notifier.Dispatch(ctx, n); err != nil {
		log.Warn("dispatching notification", "type", n.Type, "error", err)
	}
}

func (g *Gateway) ack(w http.ResponseWriter, label string, resp Response) {
	g.count(label, resp.Result)
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) count(eventType, result string) {
	if g.opts.Events != nil {
		g.opts.Events.WithLabelValues(eventType, result).Inc()
	}
}

func callStatus(o negotiation.Outcome) quotes.CallStatus {
	switch o {
	case negotiation.OutcomeEscalated:
		return quotes.CallEscalated
	case negotiation.OutcomeFailed:
		return quotes.CallFailed
	default:
		return quotes.CallCompleted
	}
}

func escalationReason(st *callstate.CallState, endedReason string) string {
	switch {
	case st != nil && st.NeedsTransfer:
		return "supplier asked to be transferred"
	case st != nil && st.ClarificationAttempts > 0:
		return "agent could not get a clear answer"
	case st != nil && st.ProviderFailures > 0:
		return "agent had technical difficulties"
	}
	return nonEmpty(endedReason, "call was handed off")
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
