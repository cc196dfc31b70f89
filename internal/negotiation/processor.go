package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
	"github.com/ziadkadry99/quote-caller/internal/llm"
	"github.com/ziadkadry99/quote-caller/internal/quotes"
)

// Config tunes the turn processor.
type Config struct {
	AgentName   string
	CompanyName string
	// Model overrides the provider's default model for turn decisions.
	Model                    string
	MaxClarificationAttempts int
	MaxProviderFailures      int
	PriceGapPercent          float64
	TurnTimeout              time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AgentName:                "Alex",
		CompanyName:              "our purchasing team",
		MaxClarificationAttempts: 3,
		MaxProviderFailures:      2,
		PriceGapPercent:          10,
		TurnTimeout:              8 * time.Second,
	}
}

// Result labels how a turn's utterance was chosen.
type Result string

const (
	// ResultModel means the model's node and utterance were used as given.
	ResultModel Result = "model"
	// ResultScripted means the machine chose the node and spoke a fixed line.
	ResultScripted Result = "scripted"
	// ResultRepaired means the model named an unknown node.
	ResultRepaired Result = "repaired"
	// ResultClipped means the model proposed a node the current one cannot reach.
	ResultClipped       Result = "clipped"
	ResultProviderError Result = "provider_error"
	ResultTerminal      Result = "terminal"
)

// TurnResult is what the agent says next and whether the call should end.
type TurnResult struct {
	Utterance string
	EndCall   bool
	Node      callstate.Node
	Result    Result
}

// Processor advances a call's state by one conversational turn.
type Processor struct {
	provider llm.Provider
	cfg      Config
	policy   PricePolicy
	logger   *slog.Logger
	turns    *prometheus.CounterVec
	now      func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithTurnCounter counts turns by node and result.
func WithTurnCounter(c *prometheus.CounterVec) Option {
	return func(p *Processor) { p.turns = c }
}

// WithClock overrides the clock used for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a Processor that asks provider for turn decisions.
func NewProcessor(provider llm.Provider, cfg Config, opts ...Option) *Processor {
	def := DefaultConfig()
	if cfg.AgentName == "" {
		cfg.AgentName = def.AgentName
	}
	if cfg.CompanyName == "" {
		cfg.CompanyName = def.CompanyName
	}
	if cfg.MaxClarificationAttempts <= 0 {
		cfg.MaxClarificationAttempts = def.MaxClarificationAttempts
	}
	if cfg.MaxProviderFailures <= 0 {
		cfg.MaxProviderFailures = def.MaxProviderFailures
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = def.TurnTimeout
	}
	p := &Processor{
		provider: provider,
		cfg:      cfg,
		policy:   PricePolicy{GapPercent: cfg.PriceGapPercent},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// turnOutput is the model's structured decision for one turn.
type turnOutput struct {
	NextNode          string       `json:"next_node"`
	Utterance         string       `json:"utterance"`
	Quote             *quoteOutput `json:"quote"`
	ContactName       string       `json:"contact_name"`
	ContactRole       string       `json:"contact_role"`
	HumanDetected     bool         `json:"human_detected"`
	Acknowledged      bool         `json:"acknowledged"`
	DisputedParts     []string     `json:"disputed_parts"`
	TransferRequested bool         `json:"transfer_requested"`
	PartUnavailable   bool         `json:"part_unavailable"`
}

type quoteOutput struct {
	PartNumber   string    `json:"part_number"`
	Price        flexPrice `json:"price"`
	Availability string    `json:"availability"`
	LeadTimeDays flexDays  `json:"lead_time_days"`
	Notes        string    `json:"notes"`
}

// flexDays accepts a lead time as an integer or as text like "2 weeks".
type flexDays struct {
	Value *int
}

func (f *flexDays) UnmarshalJSON(data []byte) error {
	f.Value = nil
	if string(data) == "null" {
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		f.Value = &n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	f.Value = quotes.ParseLeadTimeDays(s)
	return nil
}

// Process appends the counterparty's utterance to st and decides the next
// node and agent utterance, mutating st in place. Provider failures never
// surface as errors; they degrade to a spoken holding line.
func (p *Processor) Process(ctx context.Context, st *callstate.CallState, utterance string) *TurnResult {
	if st.Terminal() || st.CurrentNode.Terminal() {
		return &TurnResult{Utterance: endedLine, EndCall: true, Node: st.CurrentNode, Result: ResultTerminal}
	}

	utterance = strings.TrimSpace(utterance)
	st.AppendTurn(callstate.SpeakerCounterparty, utterance, p.now())

	if utterance == "" {
		if len(st.History) == 0 {
			return p.say(st, callstate.NodeGreeting, p.greetingLine(), ResultScripted)
		}
		return p.say(st, st.CurrentNode, repeatLine, ResultScripted)
	}

	out, err := p.decide(ctx, st)
	if err != nil {
		p.logger.Warn("turn decision failed", "call_id", st.CallID, "node", st.CurrentNode, "error", err)
		return p.HandleProviderFailure(st)
	}
	st.ProviderFailures = 0
	return p.apply(st, out)
}

func (p *Processor) decide(ctx context.Context, st *callstate.CallState) (*turnOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.TurnTimeout)
	defer cancel()

	resp, err := p.provider.Complete(ctx, llm.CompletionRequest{
		Model:       p.cfg.Model,
		Messages:    p.messages(st),
		MaxTokens:   400,
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("requesting turn decision: %w", err)
	}

	var out turnOutput
	if err := turnSchema.Decode(resp.Content, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Processor) apply(st *callstate.CallState, out *turnOutput) *TurnResult {
	from := st.CurrentNode
	result := ResultModel

	if out.ContactName != "" {
		st.ContactName = out.ContactName
	}
	if out.ContactRole != "" {
		st.ContactRole = out.ContactRole
	}

	proposed := callstate.Node(strings.ToLower(strings.TrimSpace(out.NextNode)))
	if !proposed.Valid() {
		p.logger.Debug("repairing unknown node", "call_id", st.CallID, "proposed", out.NextNode)
		proposed, result = from, ResultRepaired
	} else if !Allowed(from, proposed) {
		p.logger.Debug("clipping disallowed transition", "call_id", st.CallID, "from", from, "proposed", proposed)
		proposed, result = from, ResultClipped
	}

	if out.TransferRequested {
		st.NeedsTransfer = true
		return p.escalate(st, "transfer requested", p.escalationLine(), ResultScripted)
	}
	switch proposed {
	case callstate.NodeHumanEscalation, callstate.NodeEscalated:
		return p.escalate(st, "model escalated", p.escalationLine(), result)
	case callstate.NodeVoicemail:
		return p.LeaveVoicemail(st)
	}

	switch from {
	case callstate.NodeGreeting:
		return p.greet(st, out, result)
	case callstate.NodeConfirmation:
		return p.confirm(st, out, proposed, result)
	}

	draft, part, answered := p.capture(st, out)
	if answered {
		st.ClarificationAttempts = 0
	}

	// The negotiation cap forces confirmation however the last round went.
	if from == callstate.NodeNegotiation && st.NegotiationAttempts >= st.MaxNegotiationAttempts {
		return p.say(st, callstate.NodeConfirmation, confirmLine(st), ResultScripted)
	}
	if answered && draft.Price != nil && p.canNegotiate(st, part, *draft.Price) {
		st.NegotiationAttempts++
		st.ActivePart = part.PartNumber
		if proposed == callstate.NodeNegotiation && out.Utterance != "" {
			return p.say(st, callstate.NodeNegotiation, out.Utterance, result)
		}
		return p.say(st, callstate.NodeNegotiation, counterLine(part, *draft.Price), ResultScripted)
	}
	if proposed == callstate.NodeNegotiation {
		if active, ok := st.MatchPart(st.ActivePart); ok {
			if d, ok := st.DraftFor(active.PartNumber); ok && d.Price != nil && p.canNegotiate(st, active, *d.Price) {
				st.NegotiationAttempts++
				return p.say(st, callstate.NodeNegotiation, nonEmpty(out.Utterance, counterLine(active, *d.Price)), result)
			}
		}
		proposed, result = callstate.NodeQuoteRequest, ResultClipped
	}

	if proposed == callstate.NodeClarification {
		st.ClarificationAttempts++
		if st.ClarificationAttempts >= p.cfg.MaxClarificationAttempts {
			return p.escalate(st, "clarification limit reached", p.escalationLine(), ResultScripted)
		}
		text := out.Utterance
		if text == "" {
			if active, ok := st.MatchPart(st.ActivePart); ok {
				text = "Sorry, let me repeat that. " + askPartLine(active)
			} else {
				text = repeatLine
			}
		}
		return p.say(st, callstate.NodeClarification, text, result)
	}

	next, pending := st.PendingPart()
	if !pending {
		return p.say(st, callstate.NodeConfirmation, confirmLine(st), ResultScripted)
	}
	if answered || next.PartNumber != st.ActivePart || proposed != callstate.NodeQuoteRequest || result != ResultModel || out.Utterance == "" {
		st.ActivePart = next.PartNumber
		prefix := ""
		if answered {
			prefix = "Thank you. "
		}
		return p.say(st, callstate.NodeQuoteRequest, prefix+askPartLine(next), ResultScripted)
	}
	return p.say(st, callstate.NodeQuoteRequest, out.Utterance, result)
}

func (p *Processor) greet(st *callstate.CallState, out *turnOutput, result Result) *TurnResult {
	if !out.HumanDetected {
		return p.say(st, callstate.NodeGreeting, nonEmpty(out.Utterance, p.greetingLine()), result)
	}
	next, ok := st.PendingPart()
	if !ok {
		return p.say(st, callstate.NodeConfirmation, confirmLine(st), ResultScripted)
	}
	st.ActivePart = next.PartNumber
	return p.say(st, callstate.NodeQuoteRequest, "Thanks. "+askPartLine(next), ResultScripted)
}

func (p *Processor) confirm(st *callstate.CallState, out *turnOutput, proposed callstate.Node, result Result) *TurnResult {
	var disputed []callstate.Part
	for _, pn := range out.DisputedParts {
		if part, ok := st.MatchPart(pn); ok {
			st.DropDraft(part.PartNumber)
			disputed = append(disputed, part)
		}
	}
	if len(disputed) > 0 {
		st.ActivePart = disputed[0].PartNumber
		return p.say(st, callstate.NodeQuoteRequest, "Sorry about that. "+askPartLine(disputed[0]), ResultScripted)
	}

	if draft, _, answered := p.capture(st, out); answered && draft.Price != nil {
		return p.say(st, callstate.NodeConfirmation, confirmLine(st), ResultScripted)
	}

	if out.Acknowledged || proposed == callstate.NodeCompleted {
		if next, ok := st.PendingPart(); ok {
			st.ActivePart = next.PartNumber
			return p.say(st, callstate.NodeQuoteRequest, "Great. "+askPartLine(next), ResultScripted)
		}
		_ = st.SetStatus(callstate.StatusCompleted)
		p.logger.Info("call completed", "call_id", st.CallID, "quotes", st.PricedQuotes())
		return p.end(st, callstate.NodeCompleted, closingLine, ResultScripted)
	}

	if proposed == callstate.NodeQuoteRequest && out.Utterance != "" {
		return p.say(st, callstate.NodeQuoteRequest, out.Utterance, result)
	}
	return p.say(st, callstate.NodeConfirmation, nonEmpty(out.Utterance, confirmLine(st)), result)
}

// capture records the model's quote or unavailability report for the part
// it names, or the active part when it names none. It reports whether the
// supplier answered for a requested part.
func (p *Processor) capture(st *callstate.CallState, out *turnOutput) (callstate.QuoteDraft, callstate.Part, bool) {
	if out.Quote == nil && !out.PartUnavailable {
		return callstate.QuoteDraft{}, callstate.Part{}, false
	}

	pn := st.ActivePart
	if out.Quote != nil && strings.TrimSpace(out.Quote.PartNumber) != "" {
		pn = out.Quote.PartNumber
	}
	part, ok := st.MatchPart(pn)
	if !ok {
		p.logger.Debug("quote for unrequested part ignored", "call_id", st.CallID, "part_number", pn)
		return callstate.QuoteDraft{}, callstate.Part{}, false
	}

	draft := callstate.QuoteDraft{PartNumber: part.PartNumber}
	if q := out.Quote; q != nil {
		draft.Price = q.Price.Value
		draft.LeadTimeDays = q.LeadTimeDays.Value
		draft.Notes = q.Notes
		if q.Availability != "" {
			draft.Availability = string(quotes.NormalizeAvailability(q.Availability))
		}
	}

	switch {
	case draft.Price != nil:
	case out.PartUnavailable:
		if draft.Notes == "" {
			draft.Notes = "supplier cannot supply this part"
		}
	default:
		// Availability without a price is not an answer yet.
		return callstate.QuoteDraft{}, callstate.Part{}, false
	}

	st.PutDraft(draft)
	return draft, part, true
}

func (p *Processor) canNegotiate(st *callstate.CallState, part callstate.Part, price float64) bool {
	return st.NegotiationAttempts < st.MaxNegotiationAttempts && p.policy.ShouldNegotiate(price, part.BenchmarkPrice)
}

// LeaveVoicemail ends the call with the scripted voicemail message without
// consulting the model.
func (p *Processor) LeaveVoicemail(st *callstate.CallState) *TurnResult {
	if st.Terminal() {
		return &TurnResult{Utterance: endedLine, EndCall: true, Node: st.CurrentNode, Result: ResultTerminal}
	}
	_ = st.SetStatus(callstate.StatusCompleted)
	st.Outcome = string(OutcomeVoicemailLeft)
	if st.NextAction == "" {
		st.NextAction = callstate.NextActionEmailFallback
	}
	p.logger.Info("leaving voicemail", "call_id", st.CallID)
	return p.end(st, callstate.NodeVoicemail, p.voicemailLine(st), ResultScripted)
}

// HandleProviderFailure answers a turn the model could not decide. The call
// holds on its current node until consecutive failures reach the limit,
// then escalates.
func (p *Processor) HandleProviderFailure(st *callstate.CallState) *TurnResult {
	if st.Terminal() {
		return &TurnResult{Utterance: endedLine, EndCall: true, Node: st.CurrentNode, Result: ResultTerminal}
	}
	st.ProviderFailures++
	if st.ProviderFailures >= p.cfg.MaxProviderFailures {
		return p.escalate(st, "provider failures", troubleLine, ResultProviderError)
	}
	return p.say(st, st.CurrentNode, holdLine, ResultProviderError)
}

func (p *Processor) escalate(st *callstate.CallState, reason, line string, result Result) *TurnResult {
	st.NeedsHumanEscalation = true
	_ = st.SetStatus(callstate.StatusEscalated)
	st.NextAction = callstate.NextActionHumanFollowup
	p.logger.Info("call escalated", "call_id", st.CallID, "from", st.CurrentNode, "reason", reason)
	// human_escalation hands off immediately; the call ends escalated.
	st.CurrentNode = callstate.NodeHumanEscalation
	return p.end(st, callstate.NodeEscalated, line, result)
}

func (p *Processor) say(st *callstate.CallState, node callstate.Node, text string, result Result) *TurnResult {
	st.CurrentNode = node
	st.AppendTurn(callstate.SpeakerAgent, text, p.now())
	p.count(node, result)
	return &TurnResult{Utterance: text, Node: node, Result: result}
}

func (p *Processor) end(st *callstate.CallState, node callstate.Node, text string, result Result) *TurnResult {
	res := p.say(st, node, text, result)
	res.EndCall = true
	return res
}

func (p *Processor) count(node callstate.Node, result Result) {
	if p.turns != nil {
		p.turns.WithLabelValues(string(node), string(result)).Inc()
	}
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
