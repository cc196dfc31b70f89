// Package callstate persists the state of in-flight negotiation calls and
// serializes read-modify-write cycles on a single call.
package callstate

import (
	"fmt"
	"strings"
	"time"
)

// Node is a stage of the call conversation.
type Node string

const (
	NodeGreeting        Node = "greeting"
	NodeQuoteRequest    Node = "quote_request"
	NodeClarification   Node = "clarification"
	NodeNegotiation     Node = "negotiation"
	NodeConfirmation    Node = "confirmation"
	NodeCompleted       Node = "completed"
	NodeVoicemail       Node = "voicemail"
	NodeHumanEscalation Node = "human_escalation"
	NodeEscalated       Node = "escalated"
)

// AllNodes lists every node in conversation order.
var AllNodes = []Node{
	NodeGreeting, NodeQuoteRequest, NodeClarification, NodeNegotiation,
	NodeConfirmation, NodeCompleted, NodeVoicemail, NodeHumanEscalation, NodeEscalated,
}

// Valid reports whether n is a known node.
func (n Node) Valid() bool {
	for _, known := range AllNodes {
		if n == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further turns are expected after n.
func (n Node) Terminal() bool {
	return n == NodeCompleted || n == NodeVoicemail || n == NodeEscalated
}

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerAgent        Speaker = "agent"
	SpeakerCounterparty Speaker = "counterparty"
	SpeakerSystem       Speaker = "system"
)

// Status is the coarse lifecycle of a call.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusEscalated  Status = "escalated"
)

// Next actions suggested to downstream follow-up.
const (
	NextActionEmailFallback = "email_fallback"
	NextActionHumanFollowup = "human_followup"
)

// Turn is one utterance in the conversation history.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Part is a requested item the agent asks about.
type Part struct {
	RequestedItemID string `json:"requestedItemId"`
	PartNumber      string `json:"partNumber"`
	Description     string `json:"description,omitempty"`
	Quantity        int    `json:"quantity"`
	// BenchmarkPrice is the best unit price other suppliers quoted, if any.
	BenchmarkPrice *float64 `json:"benchmarkPrice,omitempty"`
}

// QuoteDraft is a price captured during the call, before extraction.
type QuoteDraft struct {
	PartNumber   string   `json:"partNumber"`
	Price        *float64 `json:"price,omitempty"`
	Availability string   `json:"availability,omitempty"`
	LeadTimeDays *int     `json:"leadTimeDays,omitempty"`
	Notes        string   `json:"notes,omitempty"`
}

// CallState is the complete record of one call's progress.
type CallState struct {
	CallID         string `json:"callId"`
	QuoteRequestID string `json:"quoteRequestId"`
	SupplierID     string `json:"supplierId"`
	SupplierName   string `json:"supplierName,omitempty"`
	OrganizationID string `json:"organizationId"`
	CallerID       string `json:"callerId,omitempty"`
	ExternalCallID string `json:"externalCallId,omitempty"`

	Parts       []Part       `json:"parts"`
	History     []Turn       `json:"conversationHistory"`
	CurrentNode Node         `json:"currentNode"`
	Quotes      []QuoteDraft `json:"quotes"`

	// ActivePart is the part number currently being discussed.
	ActivePart string `json:"activePart,omitempty"`

	NegotiationAttempts    int `json:"negotiationAttempts"`
	MaxNegotiationAttempts int `json:"maxNegotiationAttempts"`
	ClarificationAttempts  int `json:"clarificationAttempts"`
	ProviderFailures       int `json:"providerFailures"`

	NeedsHumanEscalation bool   `json:"needsHumanEscalation"`
	NeedsTransfer        bool   `json:"needsTransfer"`
	Status               Status `json:"status"`
	NextAction           string `json:"nextAction,omitempty"`
	Outcome              string `json:"outcome,omitempty"`
	VendorStatus         string `json:"vendorStatus,omitempty"`

	ContactName string `json:"contactName,omitempty"`
	ContactRole string `json:"contactRole,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New returns a freshly initialized state at the greeting node.
func New(callID string, maxNegotiationAttempts int, now time.Time) *CallState {
	return &CallState{
		CallID:                 callID,
		CurrentNode:            NodeGreeting,
		Status:                 StatusInProgress,
		MaxNegotiationAttempts: maxNegotiationAttempts,
		History:                []Turn{},
		Quotes:                 []QuoteDraft{},
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// AppendTurn adds a turn to the end of the history. Empty text is ignored.
func (s *CallState) AppendTurn(speaker Speaker, text string, at time.Time) {
	if text == "" {
		return
	}
	s.History = append(s.History, Turn{Speaker: speaker, Text: text, Timestamp: at})
}

// SetStatus moves the status forward. Once completed or escalated the
// status cannot change again.
func (s *CallState) SetStatus(next Status) error {
	if s.Status == next {
		return nil
	}
	if s.Status != StatusInProgress && s.Status != "" {
		return fmt.Errorf("call %s: status %s is final, cannot move to %s", s.CallID, s.Status, next)
	}
	s.Status = next
	return nil
}

// Terminal reports whether the call has reached a final status.
func (s *CallState) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusEscalated
}

// CounterpartyTurns counts turns spoken by the supplier.
func (s *CallState) CounterpartyTurns() int {
	n := 0
	for _, t := range s.History {
		if t.Speaker == SpeakerCounterparty {
			n++
		}
	}
	return n
}

// DraftFor returns the captured quote for partNumber, if any.
func (s *CallState) DraftFor(partNumber string) (QuoteDraft, bool) {
	for _, q := range s.Quotes {
		if q.PartNumber == partNumber {
			return q, true
		}
	}
	return QuoteDraft{}, false
}

// PutDraft inserts or replaces the draft for q.PartNumber, keeping order.
func (s *CallState) PutDraft(q QuoteDraft) {
	for i := range s.Quotes {
		if s.Quotes[i].PartNumber == q.PartNumber {
			s.Quotes[i] = q
			return
		}
	}
	s.Quotes = append(s.Quotes, q)
}

// DropDraft removes the draft for partNumber.
func (s *CallState) DropDraft(partNumber string) {
	out := s.Quotes[:0]
	for _, q := range s.Quotes {
		if q.PartNumber != partNumber {
			out = append(out, q)
		}
	}
	s.Quotes = out
}

// PendingPart returns the first part without a draft.
func (s *CallState) PendingPart() (Part, bool) {
	for _, p := range s.Parts {
		if _, ok := s.DraftFor(p.PartNumber); !ok {
			return p, true
		}
	}
	return Part{}, false
}

// PricedQuotes counts drafts carrying a price.
func (s *CallState) PricedQuotes() int {
	n := 0
	for _, q := range s.Quotes {
		if q.Price != nil {
			n++
		}
	}
	return n
}

// NormalizePartNumber uppercases a part number and strips spaces and hyphens.
func NormalizePartNumber(pn string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(pn)) {
		if r == ' ' || r == '-' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MatchPart finds the requested part for a spoken or extracted part number
// by exact value, then case-insensitively, then by normalized form.
func (s *CallState) MatchPart(pn string) (Part, bool) {
	pn = strings.TrimSpace(pn)
	if pn == "" {
		return Part{}, false
	}
	for _, p := range s.Parts {
		if p.PartNumber == pn {
			return p, true
		}
	}
	for _, p := range s.Parts {
		if strings.EqualFold(p.PartNumber, pn) {
			return p, true
		}
	}
	norm := NormalizePartNumber(pn)
	for _, p := range s.Parts {
		if NormalizePartNumber(p.PartNumber) == norm {
			return p, true
		}
	}
	return Part{}, false
}
