package negotiation

import (
	"strings"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
)

// Outcome is the final disposition of a call.
type Outcome string

const (
	OutcomeQuoted        Outcome = "QUOTED"
	OutcomeNoQuote       Outcome = "NO_QUOTE"
	OutcomeNoAnswer      Outcome = "NO_ANSWER"
	OutcomeVoicemailLeft Outcome = "VOICEMAIL_LEFT"
	OutcomeEscalated     Outcome = "ESCALATED"
	OutcomeFailed        Outcome = "FAILED"
)

// Disposition is an Outcome plus the follow-up it calls for.
type Disposition struct {
	Outcome    Outcome
	NextAction string
}

// Classify derives the final outcome from the accumulated call state and
// the vendor's ended reason. st may be nil when the state already expired.
func Classify(st *callstate.CallState, endedReason string) Disposition {
	outcome := classify(st, strings.ToLower(endedReason))

	next := defaultNextAction(outcome)
	if st != nil && st.NextAction != "" {
		next = st.NextAction
	}
	return Disposition{Outcome: outcome, NextAction: next}
}

func classify(st *callstate.CallState, reason string) Outcome {
	if st != nil {
		if st.Outcome == string(OutcomeVoicemailLeft) || st.CurrentNode == callstate.NodeVoicemail {
			return OutcomeVoicemailLeft
		}
		if st.Status == callstate.StatusEscalated || st.NeedsHumanEscalation {
			return OutcomeEscalated
		}
	}

	switch {
	case containsAny(reason, "did-not-answer", "no-answer", "busy", "voicemail"):
		return OutcomeNoAnswer
	case containsAny(reason, "forwarded", "transfer"):
		return OutcomeEscalated
	case containsAny(reason, "error", "failed", "fault"):
		return OutcomeFailed
	}

	if st == nil {
		return OutcomeNoAnswer
	}
	if st.PricedQuotes() > 0 {
		return OutcomeQuoted
	}
	if st.CounterpartyTurns() == 0 {
		return OutcomeNoAnswer
	}
	return OutcomeNoQuote
}

func defaultNextAction(o Outcome) string {
	switch o {
	case OutcomeQuoted:
		return ""
	case OutcomeEscalated, OutcomeFailed:
		return callstate.NextActionHumanFollowup
	default:
		return callstate.NextActionEmailFallback
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
