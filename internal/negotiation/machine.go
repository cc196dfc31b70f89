// Package negotiation decides each conversational turn of a supplier quote
// call and classifies the call's final outcome.
package negotiation

import "github.com/ziadkadry99/quote-caller/internal/callstate"

// edges lists the nodes reachable from each non-terminal node besides the
// voicemail and escalation branches, which every non-terminal node reaches.
var edges = map[callstate.Node][]callstate.Node{
	callstate.NodeGreeting:        {callstate.NodeGreeting, callstate.NodeQuoteRequest},
	callstate.NodeQuoteRequest:    {callstate.NodeQuoteRequest, callstate.NodeClarification, callstate.NodeNegotiation, callstate.NodeConfirmation},
	callstate.NodeClarification:   {callstate.NodeClarification, callstate.NodeQuoteRequest, callstate.NodeNegotiation, callstate.NodeConfirmation},
	callstate.NodeNegotiation:     {callstate.NodeNegotiation, callstate.NodeQuoteRequest, callstate.NodeConfirmation},
	callstate.NodeConfirmation:    {callstate.NodeConfirmation, callstate.NodeQuoteRequest, callstate.NodeCompleted},
	callstate.NodeHumanEscalation: {callstate.NodeEscalated},
}

// Allowed reports whether the machine may move from one node to another.
func Allowed(from, to callstate.Node) bool {
	if from.Terminal() || !to.Valid() {
		return false
	}
	if from == callstate.NodeHumanEscalation {
		return to == callstate.NodeEscalated
	}
	if to == callstate.NodeVoicemail || to == callstate.NodeHumanEscalation {
		return true
	}
	for _, n := range edges[from] {
		if n == to {
			return true
		}
	}
	return false
}

// Reachable returns the nodes Allowed from the given node.
func Reachable(from callstate.Node) []callstate.Node {
	var out []callstate.Node
	for _, n := range callstate.AllNodes {
		if Allowed(from, n) {
			out = append(out, n)
		}
	}
	return out
}
