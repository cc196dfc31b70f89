package negotiation

import (
	"fmt"
	"strings"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
	"github.com/ziadkadry99/quote-caller/internal/llm"
)

// turnSchema guards the model's structured turn decision. next_node is a
// free string so unknown names can be repaired instead of rejected.
var turnSchema = llm.MustCompileSchema("turn.json", `{
  "type": "object",
  "required": ["next_node", "utterance"],
  "properties": {
    "next_node": {"type": "string"},
    "utterance": {"type": "string"},
    "quote": {
      "type": ["object", "null"],
      "properties": {
        "part_number": {"type": ["string", "null"]},
        "price": {"type": ["number", "string", "null"]},
        "availability": {"type": ["string", "null"]},
        "lead_time_days": {"type": ["integer", "string", "null"]},
        "notes": {"type": ["string", "null"]}
      }
    },
    "contact_name": {"type": ["string", "null"]},
    "contact_role": {"type": ["string", "null"]},
    "human_detected": {"type": ["boolean", "null"]},
    "acknowledged": {"type": ["boolean", "null"]},
    "disputed_parts": {"type": ["array", "null"], "items": {"type": "string"}},
    "transfer_requested": {"type": ["boolean", "null"]},
    "part_unavailable": {"type": ["boolean", "null"]}
  }
}`)

var nodeRoles = map[callstate.Node]string{
	callstate.NodeGreeting: "You have just been connected. Introduce yourself and ask for the person who handles parts pricing. " +
		"Set human_detected to true once a live person (not a recording or menu) is speaking.",
	callstate.NodeQuoteRequest: "Ask about exactly one part at a time, the active part. Capture the price, availability and lead time " +
		"the supplier gives for it in quote. Never read out a list of parts.",
	callstate.NodeClarification: "The supplier's last answer could not be understood or did not match the part asked about. " +
		"Politely restate the part number character by character and ask again.",
	callstate.NodeNegotiation: "The supplier's price is above what another supplier quoted. Ask whether they can do better, " +
		"without naming the other supplier. Record any revised price in quote.",
	callstate.NodeConfirmation: "Read back the captured prices and availability and ask the supplier to confirm. " +
		"Set acknowledged to true when they agree, or list disputed part numbers in disputed_parts.",
}

const outputInstructions = `Reply with one JSON object:
{"next_node": one of the allowed nodes,
 "utterance": what you say next (one or two short spoken sentences, no lists or markdown),
 "quote": {"part_number", "price" (number, per unit), "availability", "lead_time_days", "notes"} or null,
 "contact_name", "contact_role", "human_detected", "acknowledged", "disputed_parts",
 "transfer_requested" (true if the supplier asks to be transferred or to speak with a person from our side),
 "part_unavailable" (true if the supplier cannot supply the active part)}`

func (p *Processor) systemPrompt(st *callstate.CallState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a purchasing assistant calling %s on behalf of %s to request price quotes by phone.\n",
		p.cfg.AgentName, supplierName(st), p.cfg.CompanyName)
	fmt.Fprintf(&b, "Current stage: %s. %s\n", st.CurrentNode, nodeRoles[st.CurrentNode])
	if st.ContactName != "" {
		fmt.Fprintf(&b, "You are speaking with %s.\n", st.ContactName)
	}

	b.WriteString("\nParts on this request:\n")
	for _, part := range st.Parts {
		status := "not yet quoted"
		if d, ok := st.DraftFor(part.PartNumber); ok {
			status = describeDraft(d)
		}
		marker := ""
		if part.PartNumber == st.ActivePart {
			marker = " (active)"
		}
		fmt.Fprintf(&b, "- %s%s, qty %d%s: %s\n", part.PartNumber, describe(part), part.Quantity, marker, status)
	}

	allowed := Reachable(st.CurrentNode)
	names := make([]string, len(allowed))
	for i, n := range allowed {
		names[i] = string(n)
	}
	fmt.Fprintf(&b, "\nAllowed next nodes: %s.\n\n", strings.Join(names, ", "))
	b.WriteString(outputInstructions)
	return b.String()
}

// historyWindow bounds how many recent turns are replayed to the model.
const historyWindow = 24

func (p *Processor) messages(st *callstate.CallState) []llm.Message {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: p.systemPrompt(st)}}
	history := st.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, t := range history {
		switch t.Speaker {
		case callstate.SpeakerAgent:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: t.Text})
		case callstate.SpeakerCounterparty:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.Text})
		}
	}
	return msgs
}

func supplierName(st *callstate.CallState) string {
	if st.SupplierName != "" {
		return st.SupplierName
	}
	return "a supplier"
}

func describe(part callstate.Part) string {
	if part.Description == "" {
		return ""
	}
	return " (" + part.Description + ")"
}

func describeDraft(d callstate.QuoteDraft) string {
	var parts []string
	if d.Price != nil {
		parts = append(parts, money(*d.Price)+" each")
	} else {
		parts = append(parts, "no price")
	}
	if d.Availability != "" {
		parts = append(parts, strings.ToLower(d.Availability))
	}
	if d.LeadTimeDays != nil && *d.LeadTimeDays > 0 {
		parts = append(parts, fmt.Sprintf("%d day lead time", *d.LeadTimeDays))
	}
	return strings.Join(parts, ", ")
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// Scripted lines spoken when the machine, not the model, picks the turn.

func (p *Processor) greetingLine() string {
	return fmt.Sprintf("Hi, this is %s calling on behalf of %s. Could I speak with someone who handles parts pricing and availability?",
		p.cfg.AgentName, p.cfg.CompanyName)
}

func askPartLine(part callstate.Part) string {
	return fmt.Sprintf("Could you give me your price and availability for part number %s%s, quantity %d?",
		part.PartNumber, describe(part), part.Quantity)
}

func counterLine(part callstate.Part, price float64) string {
	return fmt.Sprintf("Thanks. We have a lower quote of %s for part %s. Is there any flexibility on your price of %s?",
		money(*part.BenchmarkPrice), part.PartNumber, money(price))
}

func confirmLine(st *callstate.CallState) string {
	if len(st.Quotes) == 0 {
		return "Just to confirm, you weren't able to quote any of those parts today. Is that right?"
	}
	items := make([]string, 0, len(st.Quotes))
	for _, q := range st.Quotes {
		items = append(items, fmt.Sprintf("part %s at %s", q.PartNumber, describeDraft(q)))
	}
	return "Let me confirm what I have: " + strings.Join(items, "; ") + ". Is that correct?"
}

func (p *Processor) escalationLine() string {
	return fmt.Sprintf("Thanks for your patience. Someone from %s will follow up with you directly. Goodbye.", p.cfg.CompanyName)
}

func (p *Processor) voicemailLine(st *callstate.CallState) string {
	return fmt.Sprintf("Hi, this is %s calling on behalf of %s about a quote request for %d %s. "+
		"Please call us back or reply by email with your pricing and availability. Thank you.",
		p.cfg.AgentName, p.cfg.CompanyName, len(st.Parts), plural(len(st.Parts), "part", "parts"))
}

const (
	closingLine = "That's everything I needed. Thank you for your time, goodbye."
	holdLine    = "Sorry, I'm having a brief technical difficulty. Please hold on one moment."
	troubleLine = "I'm sorry, we're having technical difficulties on our end. A colleague will follow up with you shortly. Goodbye."
	repeatLine  = "Sorry, I didn't catch that. Could you say that again?"
	endedLine   = "Thank you, goodbye."
)

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
