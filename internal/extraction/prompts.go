package extraction

import (
	"fmt"
	"strings"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
	"github.com/ziadkadry99/quote-caller/internal/llm"
	"github.com/ziadkadry99/quote-caller/internal/quotes"
)

var itemsSchema = llm.MustCompileSchema("extraction.json", `{
  "type": "object",
  "required": ["items"],
  "properties": {
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["part_number"],
        "properties": {
          "part_number": {"type": "string"},
          "description": {"type": ["string", "null"]},
          "quantity": {"type": ["number", "string", "null"]},
          "unit_price": {"type": ["number", "string", "null"]},
          "total_price": {"type": ["number", "string", "null"]},
          "currency": {"type": ["string", "null"]},
          "availability": {"type": ["string", "null"]},
          "lead_time": {"type": ["string", "number", "null"]},
          "availability_note": {"type": ["string", "null"]},
          "valid_until": {"type": ["string", "null"]}
        }
      }
    }
  }
}`)

const systemPrompt = `You extract supplier price quotes from procurement conversations and documents. Report only what the supplier actually stated. Never invent prices, and leave a field null when the supplier did not give it.`

const userPromptTemplate = `The buyer asked this supplier for the following parts:
%s
Read the %s below and return a JSON object with exactly this shape:
{"items": [{"part_number": "...", "description": "...", "quantity": 0, "unit_price": 0.0, "total_price": 0.0, "currency": "USD", "availability": "in stock | backordered | out of stock | special order | unknown", "lead_time": "e.g. 2 days, 3 weeks", "availability_note": "...", "valid_until": "YYYY-MM-DD"}]}

Use the part numbers as the supplier said them. Include a part only if the supplier gave a price or said it cannot be supplied.

%s:
%s`

func buildMessages(in Input) []llm.Message {
	var parts strings.Builder
	for _, it := range in.Items {
		fmt.Fprintf(&parts, "- %s", it.PartNumber)
		if it.Description != "" {
			fmt.Fprintf(&parts, " (%s)", it.Description)
		}
		fmt.Fprintf(&parts, ", qty %d\n", it.Quantity)
	}
	if parts.Len() == 0 {
		parts.WriteString("- (no part list available)\n")
	}

	label := sourceLabel(in.Source)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(userPromptTemplate, parts.String(), strings.ToLower(label), label, in.Text)},
	}
}

func sourceLabel(s quotes.Source) string {
	switch s {
	case quotes.SourceEmail:
		return "Email reply"
	case quotes.SourcePDF:
		return "Attached quote document"
	default:
		return "Call transcript"
	}
}

// RenderTranscript flattens a call transcript into speaker-labelled lines.
// Prices the agent captured live are appended as hints.
func RenderTranscript(turns []callstate.Turn, captured []callstate.QuoteDraft) string {
	var b strings.Builder
	for _, t := range turns {
		switch t.Speaker {
		case callstate.SpeakerAgent:
			b.WriteString("Buyer: ")
		case callstate.SpeakerCounterparty:
			b.WriteString("Supplier: ")
		default:
			b.WriteString("[system] ")
		}
		b.WriteString(t.Text)
		b.WriteByte('\n')
	}
	if len(captured) > 0 {
		b.WriteString("\nNotes taken during the call:\n")
		for _, d := range captured {
			fmt.Fprintf(&b, "- %s:", d.PartNumber)
			if d.Price != nil {
				fmt.Fprintf(&b, " $%.2f", *d.Price)
			}
			if d.Availability != "" {
				fmt.Fprintf(&b, ", %s", d.Availability)
			}
			if d.LeadTimeDays != nil {
				fmt.Fprintf(&b, ", lead time %d days", *d.LeadTimeDays)
			}
			if d.Notes != "" {
				fmt.Fprintf(&b, " (%s)", d.Notes)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
