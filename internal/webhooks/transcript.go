package webhooks

import (
	"strings"
	"time"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
	"github.com/ziadkadry99/quote-caller/internal/vendor"
)

// vendorTranscript converts the vendor's message artifact into turns.
// System prompts and tool traffic are dropped.
func vendorTranscript(payload map[string]any) []callstate.Turn {
	messages := vendor.Slice(payload, "artifact", "messages")
	if len(messages) == 0 {
		messages = vendor.Slice(payload, "messages")
	}

	var turns []callstate.Turn
	for _, m := range messages {
		entry, ok := m.(map[string]any)
		if !ok {
			continue
		}
		var speaker callstate.Speaker
		switch strings.ToLower(vendor.String(entry, "role")) {
		case "bot", "assistant":
			speaker = callstate.SpeakerAgent
		case "user", "customer":
			speaker = callstate.SpeakerCounterparty
		default:
			continue
		}
		text := vendor.String(entry, "message")
		if text == "" {
			text = vendor.String(entry, "content")
		}
		if text == "" {
			continue
		}
		turns = append(turns, callstate.Turn{Speaker: speaker, Text: text, Timestamp: messageTime(entry)})
	}
	return turns
}

// messageTime reads the vendor's millisecond epoch timestamp.
func messageTime(entry map[string]any) time.Time {
	if ms, ok := entry["time"].(float64); ok && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return time.Time{}
}

// mergeTranscript prefers whichever transcript has more turns. Either side
// can miss turns: the vendor's artifact when a report is truncated, the
// local history when a turn raced with the end of the call.
func mergeTranscript(local, fromVendor []callstate.Turn) []callstate.Turn {
	if len(fromVendor) > len(local) {
		return fromVendor
	}
	return local
}
