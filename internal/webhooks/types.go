package webhooks

import (
	"context"
	"strings"

	"github.com/ziadkadry99/quote-caller/internal/notifications"
)

// Event types sent by the voice vendor.
const (
	EventCallStarted     = "call-started"
	EventStatusUpdate    = "status-update"
	EventTranscript      = "transcript"
	EventCallEnded       = "call-ended"
	EventEndOfCallReport = "end-of-call-report"
	EventError           = "error"
)

// Handling results, used as the result label of the events metric.
const (
	resultHandled      = "handled"
	resultIgnored      = "ignored"
	resultDuplicate    = "duplicate"
	resultInvalid      = "invalid"
	resultError        = "error"
	resultUnauthorized = "unauthorized"
)

const (
	statusVoicemail  = "voicemail"
	statusInProgress = "in-progress"

	// DefaultSecretHeader carries the shared webhook secret.
	DefaultSecretHeader = "X-Vapi-Secret"

	maxBodyBytes = 4 << 20
)

// Scheduler queues extraction of a finished call.
type Scheduler interface {
	ScheduleCall(ctx context.Context, callLogID string) error
}

// Notifier informs the requester about calls that need attention.
type Notifier interface {
	Dispatch(ctx context.Context, n notifications.Notification) error
}

// Response is the acknowledgement returned for every event. Say and EndCall
// are set when the vendor should speak a final message and hang up.
type Response struct {
	OK      bool   `json:"ok"`
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
	Say     string `json:"say,omitempty"`
	EndCall bool   `json:"endCall,omitempty"`
}

// eventLabel bounds the metric label set to the known event types.
func eventLabel(t string) string {
	switch t {
	case EventCallStarted, EventStatusUpdate, EventTranscript, EventCallEnded, EventEndOfCallReport, EventError:
		return t
	}
	return "unknown"
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
