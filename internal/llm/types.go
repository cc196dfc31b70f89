package llm

import "context"

// Provider is a chat model backend. The negotiation turn and quote
// extraction each hold their own Provider so they can run on different
// models.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Name() string
}

// Purpose names what a provider is used for. It labels latency metrics.
type Purpose string

const (
	PurposeTurn       Purpose = "turn"
	PurposeExtraction Purpose = "extraction"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message. Call transcripts are flattened into user
// and assistant messages before they reach a provider.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest asks for one reply. An empty Model falls back to the
// provider's configured model, and a zero MaxTokens to its default.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSONMode asks the provider for a single JSON object. Callers still
	// validate the result with a Schema.
	JSONMode bool
}

// CompletionResponse carries the reply text plus the token usage and stop
// reason reported by the backend, when it reports them.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	FinishReason string
}
