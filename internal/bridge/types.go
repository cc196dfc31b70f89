package bridge

import (
	openai "github.com/sashabaranov/go-openai"
)

// EndCallTool is the function name the vendor treats as a hang-up signal.
const EndCallTool = "endCall"

// completionRequest is the vendor's chat-completions request. The call
// identifiers are read from the raw payload since their nesting varies.
type completionRequest struct {
	Model    string                         `json:"model"`
	Messages []openai.ChatCompletionMessage `json:"messages"`
	Stream   bool                           `json:"stream"`
}

// completionResponse is a standard chat completion plus an explicit
// end-of-call flag for vendors that do not read tool calls.
type completionResponse struct {
	openai.ChatCompletionResponse
	EndCall bool `json:"end_call,omitempty"`
}

// streamChunk is one SSE event of a streamed completion.
type streamChunk struct {
	openai.ChatCompletionStreamResponse
	EndCall bool `json:"end_call,omitempty"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
