package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// reply is everything needed to render one turn in either wire form.
type reply struct {
	id      string
	model   string
	created int64
	text    string
	endCall bool
}

func newReply(model, text string, endCall bool, now time.Time) reply {
	if model == "" {
		model = "quotecall"
	}
	return reply{
		id:      "chatcmpl-" + uuid.New().String(),
		model:   model,
		created: now.Unix(),
		text:    text,
		endCall: endCall,
	}
}

func (rp reply) finishReason() openai.FinishReason {
	if rp.endCall {
		return openai.FinishReasonToolCalls
	}
	return openai.FinishReasonStop
}

func (rp reply) toolCalls(streamed bool) []openai.ToolCall {
	if !rp.endCall {
		return nil
	}
	call := openai.ToolCall{
		ID:   "call_" + rp.id[len("chatcmpl-"):],
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      EndCallTool,
			Arguments: "{}",
		},
	}
	if streamed {
		idx := 0
		call.Index = &idx
	}
	return []openai.ToolCall{call}
}

func (rp reply) completion() completionResponse {
	return completionResponse{
		ChatCompletionResponse: openai.ChatCompletionResponse{
			ID:      rp.id,
			Object:  "chat.completion",
			Created: rp.created,
			Model:   rp.model,
			Choices: []openai.ChatCompletionChoice{{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:      openai.ChatMessageRoleAssistant,
					Content:   rp.text,
					ToolCalls: rp.toolCalls(false),
				},
				FinishReason: rp.finishReason(),
			}},
		},
		EndCall: rp.endCall,
	}
}

// chunks renders the reply as exactly two stream events: the full content
// first, then an empty delta carrying the finish reason.
func (rp reply) chunks() []streamChunk {
	base := openai.ChatCompletionStreamResponse{
		ID:      rp.id,
		Object:  "chat.completion.chunk",
		Created: rp.created,
		Model:   rp.model,
	}

	first := base
	first.Choices = []openai.ChatCompletionStreamChoice{{
		Index: 0,
		Delta: openai.ChatCompletionStreamChoiceDelta{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   rp.text,
			ToolCalls: rp.toolCalls(true),
		},
	}}

	last := base
	last.Choices = []openai.ChatCompletionStreamChoice{{
		Index:        0,
		FinishReason: rp.finishReason(),
	}}

	return []streamChunk{
		{ChatCompletionStreamResponse: first},
		{ChatCompletionStreamResponse: last, EndCall: rp.endCall},
	}
}

func writeReply(w http.ResponseWriter, stream bool, rp reply) {
	if !stream {
		writeJSON(w, http.StatusOK, rp.completion())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for _, chunk := range rp.chunks() {
		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeUnauthorized(w http.ResponseWriter) {
	var body errorBody
	body.Error.Message = "invalid bearer token"
	body.Error.Type = "invalid_request_error"
	writeJSON(w, http.StatusUnauthorized, body)
}
