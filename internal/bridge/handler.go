// Package bridge serves the OpenAI-compatible chat-completions endpoint the
// voice vendor polls once per conversational turn. Each request is
// stateless: state is loaded from the call state store, advanced by the
// turn processor and written back before the next utterance is returned.
package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ziadkadry99/quote-caller/internal/callstate"
	"github.com/ziadkadry99/quote-caller/internal/negotiation"
	"github.com/ziadkadry99/quote-caller/internal/quotes"
	"github.com/ziadkadry99/quote-caller/internal/vendor"
)

const (
	// FallbackLine is spoken whenever a turn cannot be processed.
	FallbackLine = "Sorry, I'm having a little trouble on my end. Could you give me just a moment?"
	closedLine   = "Thanks again for your help today. Goodbye."

	maxBodyBytes = 1 << 20
)

// Options configure a Handler.
type Options struct {
	// Secret is the shared bearer token. Empty disables authentication
	// unless the placeholder allowance is on.
	Secret string
	// AcceptPlaceholderToken temporarily admits the vendor's placeholder
	// token while the real secret is rolled out on the vendor side.
	AcceptPlaceholderToken bool
	PlaceholderToken       string

	MaxNegotiationAttempts int
	Logger                 *slog.Logger
	Fallbacks              *prometheus.CounterVec
	Now                    func() time.Time
}

// Handler answers turn requests.
type Handler struct {
	states    callstate.Store
	quotes    *quotes.Store
	processor *negotiation.Processor
	opts      Options
}

// NewHandler creates a Handler.
func NewHandler(states callstate.Store, quoteStore *quotes.Store, processor *negotiation.Processor, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxNegotiationAttempts <= 0 {
		opts.MaxNegotiationAttempts = 2
	}
	return &Handler{states: states, quotes: quoteStore, processor: processor, opts: opts}
}

// RegisterRoutes mounts the bridge under /api/bridge. Vendors append
// /chat/completions to the configured base URL.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/api/bridge/chat/completions", h.ServeHTTP)
	r.Post("/api/bridge/v1/chat/completions", h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stream := false
	model := ""
	defer func() {
		if rec := recover(); rec != nil {
			h.opts.Logger.Error("bridge panic", "panic", rec)
			h.fallback(w, stream, model, "internal")
		}
	}()

	if !h.authorized(r) {
		h.countFallback("auth")
		writeUnauthorized(w)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.opts.Logger.Warn("reading bridge request", "error", err)
		h.fallback(w, false, "", "bad_request")
		return
	}
	var req completionRequest
	var raw map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		h.opts.Logger.Warn("decoding bridge request", "error", err)
		h.fallback(w, false, "", "bad_request")
		return
	}
	_ = json.Unmarshal(body, &raw)
	stream, model = req.Stream, req.Model

	callID := vendor.CallLogID(raw)
	if callID == "" {
		h.opts.Logger.Warn("bridge request without call log id", "external_call_id", vendor.ExternalCallID(raw))
		h.fallback(w, stream, model, "missing_call_id")
		return
	}
	log := h.opts.Logger.With("call_id", callID)
	utterance := lastUserUtterance(req.Messages)

	ctx := r.Context()
	seed := h.quotes.SeedState(ctx, callID, vendor.ExternalCallID(raw), h.opts.MaxNegotiationAttempts)
	var res *negotiation.TurnResult
	_, err = h.states.Mutate(ctx, callID, func(current *callstate.CallState) (*callstate.CallState, error) {
		st, err := seed(current)
		if err != nil {
			return nil, err
		}
		if st == nil {
			st = current
		}
		res = h.processor.Process(ctx, st, utterance)
		return st, nil
	})

	switch {
	case errors.Is(err, quotes.ErrCallClosed):
		log.Info("turn for a closed call")
		writeReply(w, stream, newReply(model, closedLine, true, h.opts.Now()))
		return
	case errors.Is(err, quotes.ErrNotFound):
		log.Warn("turn for unknown call")
		h.fallback(w, stream, model, "unknown_call")
		return
	case err != nil:
		log.Error("turn state update failed", "error", err)
		h.fallback(w, stream, model, "store")
		return
	}

	if res.Result == negotiation.ResultProviderError {
		h.countFallback("provider")
	}
	log.Debug("turn processed", "node", res.Node, "result", res.Result, "end_call", res.EndCall)
	writeReply(w, stream, newReply(model, res.Utterance, res.EndCall, h.opts.Now()))
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.opts.Secret == "" && !h.opts.AcceptPlaceholderToken {
		return true
	}
	token := vendor.BearerToken(r)
	if vendor.TokenMatches(token, h.opts.Secret) {
		return true
	}
	if h.opts.AcceptPlaceholderToken && vendor.TokenMatches(token, h.opts.PlaceholderToken) {
		h.opts.Logger.Warn("bridge accepted placeholder token")
		return true
	}
	return false
}

// fallback always answers 200 with a speakable sentence so the live call
// stays coherent.
func (h *Handler) fallback(w http.ResponseWriter, stream bool, model, reason string) {
	h.countFallback(reason)
	writeReply(w, stream, newReply(model, FallbackLine, false, h.opts.Now()))
}

func (h *Handler) countFallback(reason string) {
	if h.opts.Fallbacks != nil {
		h.opts.Fallbacks.WithLabelValues(reason).Inc()
	}
}

// lastUserUtterance returns the newest user message, or "" when the agent
// spoke last and the counterparty has said nothing since.
func lastUserUtterance(messages []openai.ChatCompletionMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role {
		case openai.ChatMessageRoleUser:
			return messageText(messages[i])
		case openai.ChatMessageRoleAssistant:
			return ""
		}
	}
	return ""
}

func messageText(m openai.ChatCompletionMessage) string {
	if m.Content != "" || len(m.MultiContent) == 0 {
		return strings.TrimSpace(m.Content)
	}
	var parts []string
	for _, p := range m.MultiContent {
		if p.Type == openai.ChatMessagePartTypeText && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
