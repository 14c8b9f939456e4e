// Package llm is the uniform provider abstraction chat turns, summarization
// and RAG answers are built on: a narrow Chat/StreamChat/EstimateTokens/
// WouldExceedBudget capability set implemented by internal/llm/openai,
// internal/llm/anthropic and internal/llm/local, composed by Gateway into a
// primary/fallback chain. Keeps the teacher's openai-go/anthropic-sdk-go
// call idiom and its OTel tracing/token-metric helpers (observability.go)
// but drops the tool-calling, image-generation and multi-API surface the
// teacher's richer agent runtime needed and this system does not.
package llm

import (
	"context"

	"github.com/kestrel-ai/chatplane/internal/observability"
)

// Role is a conversation turn's speaker. Only user/assistant appear on the
// wire; the system prompt is a separate parameter resolved by Gateway.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation passed to a provider.
type Message struct {
	Role    Role
	Content string
}

// Usage reports token accounting for one completion. Providers populate it
// from native response metadata when available, else callers fall back to
// EstimateTokens.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Provider is the capability set every LLM backend implements.
type Provider interface {
	// Chat performs one unary completion given an optional system prompt and
	// the conversation so far.
	Chat(ctx context.Context, system string, msgs []Message) (string, Usage, error)
	// StreamChat performs the same completion incrementally, invoking
	// onToken for each delta. Returns the full accumulated text and usage on
	// success. A non-nil onToken is always safe to call; a nil onToken is
	// treated as "discard deltas".
	StreamChat(ctx context.Context, system string, msgs []Message, onToken func(string)) (string, Usage, error)
	// EstimateTokens is a cheap heuristic token count, used for budget
	// checks and as a usage fallback when native metadata is unavailable.
	EstimateTokens(text string) int
	// WouldExceedBudget reports whether msgs' estimated token count exceeds
	// maxContextTokens.
	WouldExceedBudget(msgs []Message, maxContextTokens int) bool
}

// Embedder is an additional capability the local provider offers: 768-
// dimensional cosine embeddings for document chunks and RAG queries.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EstimateTokens is the shared heuristic (approximately one token per four
// characters) used by every provider's EstimateTokens method.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return len([]rune(s))/4 + 1
}

// EstimateTokensForMessages sums EstimateTokens over a message slice.
func EstimateTokensForMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
	}
	return total
}

// blockedMarker is a placeholder text for a unary response the provider
// withheld on safety grounds. No provider in this module references
// blockedMarker or logBlocked: a safety-blocked response is not replaced
// with this marker or logged as blocked.
const blockedMarker = "[response withheld by provider safety filter]"

func logBlocked(ctx context.Context, provider string) {
	observability.LoggerWithTrace(ctx).Warn().Str("provider", provider).Msg("llm_response_blocked")
}
