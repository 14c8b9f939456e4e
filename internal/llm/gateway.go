package llm

import (
	"context"
	"time"

	"github.com/kestrel-ai/chatplane/internal/observability"
)

// PromptResolver is the narrow slice of internal/prompts.Registry Gateway
// needs: resolve the active system prompt by name, and record usage
// statistics against whichever version served the call. Defined here rather
// than imported to keep internal/llm free of a dependency on the prompt
// registry's storage concerns.
type PromptResolver interface {
	Active(ctx context.Context, name string) (id, content string, err error)
	RecordStats(ctx context.Context, id string, totalTokens int, latencyMS float64)
}

// builtinPrompts back-stop prompt names that have no active registry entry
// (spec §4.G: "if no active prompt, a built-in fallback is used and
// logged").
var builtinPrompts = map[string]string{
	"chat":          "You are a helpful assistant.",
	"summarization": "Summarize the conversation so far concisely, preserving names, decisions and open questions.",
	"rag_answer":    "Answer the user's question using the provided document excerpts when relevant. Cite documents by number. Fall back to general knowledge if the excerpts don't answer the question.",
}

// ChatResult is the outcome of a Gateway call: the served text, its usage,
// and which provider ("primary" or "fallback") produced it.
type ChatResult struct {
	Text     string
	Usage    Usage
	Provider string
}

// Gateway composes a primary provider with an optional fallback and resolves
// the active system prompt per call (spec §4.G). Fallback is omitted by
// passing a nil fallback provider.
type Gateway struct {
	Primary  Provider
	Fallback Provider
	Resolver PromptResolver
}

func NewGateway(primary, fallback Provider, resolver PromptResolver) *Gateway {
	return &Gateway{Primary: primary, Fallback: fallback, Resolver: resolver}
}

func (g *Gateway) systemPrompt(ctx context.Context, name string) (system, promptID string) {
	if g.Resolver == nil {
		return builtinPrompts[name], ""
	}
	id, content, err := g.Resolver.Active(ctx, name)
	if err != nil {
		log := observability.LoggerWithTrace(ctx)
		log.Warn().Err(err).Str("prompt_name", name).Msg("llm_prompt_fallback_to_builtin")
		return builtinPrompts[name], ""
	}
	return content, id
}

func (g *Gateway) recordStats(ctx context.Context, promptID string, usage Usage, latency time.Duration) {
	if promptID == "" || g.Resolver == nil {
		return
	}
	g.Resolver.RecordStats(ctx, promptID, usage.Total(), float64(latency.Milliseconds()))
}

// Chat resolves promptName's active system prompt, calls the primary
// provider, and on failure retries against the fallback (if configured).
func (g *Gateway) Chat(ctx context.Context, promptName string, msgs []Message) (ChatResult, error) {
	system, promptID := g.systemPrompt(ctx, promptName)
	start := timeNow()

	text, usage, err := g.Primary.Chat(ctx, system, msgs)
	served := "primary"
	if err != nil {
		if g.Fallback == nil {
			return ChatResult{}, err
		}
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("llm_primary_failed_attempting_fallback")
		text, usage, err = g.Fallback.Chat(ctx, system, msgs)
		served = "fallback"
		if err != nil {
			return ChatResult{}, err
		}
	}

	g.recordStats(ctx, promptID, usage, timeNow().Sub(start))
	return ChatResult{Text: text, Usage: usage, Provider: served}, nil
}

// StreamChat is Chat's streaming counterpart. Fallback only activates if the
// primary fails before emitting any token (spec §4.G) — partial streams are
// never retried across providers.
func (g *Gateway) StreamChat(ctx context.Context, promptName string, msgs []Message, onToken func(string)) (ChatResult, error) {
	system, promptID := g.systemPrompt(ctx, promptName)
	start := timeNow()

	emitted := false
	wrapped := func(tok string) {
		emitted = true
		if onToken != nil {
			onToken(tok)
		}
	}

	text, usage, err := g.Primary.StreamChat(ctx, system, msgs, wrapped)
	served := "primary"
	if err != nil {
		if emitted || g.Fallback == nil {
			return ChatResult{}, err
		}
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("llm_primary_stream_failed_before_token_attempting_fallback")
		text, usage, err = g.Fallback.StreamChat(ctx, system, msgs, wrapped)
		served = "fallback"
		if err != nil {
			return ChatResult{}, err
		}
	}

	g.recordStats(ctx, promptID, usage, timeNow().Sub(start))
	return ChatResult{Text: text, Usage: usage, Provider: served}, nil
}
