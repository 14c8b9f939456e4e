// Package memory implements the conversation memory engine (spec.md §4.F):
// bounded-token window selection over a chat's message history, automatic
// summarization of older turns, and a kv-backed cache of the most recently
// selected window.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/kv"
	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/observability"
	"github.com/kestrel-ai/chatplane/internal/persistence"
)

// Config tunes window sizing and summarization triggers. Thresholds beyond
// those spec.md names explicit defaults for (max_context_tokens,
// summary_budget) are this package's own resolution of spec.md's Open
// Questions around exact trigger values — see DESIGN.md.
type Config struct {
	MaxContextTokens int
	SummaryBudget    int

	MessageCountThreshold     int
	TokenThreshold            int
	ReSummarizeDeltaThreshold int
	ReSummarizeSuppressWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxContextTokens:          8000,
		SummaryBudget:             500,
		MessageCountThreshold:     20,
		TokenThreshold:            8000,
		ReSummarizeDeltaThreshold: 10,
		ReSummarizeSuppressWindow: 24 * time.Hour,
	}
}

// Window is the bounded-token prompt context returned by SelectWindow.
type Window struct {
	Messages    []domain.Message `json:"messages"`
	Summary     *domain.Summary  `json:"summary,omitempty"`
	TotalTokens int              `json:"total_tokens"`
	Truncated   bool             `json:"truncated"`
}

// ComposeMessages builds the llm.Message sequence for (G), emitting the
// synthetic summary turn pair first when a summary is present (spec.md
// §4.F's "prompt composition for (G)").
func (w Window) ComposeMessages() []llm.Message {
	out := make([]llm.Message, 0, len(w.Messages)+2)
	if w.Summary != nil {
		out = append(out,
			llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("[Previous conversation summary: %s]", w.Summary.Text)},
			llm.Message{Role: llm.RoleAssistant, Content: "Understood, I have the context from our previous conversation."},
		)
	}
	for _, m := range w.Messages {
		out = append(out, toLLMMessage(m))
	}
	return out
}

func toLLMMessage(m domain.Message) llm.Message {
	role := llm.RoleUser
	if m.Role == domain.MessageRoleAssistant {
		role = llm.RoleAssistant
	}
	return llm.Message{Role: role, Content: m.Content}
}

func toLLMMessages(msgs []domain.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != domain.MessageRoleUser && m.Role != domain.MessageRoleAssistant {
			continue
		}
		out = append(out, toLLMMessage(m))
	}
	return out
}

// Engine assembles windows and triggers summarization. Messages/Summaries
// are the narrow persistence slices it needs, so callers can pass a full
// persistence.Repository or a test double satisfying just these.
type Engine struct {
	messages  persistence.Messages
	summaries persistence.Summaries
	cache     kv.Store
	gateway   *llm.Gateway
	cfg       Config
	now       func() time.Time
}

func New(messages persistence.Messages, summaries persistence.Summaries, cache kv.Store, gateway *llm.Gateway, cfg Config) *Engine {
	if cfg.MaxContextTokens <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{messages: messages, summaries: summaries, cache: cache, gateway: gateway, cfg: cfg, now: time.Now}
}

func cacheKey(chatID string) string { return "chat:" + chatID + ":recent" }

// SelectWindow implements spec.md §4.F's window-selection algorithm,
// serving the cached window when present.
func (e *Engine) SelectWindow(ctx context.Context, orgID, chatID string) (Window, error) {
	if w, ok := e.readCache(ctx, chatID); ok {
		return w, nil
	}

	var summary *domain.Summary
	s, err := e.summaries.LatestSummary(ctx, orgID, chatID)
	switch {
	case err == nil:
		summary = &s
	case errors.Is(err, persistence.ErrNotFound):
		// no summary yet, proceed without one
	default:
		return Window{}, err
	}

	all, err := e.messages.ListMessages(ctx, orgID, chatID, 0)
	if err != nil {
		return Window{}, err
	}

	budget := e.cfg.MaxContextTokens
	if summary != nil {
		budget -= summary.SummaryTokens
	}
	if budget < 0 {
		budget = 0
	}

	selected, total, truncated := selectNewestFirst(all, budget)
	w := Window{Messages: selected, Summary: summary, TotalTokens: total, Truncated: truncated}
	e.writeCache(ctx, chatID, w)
	return w, nil
}

// selectNewestFirst walks all newest-to-oldest, greedily prepending while
// the cumulative estimated token count stays within budget. The newest
// message is always included even if it alone exceeds budget.
func selectNewestFirst(all []domain.Message, budget int) (selected []domain.Message, total int, truncated bool) {
	n := len(all)
	if n == 0 {
		return nil, 0, false
	}
	included := 0
	for i := n - 1; i >= 0; i-- {
		tok := llm.EstimateTokens(all[i].Content)
		if included > 0 && total+tok > budget {
			break
		}
		total += tok
		included++
	}
	truncated = included < n
	selected = append([]domain.Message(nil), all[n-included:]...)
	return selected, total, truncated
}

// InvalidateCache drops the cached window for chatID. Called by the chat
// service on every new message (spec.md §4.F).
func (e *Engine) InvalidateCache(ctx context.Context, chatID string) {
	if err := e.cache.Delete(ctx, cacheKey(chatID)); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("chat_id", chatID).Msg("memory_cache_invalidate_failed")
	}
}

func (e *Engine) readCache(ctx context.Context, chatID string) (Window, bool) {
	raw, err := e.cache.Get(ctx, cacheKey(chatID))
	if err != nil {
		return Window{}, false
	}
	var w Window
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Window{}, false
	}
	return w, true
}

func (e *Engine) writeCache(ctx context.Context, chatID string, w Window) {
	raw, err := json.Marshal(w)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, cacheKey(chatID), string(raw), time.Hour); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("chat_id", chatID).Msg("memory_cache_write_failed")
	}
}

// MaybeSummarize evaluates spec.md §4.F's summarization triggers against
// chatID's full history and, if due, summarizes via (G) under the
// "summarization" prompt name. Summarization failure never propagates —
// it is logged and the turn continues with a sliding window only.
func (e *Engine) MaybeSummarize(ctx context.Context, orgID, chatID string) {
	log := observability.LoggerWithTrace(ctx)

	all, err := e.messages.ListMessages(ctx, orgID, chatID, 0)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("memory_summarize_list_messages_failed")
		return
	}

	totalTokens := llm.EstimateTokensForMessages(toLLMMessages(all))
	if len(all) <= e.cfg.MessageCountThreshold && totalTokens <= e.cfg.TokenThreshold {
		return
	}

	latest, err := e.summaries.LatestSummary(ctx, orgID, chatID)
	hasSummary := err == nil
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("memory_latest_summary_lookup_failed")
		return
	}

	if hasSummary {
		newSince := messagesSince(all, latest.EndMessageID)
		if e.now().Sub(latest.CreatedAt) < e.cfg.ReSummarizeSuppressWindow && newSince < e.cfg.ReSummarizeDeltaThreshold {
			return
		}
	}

	e.summarize(ctx, orgID, chatID, all)
}

func messagesSince(all []domain.Message, endMessageID string) int {
	for i, m := range all {
		if m.ID == endMessageID {
			return len(all) - (i + 1)
		}
	}
	return len(all)
}

func (e *Engine) summarize(ctx context.Context, orgID, chatID string, all []domain.Message) {
	log := observability.LoggerWithTrace(ctx)
	if len(all) == 0 {
		return
	}

	msgs := toLLMMessages(all)
	result, err := e.gateway.Chat(ctx, "summarization", msgs)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("memory_summarization_failed_continuing_with_window_only")
		return
	}

	s := domain.Summary{
		ChatID:         chatID,
		Text:           result.Text,
		StartMessageID: all[0].ID,
		EndMessageID:   all[len(all)-1].ID,
		MessageCount:   len(all),
		OriginalTokens: llm.EstimateTokensForMessages(msgs),
		SummaryTokens:  llm.EstimateTokens(result.Text),
	}
	if _, err := e.summaries.CreateSummary(ctx, orgID, s); err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("memory_summary_persist_failed")
		return
	}
	e.InvalidateCache(ctx, chatID)
}
