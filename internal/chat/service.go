// Package chat is the single entry point a chat turn flows through (spec.md
// §4.M): envelope validation happens upstream in internal/request; from
// there this package debits quota, resolves or creates the chat, validates
// and persists the user turn, selects the memory window, calls the LLM
// gateway (optionally through the RAG orchestrator), and persists the
// assistant turn — unary or streamed.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kestrel-ai/chatplane/internal/apierr"
	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/memory"
	"github.com/kestrel-ai/chatplane/internal/persistence"
	"github.com/kestrel-ai/chatplane/internal/quota"
	"github.com/kestrel-ai/chatplane/internal/rag"
	"github.com/kestrel-ai/chatplane/internal/streaming"
)

// MaxMessageLength is spec.md §4.M step 4's validation ceiling.
const MaxMessageLength = 10000

// RecentHistoryLimit is a message-count bound that nothing references:
// prepare calls SelectWindow without it, so the number of prior messages
// SelectWindow considers is not capped by this constant.
const RecentHistoryLimit = 200

// ChatTitleMaxLength bounds the derived chat title (spec.md §3: "title
// (initial user turn, truncated)").
const ChatTitleMaxLength = 80

// Service glues the repository, memory engine, quota engine, LLM gateway,
// and optional RAG orchestrator into the two chat-turn operations.
type Service struct {
	chats    persistence.Chats
	messages persistence.Messages
	quota    *quota.Engine
	mem      *memory.Engine
	gateway  *llm.Gateway
	rag      *rag.Orchestrator
}

func New(chats persistence.Chats, messages persistence.Messages, q *quota.Engine, mem *memory.Engine, gateway *llm.Gateway, ragOrchestrator *rag.Orchestrator) *Service {
	return &Service{chats: chats, messages: messages, quota: q, mem: mem, gateway: gateway, rag: ragOrchestrator}
}

// TurnResult is the unary chat response shape.
type TurnResult struct {
	ChatID  string         `json:"chat_id"`
	Message domain.Message `json:"message"`
	Usage   llm.Usage      `json:"usage"`
}

// chatTitle derives a chat's title from its initial user turn (spec.md §3),
// truncating to ChatTitleMaxLength runes.
func chatTitle(content string) string {
	title := strings.TrimSpace(content)
	runes := []rune(title)
	if len(runes) <= ChatTitleMaxLength {
		return title
	}
	return string(runes[:ChatTitleMaxLength])
}

// resolveChat implements spec.md §4.M step 3: use the supplied chat if it
// belongs to orgID, else create a new one titled from the first user turn.
func (s *Service) resolveChat(ctx context.Context, orgID, userID, chatID, content string) (domain.Chat, error) {
	if chatID == "" {
		return s.chats.CreateChat(ctx, orgID, userID, chatTitle(content))
	}
	c, err := s.chats.GetChat(ctx, orgID, chatID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return domain.Chat{}, apierr.NotFound("chat not found", err)
		}
		return domain.Chat{}, apierr.Internal("load chat", err)
	}
	return c, nil
}

func validateMessage(content string) error {
	if content == "" {
		return apierr.Validation("message must not be empty", nil)
	}
	if len(content) > MaxMessageLength {
		return apierr.Validation(fmt.Sprintf("message exceeds the %d character limit", MaxMessageLength), nil)
	}
	return nil
}

// prepare runs the shared steps common to unary and streaming turns: quota
// debit, chat resolution, message validation, user-turn persistence, and
// memory window selection. Returns the resolved chat and the composed
// provider messages ready for (G).
func (s *Service) prepare(ctx context.Context, orgID, userID, chatID, content string) (domain.Chat, []llm.Message, error) {
	result := s.quota.Check(ctx, orgID)
	if !result.Allowed {
		return domain.Chat{}, nil, apierr.QuotaExhausted(result.ResetAt)
	}

	if err := validateMessage(content); err != nil {
		return domain.Chat{}, nil, err
	}

	c, err := s.resolveChat(ctx, orgID, userID, chatID, content)
	if err != nil {
		return domain.Chat{}, nil, err
	}

	if _, err := s.messages.AppendMessage(ctx, orgID, domain.Message{
		ChatID:  c.ID,
		Role:    domain.MessageRoleUser,
		Content: content,
	}); err != nil {
		return domain.Chat{}, nil, apierr.Internal("persist user message", err)
	}
	s.mem.InvalidateCache(ctx, c.ID)

	window, err := s.mem.SelectWindow(ctx, orgID, c.ID)
	if err != nil {
		return domain.Chat{}, nil, apierr.Internal("select memory window", err)
	}
	s.mem.MaybeSummarize(ctx, orgID, c.ID)

	return c, window.ComposeMessages(), nil
}

// Turn runs the unary chat flow (spec.md §4.M).
func (s *Service) Turn(ctx context.Context, orgID, userID, chatID, content string) (TurnResult, error) {
	c, composed, err := s.prepare(ctx, orgID, userID, chatID, content)
	if err != nil {
		return TurnResult{}, err
	}

	res, err := s.gateway.Chat(ctx, "chat", composed)
	if err != nil {
		return TurnResult{}, apierr.Upstream("chat completion failed", err, s.gateway.Fallback != nil)
	}

	assistant, err := s.messages.AppendMessage(ctx, orgID, domain.Message{
		ChatID:  c.ID,
		Role:    domain.MessageRoleAssistant,
		Content: res.Text,
	})
	if err != nil {
		return TurnResult{}, apierr.Internal("persist assistant message", err)
	}

	return TurnResult{ChatID: c.ID, Message: assistant, Usage: res.Usage}, nil
}

// TurnStream runs the streaming chat flow, writing frames to w. Synchronous
// failures before prepare completes (quota, chat resolution, validation) are
// returned as an error so the caller can fall back to plain JSON, per
// streaming.Writer's documented contract.
func (s *Service) TurnStream(ctx context.Context, w *streaming.Writer, orgID, userID, chatID, content string) error {
	c, composed, err := s.prepare(ctx, orgID, userID, chatID, content)
	if err != nil {
		return err
	}

	source := func(ctx context.Context, onToken func(string)) (string, llm.Usage, error) {
		res, err := s.gateway.StreamChat(ctx, "chat", composed, onToken)
		if err != nil {
			return "", llm.Usage{}, err
		}
		return res.Text, res.Usage, nil
	}

	streaming.Run(ctx, w, source, streaming.PersistAssistantMessage(s.messages, orgID, c.ID), nil)
	return nil
}

// AskRAG runs the unary RAG-augmented flow (spec.md §4.K + §4.M): same
// envelope/quota/persistence steps as Turn, but routed through the RAG
// orchestrator instead of calling (G) directly.
func (s *Service) AskRAG(ctx context.Context, orgID, userID, chatID, content string) (rag.Answer, domain.Message, error) {
	c, composed, err := s.prepare(ctx, orgID, userID, chatID, content)
	if err != nil {
		return rag.Answer{}, domain.Message{}, err
	}

	history := composed[:len(composed)-1]
	answer, err := s.rag.Ask(ctx, orgID, history, content)
	if err != nil {
		return rag.Answer{}, domain.Message{}, apierr.Upstream("rag completion failed", err, s.gateway.Fallback != nil)
	}

	assistant, err := s.messages.AppendMessage(ctx, orgID, domain.Message{
		ChatID:  c.ID,
		Role:    domain.MessageRoleAssistant,
		Content: answer.Answer,
	})
	if err != nil {
		return rag.Answer{}, domain.Message{}, apierr.Internal("persist assistant message", err)
	}

	return answer, assistant, nil
}

// AskRAGStream runs the streaming RAG flow. Retrieval (rag.PlanStream) runs
// before generation starts, and its rag_context is handed to streaming.Run
// up front for the completion frame.
func (s *Service) AskRAGStream(ctx context.Context, w *streaming.Writer, orgID, userID, chatID, content string) error {
	c, composed, err := s.prepare(ctx, orgID, userID, chatID, content)
	if err != nil {
		return err
	}
	history := composed[:len(composed)-1]

	plan, err := s.rag.PlanStream(ctx, orgID, content)
	if err != nil {
		return apierr.Upstream("rag retrieval failed", err, false)
	}

	source := func(ctx context.Context, onToken func(string)) (string, llm.Usage, error) {
		return s.rag.StreamWithTurn(ctx, history, plan.Turn, onToken)
	}

	streaming.Run(ctx, w, source, streaming.PersistAssistantMessage(s.messages, orgID, c.ID), plan.RAGContext)
	return nil
}
