// Package openai implements llm.Provider over the OpenAI Chat Completions
// API (and any OpenAI-wire-compatible self-hosted endpoint reached by
// setting BaseURL). Grounded on the teacher's internal/llm/openai client:
// same SDK, same tracing/logging helpers, narrowed to the Chat/StreamChat
// surface this system needs.
package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/observability"
)

// Config configures an OpenAI (or OpenAI-wire-compatible) client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

type Client struct {
	sdk   sdk.Client
	model string
}

func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	return &Client{sdk: sdk.NewClient(opts...), model: cfg.Model}
}

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == llm.RoleAssistant {
			out = append(out, sdk.AssistantMessage(m.Content))
		} else {
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

func (c *Client) params(system string, msgs []llm.Message, model string) sdk.ChatCompletionNewParams {
	effectiveModel := model
	if effectiveModel == "" {
		effectiveModel = c.model
	}
	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(effectiveModel)}
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		messages = append(messages, sdk.SystemMessage(system))
	}
	messages = append(messages, adaptMessages(msgs)...)
	params.Messages = messages
	return params
}

// Chat implements llm.Provider.Chat.
func (c *Client) Chat(ctx context.Context, system string, msgs []llm.Message) (string, llm.Usage, error) {
	params := c.params(system, msgs, "")
	log := observability.LoggerWithTrace(ctx)

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI Chat", string(params.Model), 0, len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("openai_chat_error")
		return "", llm.Usage{}, err
	}

	usage := llm.Usage{InputTokens: int(comp.Usage.PromptTokens), OutputTokens: int(comp.Usage.CompletionTokens)}
	llm.RecordTokenAttributes(span, usage.InputTokens, usage.OutputTokens, usage.Total())
	llm.RecordTokenMetrics(string(params.Model), usage.InputTokens, usage.OutputTokens)

	text := ""
	if len(comp.Choices) > 0 {
		text = comp.Choices[0].Message.Content
	}
	llm.LogRedactedResponse(ctx, comp)
	log.Debug().Str("model", string(params.Model)).Dur("duration", dur).
		Int("prompt_tokens", usage.InputTokens).Int("completion_tokens", usage.OutputTokens).
		Msg("openai_chat_ok")
	return text, usage, nil
}

// StreamChat implements llm.Provider.StreamChat.
func (c *Client) StreamChat(ctx context.Context, system string, msgs []llm.Message, onToken func(string)) (string, llm.Usage, error) {
	params := c.params(system, msgs, "")
	params.StreamOptions.IncludeUsage = sdk.Bool(true)
	log := observability.LoggerWithTrace(ctx)

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI ChatStream", string(params.Model), 0, len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var text strings.Builder
	var usage llm.Usage
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			usage = llm.Usage{InputTokens: int(chunk.Usage.PromptTokens), OutputTokens: int(chunk.Usage.CompletionTokens)}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			text.WriteString(delta)
			if onToken != nil {
				onToken(delta)
			}
		}
	}
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Msg("openai_stream_error")
		return "", llm.Usage{}, err
	}

	if usage.Total() == 0 {
		usage = llm.Usage{InputTokens: llm.EstimateTokensForMessages(msgs), OutputTokens: llm.EstimateTokens(text.String())}
	}
	llm.RecordTokenAttributes(span, usage.InputTokens, usage.OutputTokens, usage.Total())
	llm.RecordTokenMetrics(string(params.Model), usage.InputTokens, usage.OutputTokens)
	return text.String(), usage, nil
}

func (c *Client) EstimateTokens(text string) int { return llm.EstimateTokens(text) }

func (c *Client) WouldExceedBudget(msgs []llm.Message, maxContextTokens int) bool {
	return llm.EstimateTokensForMessages(msgs) > maxContextTokens
}

var _ llm.Provider = (*Client)(nil)
