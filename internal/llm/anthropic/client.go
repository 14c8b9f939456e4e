// Package anthropic implements llm.Provider over the Anthropic Messages
// API. Grounded on the teacher's internal/llm/anthropic client: same SDK
// and tracing/logging helpers, narrowed to the Chat/StreamChat surface this
// system needs (no tool use, no extended thinking, no prompt caching).
package anthropic

import (
	"context"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/observability"
)

const defaultMaxTokens int64 = 4096

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
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(sdk.ModelClaude3_7SonnetLatest)
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model}
}

func adaptMessages(msgs []llm.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == llm.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		} else {
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return out
}

func (c *Client) params(system string, msgs []llm.Message) sdk.MessageNewParams {
	p := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		Messages:  adaptMessages(msgs),
		MaxTokens: defaultMaxTokens,
	}
	if system != "" {
		p.System = []sdk.TextBlockParam{{Text: system}}
	}
	return p
}

func (c *Client) Chat(ctx context.Context, system string, msgs []llm.Message) (string, llm.Usage, error) {
	params := c.params(system, msgs)
	log := observability.LoggerWithTrace(ctx)

	ctx, span := llm.StartRequestSpan(ctx, "Anthropic Chat", string(params.Model), 0, len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("anthropic_chat_error")
		return "", llm.Usage{}, err
	}

	usage := llm.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	llm.RecordTokenAttributes(span, usage.InputTokens, usage.OutputTokens, usage.Total())
	llm.RecordTokenMetrics(string(params.Model), usage.InputTokens, usage.OutputTokens)

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(sdk.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	llm.LogRedactedResponse(ctx, resp)
	log.Debug().Str("model", string(params.Model)).Dur("duration", dur).
		Int("prompt_tokens", usage.InputTokens).Int("completion_tokens", usage.OutputTokens).
		Msg("anthropic_chat_ok")
	return text.String(), usage, nil
}

func (c *Client) StreamChat(ctx context.Context, system string, msgs []llm.Message, onToken func(string)) (string, llm.Usage, error) {
	params := c.params(system, msgs)
	log := observability.LoggerWithTrace(ctx)

	ctx, span := llm.StartRequestSpan(ctx, "Anthropic ChatStream", string(params.Model), 0, len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	stream := c.sdk.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var acc sdk.Message
	var text strings.Builder
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			log.Debug().Err(err).Msg("anthropic_accumulate_error")
		}
		if delta, ok := event.AsAny().(sdk.ContentBlockDeltaEvent); ok {
			if td, ok := delta.Delta.AsAny().(sdk.TextDelta); ok && td.Text != "" {
				text.WriteString(td.Text)
				if onToken != nil {
					onToken(td.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Msg("anthropic_stream_error")
		return "", llm.Usage{}, err
	}

	usage := llm.Usage{InputTokens: int(acc.Usage.InputTokens), OutputTokens: int(acc.Usage.OutputTokens)}
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
