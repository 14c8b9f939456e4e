// Package local implements llm.Provider and llm.Embedder against an
// on-host inference endpoint (spec §4.G). Chat completion reuses
// internal/llm/openai's client since self-hosted servers (llama.cpp,
// mlx_lm.server, etc.) speak the OpenAI wire format; embeddings are called
// directly over HTTP, grounded on the teacher's internal/llm/embeddings.go.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/llm/openai"
)

const embeddingDimensions = 768

// Config points at a local, OpenAI-wire-compatible inference endpoint.
type Config struct {
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
}

type Client struct {
	*openai.Client
	httpClient     *http.Client
	baseURL        string
	embeddingModel string
}

func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		Client:         openai.New(openai.Config{BaseURL: cfg.BaseURL, Model: cfg.ChatModel}, httpClient),
		httpClient:     httpClient,
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		embeddingModel: cfg.EmbeddingModel,
	}
}

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed computes a single 768-dimensional cosine embedding for text via the
// local endpoint's /embeddings route.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, embeddingDimensions), nil
	}
	body, err := json.Marshal(embeddingRequest{Input: []string{text}, Model: c.embeddingModel, EncodingFormat: "float"})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, raw)
	}
	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding endpoint returned no vector")
	}
	return parsed.Data[0].Embedding, nil
}

var (
	_ llm.Provider = (*Client)(nil)
	_ llm.Embedder = (*Client)(nil)
)
