// Package providers builds the primary/fallback llm.Provider pair from
// configuration (spec §4.G: "a primary provider and an optional fallback are
// configured at startup"). Grounded on the teacher's internal/llm/providers
// factory, narrowed to the local/openai/anthropic provider set this system
// uses (the teacher's "google" case has no home in this spec — see
// DESIGN.md's Open Questions — and is dropped).
package providers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/llm/anthropic"
	"github.com/kestrel-ai/chatplane/internal/llm/local"
	"github.com/kestrel-ai/chatplane/internal/llm/openai"
)

// Config names the primary and optional fallback provider plus each
// backend's connection settings.
type Config struct {
	Primary  string
	Fallback string

	Local     local.Config
	OpenAI    openai.Config
	Anthropic anthropic.Config
}

func build(name string, cfg Config, httpClient *http.Client) (llm.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "local":
		return local.New(cfg.Local, httpClient), nil
	case "openai":
		return openai.New(cfg.OpenAI, httpClient), nil
	case "anthropic", "claude":
		return anthropic.New(cfg.Anthropic, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", name)
	}
}

// Build constructs the primary provider and, if configured, the fallback
// provider named in cfg.Fallback.
func Build(cfg Config, httpClient *http.Client) (primary, fallback llm.Provider, err error) {
	primary, err = build(cfg.Primary, cfg, httpClient)
	if err != nil {
		return nil, nil, fmt.Errorf("build primary provider: %w", err)
	}
	if strings.TrimSpace(cfg.Fallback) == "" {
		return primary, nil, nil
	}
	fallback, err = build(cfg.Fallback, cfg, httpClient)
	if err != nil {
		return nil, nil, fmt.Errorf("build fallback provider: %w", err)
	}
	return primary, fallback, nil
}

// BuildEmbedder constructs the local provider's embedding capability,
// independent of which provider is configured for chat — spec §4.I always
// embeds document chunks via the local provider regardless of chat backend.
func BuildEmbedder(cfg local.Config, httpClient *http.Client) llm.Embedder {
	return local.New(cfg, httpClient)
}
