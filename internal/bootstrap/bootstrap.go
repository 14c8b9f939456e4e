// Package bootstrap wires concrete backends from internal/config into the
// interfaces the rest of the module depends on. Both cmd/server and
// cmd/worker share this construction so the two binaries can never drift
// on which backend a given config value selects.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/kestrel-ai/chatplane/internal/config"
	"github.com/kestrel-ai/chatplane/internal/kv"
	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/llm/providers"
	"github.com/kestrel-ai/chatplane/internal/memory"
	"github.com/kestrel-ai/chatplane/internal/objectstore"
	"github.com/kestrel-ai/chatplane/internal/observability"
	"github.com/kestrel-ai/chatplane/internal/persistence"
	memorystore "github.com/kestrel-ai/chatplane/internal/persistence/memory"
	"github.com/kestrel-ai/chatplane/internal/persistence/postgres"
	"github.com/kestrel-ai/chatplane/internal/queue"
	"github.com/kestrel-ai/chatplane/internal/queue/kafkaqueue"
	"github.com/kestrel-ai/chatplane/internal/queue/redisqueue"
	"github.com/kestrel-ai/chatplane/internal/vectorstore"
)

// NewRepository opens the persistence backend selected by cfg.Database.
func NewRepository(ctx context.Context, cfg config.Config) (persistence.Repository, error) {
	switch cfg.Database.Backend {
	case "postgres":
		return postgres.New(ctx, cfg.Database.DSN)
	default:
		return memorystore.New(), nil
	}
}

func redisClient(cfg config.RedisConfig) redis.UniversalClient {
	opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return redis.NewClient(opts)
}

// NewKV opens the key-value backend selected by cfg.KV.
func NewKV(ctx context.Context, cfg config.Config) (kv.Store, error) {
	if cfg.KV.Backend != "redis" {
		return kv.NewMemoryStore(), nil
	}
	return kv.NewRedisStore(ctx, kv.RedisConfig{
		Addr:                  cfg.Redis.Addr,
		Password:              cfg.Redis.Password,
		DB:                    cfg.Redis.DB,
		TLSInsecureSkipVerify: cfg.Redis.TLSInsecureSkipVerify,
	})
}

// NewQueue opens the background job queue backend selected by cfg.Queue.
// The redis backend opens its own client to cfg.Redis; the kafka backend
// keeps its dedup/archive bookkeeping in an in-process memory KV store; any
// other value yields the in-memory queue.
func NewQueue(cfg config.Config) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "redis":
		return redisqueue.New(redisClient(cfg.Redis)), nil
	case "kafka":
		return kafkaqueue.New(cfg.Queue.KafkaBrokers, kv.NewMemoryStore()), nil
	default:
		return queue.NewMemoryQueue(), nil
	}
}

// NewVectorStore opens the vector index backend selected by cfg.Vectorstore.
func NewVectorStore(cfg config.Config) (vectorstore.Store, error) {
	if cfg.Vectorstore.Backend != "qdrant" {
		return vectorstore.NewMemory(), nil
	}
	return vectorstore.NewQdrant(vectorstore.QdrantConfig{
		DSN:        cfg.Vectorstore.QdrantDSN,
		Collection: cfg.Vectorstore.Collection,
	})
}

// NewObjectStore opens the document blob backend selected by
// cfg.Objectstore.
func NewObjectStore(ctx context.Context, cfg config.Config) (objectstore.ObjectStore, error) {
	if cfg.Objectstore.Backend != "s3" {
		return objectstore.NewMemoryStore(), nil
	}
	return objectstore.NewS3Store(ctx, cfg.Objectstore.S3)
}

// NewProviders builds the chat primary/fallback providers plus the
// embedding client. Embeddings always go through the local provider
// (spec.md §4.G): it's the only one of the three that speaks the
// embeddings endpoint, independent of which provider serves chat.
func NewProviders(cfg config.Config) (primary, fallback llm.Provider, embedder llm.Embedder, err error) {
	httpClient := observability.NewHTTPClient(nil)
	primary, fallback, err = providers.Build(providers.Config{
		Primary:   cfg.LLM.Primary,
		Fallback:  cfg.LLM.Fallback,
		Local:     cfg.LLM.Local,
		OpenAI:    cfg.LLM.OpenAI,
		Anthropic: cfg.LLM.Anthropic,
	}, httpClient)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build llm providers: %w", err)
	}
	embedder = providers.BuildEmbedder(cfg.LLM.Local, httpClient)
	return primary, fallback, embedder, nil
}

// HTTPClient returns the shared, OTel-instrumented HTTP client used for
// every outbound call (LLM providers, vector/object store backends that
// speak HTTP).
func HTTPClient() *http.Client {
	return observability.NewHTTPClient(nil)
}

// NewMemoryConfig builds internal/memory's Config from cfg.Memory. A
// positive MaxContextTokens is used as is; config.Load defaults it to 8000,
// so that is the budget unless the operator sets it to zero. Only a zero or
// negative value falls back to half of the configured primary model's known
// context window (internal/llm's ContextSize table).
func NewMemoryConfig(cfg config.Config) memory.Config {
	mc := memory.Config{
		MaxContextTokens:          cfg.Memory.MaxContextTokens,
		SummaryBudget:             cfg.Memory.SummaryBudget,
		MessageCountThreshold:     cfg.Memory.MessageCountThreshold,
		TokenThreshold:            cfg.Memory.TokenThreshold,
		ReSummarizeDeltaThreshold: cfg.Memory.ReSummarizeDeltaThreshold,
		ReSummarizeSuppressWindow: cfg.Memory.ReSummarizeSuppressWindow,
	}
	if mc.MaxContextTokens > 0 {
		return mc
	}
	if size, known := llm.ContextSize(primaryModelName(cfg.LLM)); known {
		mc.MaxContextTokens = size / 2
	}
	return mc
}

// primaryModelName resolves which model name cfg.LLM.Primary actually
// points at, so NewMemoryConfig can look its context window up.
func primaryModelName(cfg config.LLMConfig) string {
	switch strings.ToLower(strings.TrimSpace(cfg.Primary)) {
	case "openai":
		return cfg.OpenAI.Model
	case "anthropic", "claude":
		return cfg.Anthropic.Model
	default:
		return cfg.Local.ChatModel
	}
}
