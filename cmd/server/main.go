// Command server runs chatplane's HTTP API: chat turns, document upload,
// and prompt administration over the shared persistence/cache/queue/vector
// backends selected by configuration.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kestrel-ai/chatplane/internal/bootstrap"
	"github.com/kestrel-ai/chatplane/internal/chat"
	"github.com/kestrel-ai/chatplane/internal/config"
	"github.com/kestrel-ai/chatplane/internal/httpapi"
	"github.com/kestrel-ai/chatplane/internal/ingestion"
	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/memory"
	"github.com/kestrel-ai/chatplane/internal/observability"
	"github.com/kestrel-ai/chatplane/internal/prompts"
	"github.com/kestrel-ai/chatplane/internal/quota"
	"github.com/kestrel-ai/chatplane/internal/rag"
	"github.com/kestrel-ai/chatplane/internal/version"
)

type closerFunc func(context.Context) error

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	llm.ConfigureLogging(cfg.Obs.LogPrompts, cfg.Obs.LogTruncateBytes)
	log.Info().Str("version", version.Version).Msg("chatplane server booting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []closerFunc
	if cfg.Obs.OTLP != "" {
		cfg.Obs.ServiceVersion = version.Version
		shutdown, err := observability.InitOTel(ctx, cfg.Obs)
		if err != nil {
			log.Fatal().Err(err).Msg("init otel")
		}
		observability.EnableOTelLogs(cfg.Obs.ServiceName)
		closers = append(closers, shutdown)
	}

	repo, err := bootstrap.NewRepository(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open repository")
	}
	closers = append(closers, repo.Close)

	kvStore, err := bootstrap.NewKV(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open kv store")
	}
	if closer, ok := kvStore.(interface{ Close() error }); ok {
		closers = append(closers, func(context.Context) error { return closer.Close() })
	}

	q, err := bootstrap.NewQueue(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open queue")
	}
	closers = append(closers, q.Close)

	vectors, err := bootstrap.NewVectorStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open vector store")
	}
	closers = append(closers, func(context.Context) error { return vectors.Close() })

	objects, err := bootstrap.NewObjectStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open object store")
	}

	primary, fallback, embedder, err := bootstrap.NewProviders(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build llm providers")
	}

	promptRegistry := prompts.New(repo)
	gateway := llm.NewGateway(primary, fallback, promptRegistry)
	quotaEngine := quota.New(kvStore, quota.Config{
		Capacity:   cfg.Quota.Capacity,
		RefillRate: cfg.Quota.RefillRate,
		TTL:        cfg.Quota.TTL,
	})
	memoryEngine := memory.New(repo, repo, kvStore, gateway, bootstrap.NewMemoryConfig(cfg))
	ragOrchestrator := rag.New(gateway, vectors, embedder)
	chatService := chat.New(repo, repo, quotaEngine, memoryEngine, gateway, ragOrchestrator)
	ingestPipeline := ingestion.New(repo, objects, q, vectors, embedder)

	srv := httpapi.NewServer(httpapi.Deps{
		Repo:    repo,
		KV:      kvStore,
		Chat:    chatService,
		Ingest:  ingestPipeline,
		Prompts: promptRegistry,
		Env:     cfg.Server.Env,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("chatplane server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Warn().Msg("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	for _, closer := range closers {
		if err := closer(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("dependency shutdown")
		}
	}
	log.Info().Msg("chatplane server stopped")
}
