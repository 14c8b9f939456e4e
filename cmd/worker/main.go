// Command worker runs chatplane's background ingestion pipeline: it drains
// the document-processing queue, chunking and embedding uploaded documents
// into the shared vector index.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kestrel-ai/chatplane/internal/bootstrap"
	"github.com/kestrel-ai/chatplane/internal/config"
	"github.com/kestrel-ai/chatplane/internal/ingestion"
	"github.com/kestrel-ai/chatplane/internal/observability"
	"github.com/kestrel-ai/chatplane/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log.Info().Str("version", version.Version).Msg("chatplane worker booting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.OTLP != "" {
		cfg.Obs.ServiceVersion = version.Version
		if _, err := observability.InitOTel(ctx, cfg.Obs); err != nil {
			log.Fatal().Err(err).Msg("init otel")
		}
		observability.EnableOTelLogs(cfg.Obs.ServiceName)
	}

	repo, err := bootstrap.NewRepository(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open repository")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := repo.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("close repository")
		}
	}()

	q, err := bootstrap.NewQueue(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open queue")
	}

	vectors, err := bootstrap.NewVectorStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open vector store")
	}
	defer vectors.Close()

	objects, err := bootstrap.NewObjectStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open object store")
	}

	_, _, embedder, err := bootstrap.NewProviders(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build llm providers")
	}

	pipeline := ingestion.New(repo, objects, q, vectors, embedder)
	worker := ingestion.NewWorker(pipeline, q)

	log.Info().Msg("chatplane ingestion worker starting")
	worker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("close queue")
	}
	log.Info().Msg("chatplane ingestion worker stopped")
}
