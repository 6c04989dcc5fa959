// Package main provides the entry point for the askneu service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/askneu/askneu/internal/config"
	"github.com/askneu/askneu/internal/embedding"
	"github.com/askneu/askneu/internal/engine"
	"github.com/askneu/askneu/internal/generate"
	"github.com/askneu/askneu/internal/relevance"
	"github.com/askneu/askneu/internal/retrieval"
	"github.com/askneu/askneu/internal/server"
	"github.com/askneu/askneu/internal/vectorstore"
)

var Version = "dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Str("version", Version).Msg("Starting askneu")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration error")
	}

	// One semaphore caps concurrent upstream requests across the
	// embedding provider, the vector store, and the LLM.
	upstream := semaphore.NewWeighted(cfg.UpstreamCap)

	embedClient, err := embedding.NewClient(embedding.ClientConfig{
		Endpoint: cfg.EmbedEndpoint,
		APIKey:   cfg.EmbedAPIKey,
		ModelID:  cfg.EmbedModelID,
		Limiter:  upstream,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create embedding client")
	}
	gateway := embedding.NewGateway(embedClient, cfg.EmbedCacheSize, cfg.EmbedCacheMaxAge)

	store, err := vectorstore.NewClient(vectorstore.Config{
		Endpoint:     cfg.VectorStoreEndpoint,
		APIKey:       cfg.VectorStoreAPIKey,
		Tenant:       cfg.VectorStoreTenant,
		Database:     cfg.VectorStoreDatabase,
		ShardListTTL: cfg.ShardListTTL,
		Limiter:      upstream,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vector store client")
	}

	orchestrator := retrieval.New(store, cfg.UnifiedCollectionID)
	ranker := relevance.NewRanker()

	chatClient, err := generate.NewHTTPChatClient(generate.ChatConfig{
		Endpoint: cfg.LLMEndpoint,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		Limiter:  upstream,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create chat client")
	}
	generator, err := generate.NewGenerator(chatClient, generate.Config{
		Temperature:  cfg.LLMTemperature,
		MaxTokensCap: cfg.LLMMaxTokens,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create generator")
	}

	eng := engine.New(gateway, orchestrator, ranker, generator, cfg.DefaultMode)

	// Reload of the settings overlay invalidates the answer cache so
	// new limits take effect on the next request.
	watcher, err := config.Watch(func(*config.Config) {
		eng.InvalidateCaches()
	})
	if err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable")
	}
	defer func() { _ = watcher.Close() }()

	srv := server.New(cfg.ListenAddr, eng, map[string]server.StatsSource{
		"retrieval": orchestrator.Metrics(),
		"embedding": gateway,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}

	log.Info().Msg("askneu shutdown complete")
}
