// Package main is the entry point for the wellbot chat server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wellbot/wellbot/internal/config"
	"github.com/wellbot/wellbot/internal/llm"
	"github.com/wellbot/wellbot/internal/memory"
	"github.com/wellbot/wellbot/internal/rag"
	"github.com/wellbot/wellbot/internal/server"
	"github.com/wellbot/wellbot/internal/session"
	"github.com/wellbot/wellbot/internal/vectorstore"
	"github.com/wellbot/wellbot/internal/vectorstore/qdrant"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfgManager, err := config.NewManager(*configPath, bootLogger)
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting wellbot", "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	llmClient := llm.NewClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Timeout: cfg.LLM.Timeout,
	})

	store, err := qdrant.NewStore(qdrant.Config{
		Address: cfg.VectorStore.URL,
		APIKey:  cfg.VectorStore.APIKey,
		Timeout: cfg.VectorStore.Timeout,
	})
	if err != nil {
		logger.Error("failed to create vector store", "error", err)
		os.Exit(1)
	}

	// Collection bootstrap must never block readiness: Qdrant being slow or
	// briefly down should not prevent the server from accepting connections.
	go bootstrapCollections(ctx, store, cfg.VectorStore, logger)

	sessions, cleanup, err := newSessionStore(cfg.Session, logger)
	if err != nil {
		logger.Error("failed to create session store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	retriever := rag.NewDualRetriever(store, llmClient, rag.RetrieverConfig{
		EmbedModel:    cfg.LLM.EmbedModel,
		KBCollection:  cfg.VectorStore.KBCollection,
		MemCollection: cfg.VectorStore.MemoryCollection,
		KBTopK:        cfg.RAG.KBTopK,
		MemTopK:       cfg.RAG.MemTopK,
	}, logger)

	generator := rag.NewGenerator(llmClient, rag.GeneratorConfig{
		Model:           cfg.LLM.ChatModel,
		Temperature:     cfg.LLM.Temperature,
		TopP:            cfg.LLM.TopP,
		FauxChunkMaxLen: cfg.RAG.FauxChunkMaxLen,
	}, logger)

	engine := rag.NewEngine(retriever, generator, rag.EngineConfig{
		SystemPrompt:    cfg.RAG.SystemPrompt,
		CombineCap:      cfg.RAG.CombineCap,
		ContextMaxChars: cfg.RAG.ContextMaxChars,
		DocMaxChars:     cfg.RAG.DocMaxChars,
		HistoryMaxTurns: cfg.RAG.HistoryMaxTurns,
		HistoryMaxChars: cfg.RAG.HistoryMaxChars,
		MemoryWindow:    cfg.RAG.MemoryWindow,
	}, logger)

	distiller := memory.NewDistiller(llmClient, llmClient, store, memory.Config{
		ChatModel:     cfg.LLM.ChatModel,
		EmbedModel:    cfg.LLM.EmbedModel,
		Collection:    cfg.VectorStore.MemoryCollection,
		MaxInputChars: cfg.Distill.MaxInputChars,
		Sentinel:      cfg.Distill.Sentinel,
	}, logger)

	chatHandler := server.NewChatHandler(engine, distiller, sessions, server.ChatConfig{
		Greeting:       cfg.Server.Greeting,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	srv := server.New(cfg.Server, cfg.Metrics, chatHandler, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	_ = cfgManager.Close()
	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newSessionStore(cfg config.SessionConfig, logger *slog.Logger) (session.Store, func(), error) {
	switch cfg.Backend {
	case "redis":
		store, err := session.NewRedisStore(cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("session store ready", "backend", "redis")
		return store, func() { _ = store.Close() }, nil
	default:
		logger.Info("session store ready", "backend", "memory")
		return session.NewMemoryStore(cfg.TTL), func() {}, nil
	}
}

// bootstrapCollections creates the two collections and their payload indexes
// if they do not exist yet, bounded by the configured bootstrap timeout.
func bootstrapCollections(ctx context.Context, store vectorstore.Store, cfg config.VectorStoreConfig, logger *slog.Logger) {
	bootstrapCtx, cancel := context.WithTimeout(ctx, cfg.BootstrapTimeout)
	defer cancel()

	for _, collection := range []string{cfg.KBCollection, cfg.MemoryCollection} {
		if err := store.EnsureCollection(bootstrapCtx, collection, cfg.EmbeddingDim, cfg.Distance); err != nil {
			logger.Warn("collection bootstrap failed, continuing without it",
				"collection", collection, "error", err)
			continue
		}
		logger.Info("collection ready", "collection", collection)
	}
}
