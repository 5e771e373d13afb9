package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mesa-ai/carta-recs/config"
	"github.com/mesa-ai/carta-recs/internal/candidates"
	"github.com/mesa-ai/carta-recs/internal/embedding"
	"github.com/mesa-ai/carta-recs/internal/extractor"
	"github.com/mesa-ai/carta-recs/internal/fncall"
	"github.com/mesa-ai/carta-recs/internal/generator"
	"github.com/mesa-ai/carta-recs/internal/handler"
	"github.com/mesa-ai/carta-recs/internal/llm"
	"github.com/mesa-ai/carta-recs/internal/mapper"
	"github.com/mesa-ai/carta-recs/internal/orchestrator"
	"github.com/mesa-ai/carta-recs/internal/resilience"
	"github.com/mesa-ai/carta-recs/internal/search"
	"github.com/mesa-ai/carta-recs/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}

	repo, err := storage.NewPostgresRepository(cfg.Database.DSN)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize database")
	}
	defer repo.Close()

	embedClient := embedding.NewClient(
		cfg.Embed.Endpoint,
		cfg.Embed.APIKey,
		cfg.Embed.Model,
		cfg.Embed.Timeout,
	)

	llmClient := llm.NewClient(
		cfg.LLM.Endpoint,
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Timeout,
	)

	detector := extractor.NewHeuristicDetector()
	filterExtractor := extractor.New(llmClient, repo, detector, logger)

	filterMapper := mapper.New(repo, cfg.Pipeline.CacheTTL, cfg.Pipeline.CacheSweepInterval, logger)
	defer filterMapper.Stop()

	searcher := search.New(embedClient, repo, cfg.Pipeline.MatchThreshold, cfg.Pipeline.MatchCount)
	processor := candidates.New(repo)
	responseGenerator := generator.New(llmClient, logger)
	fnHandler := fncall.New(repo, llmClient, logger)

	guard := resilience.NewGuard(
		cfg.Pipeline.BreakerThreshold,
		cfg.Pipeline.BreakerResetTimeout,
		cfg.Pipeline.CallTimeout,
	)

	pipeline := orchestrator.New(
		filterExtractor,
		filterMapper,
		searcher,
		processor,
		responseGenerator,
		fnHandler,
		embedClient,
		repo,
		detector,
		guard,
		logger,
	)

	chatHandler := handler.NewChatHandler(pipeline)

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", chatHandler.HandleChat)
	mux.HandleFunc("/healthz", chatHandler.HandleHealthCheck)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("starting recommendation service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("server forced to shutdown")
	}

	logger.Info("server exited")
}
