package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegisstack/aegis-agent/internal/api"
	"github.com/aegisstack/aegis-agent/internal/cache"
	"github.com/aegisstack/aegis-agent/internal/config"
	"github.com/aegisstack/aegis-agent/internal/engine"
	"github.com/aegisstack/aegis-agent/internal/llm"
	"github.com/aegisstack/aegis-agent/internal/metrics"
	"github.com/aegisstack/aegis-agent/internal/repo"
	"github.com/aegisstack/aegis-agent/internal/services"
	"github.com/aegisstack/aegis-agent/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting aegis-agent",
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.String("grpc_address", cfg.Server.GRPCAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var valkeyCloser cache.Provider
	switch {
	case cfg.Cache.Enabled && cfg.Cache.Addr != "":
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			valkeyCloser = provider
		}
	case cfg.Cache.Enabled:
		// Caching on without an address: keep it in-process.
		cacheProvider = cache.NewMemoryProvider()
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	store, err := repo.OpenStore(cfg.Storage.Path)
	if err != nil {
		logger.Error("failed to open report store", slog.String("path", cfg.Storage.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers := []llm.Provider{
		llm.NewOllamaProvider(cfg.LLM.Ollama.Host, cfg.LLM.Ollama.Model, cfg.LLM.Timeout),
	}
	var geminiProvider *llm.GeminiProvider
	if cfg.LLM.Gemini.APIKey != "" {
		geminiProvider, err = llm.NewGeminiProvider(ctx, cfg.LLM.Gemini.APIKey, cfg.LLM.Gemini.Model, cfg.LLM.Timeout)
		if err != nil {
			logger.Warn("gemini backend unavailable", slog.Any("error", err))
		} else {
			providers = append(providers, geminiProvider)
		}
	}
	if cfg.LLM.Claude.APIKey != "" {
		claudeProvider, err := llm.NewClaudeProvider(cfg.LLM.Claude.APIKey, cfg.LLM.Claude.Model, cfg.LLM.Claude.MaxTokens, cfg.LLM.Timeout)
		if err != nil {
			logger.Warn("claude backend unavailable", slog.Any("error", err))
		} else {
			providers = append(providers, claudeProvider)
		}
	}

	registry, err := llm.NewRegistry(cfg.LLM.Default, providers...)
	if err != nil {
		logger.Error("failed to initialise model registry", slog.Any("error", err))
		os.Exit(1)
	}
	registry.Describe("ollama", "Local Ollama backend ("+cfg.LLM.Ollama.Model+")")
	registry.Describe("gemini", "Google Gemini backend ("+cfg.LLM.Gemini.Model+")")
	registry.Describe("claude", "Anthropic Claude backend ("+cfg.LLM.Claude.Model+")")

	var embedder repo.Embedder
	if cfg.Embedding.Provider == "gemini" && geminiProvider != nil {
		embedder = repo.NewGeminiEmbedder(geminiProvider.Client(), cfg.Embedding.Gemini.Model)
	} else {
		if cfg.Embedding.Provider == "gemini" {
			logger.Warn("gemini embeddings requested but backend unavailable; using ollama")
		}
		embedder = repo.NewOllamaEmbedder(cfg.Embedding.Ollama.Host, cfg.Embedding.Ollama.Model, cfg.LLM.Timeout)
	}

	retriever := repo.NewQdrantRepo(
		cfg.Qdrant.Endpoint,
		cfg.Qdrant.APIKey,
		cfg.Qdrant.Timeout,
		embedder,
		cacheProvider,
		cfg.Cache.RetrievalTTL,
	)

	notifier := repo.NewAlertNotifier(cfg.Notifier.Endpoint, cfg.Notifier.Channels, cfg.Notifier.Timeout, cacheProvider)

	prompts, err := engine.LoadPrompts(cfg.Prompts.Dir)
	if err != nil {
		logger.Error("failed to load prompts", slog.String("dir", cfg.Prompts.Dir), slog.Any("error", err))
		os.Exit(1)
	}

	chunkBudget := int(cfg.Analysis.ChunkBudgetRatio * float64(cfg.Analysis.ModelWindowTokens))
	pipeline := engine.NewPipeline(
		logger,
		registry,
		engine.NewPreviewer(logger, prompts.Previewer, chunkBudget, cfg.Analysis.CharsPerToken),
		engine.NewAnalyzer(logger, retriever, prompts.Analyzer),
		engine.NewReportIDAllocator(logger, store),
		engine.NewEscalator(logger, retriever, store, notifier, prompts.QRT, cfg.Analysis.SOPCollection, cfg.Analysis.SOPTopK),
		store,
		engine.AnalysisDefaults{Collection: cfg.Analysis.Collection, TopK: cfg.Analysis.TopK},
	)

	agentService := services.NewAgentService(logger, pipeline, registry, store)
	httpServer := api.NewHTTPServer(cfg.Server, logger, agentService)

	grpcServer, err := api.NewGRPCServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if serveErr := httpServer.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	go func() {
		logger.Info("grpc server listening", slog.String("address", grpcServer.Address()))
		if serveErr := grpcServer.Start(); serveErr != nil {
			logger.Error("grpc server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	grpcServer.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	grpcServer.Shutdown(shutdownCtx)

	// In-flight escalation tasks outlive their requests; let them drain.
	pipeline.Wait()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("aegis-agent stopped")
}
