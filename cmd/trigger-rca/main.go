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

	"github.com/alertstack/trigger-rca/internal/admission"
	"github.com/alertstack/trigger-rca/internal/api"
	"github.com/alertstack/trigger-rca/internal/cache"
	"github.com/alertstack/trigger-rca/internal/config"
	"github.com/alertstack/trigger-rca/internal/engine"
	"github.com/alertstack/trigger-rca/internal/history"
	"github.com/alertstack/trigger-rca/internal/inference"
	"github.com/alertstack/trigger-rca/internal/metrics"
	"github.com/alertstack/trigger-rca/internal/research"
	"github.com/alertstack/trigger-rca/internal/services"
	"github.com/alertstack/trigger-rca/internal/utils"
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
	logger.Info("starting trigger-rca", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	cacheProvider := buildCacheProvider(cfg.Cache, logger)
	defer cacheProvider.Close()

	admitter := admission.NewController(cacheProvider, admission.Config{
		Window:         cfg.Admission.Window,
		MaxOccurrences: cfg.Admission.MaxOccurrences,
		ResultTTL:      cfg.Admission.ResultTTL,
		SeverityDelta:  cfg.Admission.SeverityDelta,
		ValueDeltaFrac: cfg.Admission.ValueDeltaFrac,
	}, logger)

	store, searcher, err := buildHistoryStore(cfg.History)
	if err != nil {
		logger.Error("failed to open history store",
			slog.String("backend", cfg.History.Backend),
			slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	ruleEngine, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	inferClient := buildInferenceClient(cfg.Inference, logger)

	var inferencer engine.Inferencer
	if inferClient != nil {
		inferencer = inferClient
		logger.Info("inference backend configured", slog.String("backend", inferClient.Name()))
	} else {
		logger.Info("no inference backend configured, running degraded analyses only")
	}

	pipeline := engine.NewPipeline(
		engine.NewTrendEngine(cfg.Trend.Lookback, cfg.Trend.Horizon, logger),
		engine.NewImpactEngine(engine.ImpactConfig{
			BaseCostPerHour: cfg.Impact.BaseCostPerHour,
			TagMultipliers:  cfg.Impact.TagMultipliers,
			DefaultDowntime: cfg.Impact.DefaultDowntime,
			CriticalTag:     cfg.Impact.CriticalTag,
			SharedTag:       cfg.Impact.SharedTag,
		}, logger),
		ruleEngine,
		research.NewResearcher(0, logger),
		searcher,
		inferencer,
		store,
		engine.PipelineConfig{
			DegradedCeiling: cfg.Inference.DegradedCeiling,
			SimilarLimit:    cfg.Inference.SimilarLimit,
		},
		logger,
	)

	analyzer := services.NewAnalyzer(admitter, store, pipeline, cfg.Trend.Lookback, logger)

	healthComponents := map[string]services.Pinger{
		"cache":   admitter,
		"history": store,
	}
	if inferClient != nil {
		healthComponents["inference"] = inferClient
	}
	health := services.NewHealthChecker(healthComponents, logger)

	handlers := api.NewHandlers(analyzer, health, logger)
	server, err := api.NewServer(cfg.Server, handlers.Routes())
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		logger.Info("webhook server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("webhook server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("trigger-rca stopped")
}

// buildCacheProvider selects the admission cache backend. Redis failures at
// boot fall back to the in-memory provider so the webhook stays available.
func buildCacheProvider(cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if cfg.Backend == "redis" && cfg.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
			TLS:          cfg.TLS,
		})
		if err == nil {
			return provider
		}
		logger.Warn("redis cache unavailable, falling back to memory", slog.Any("error", err))
	}

	provider, err := cache.NewMemoryProvider(cfg.MemorySize)
	if err != nil {
		logger.Error("failed to build memory cache", slog.Any("error", err))
		os.Exit(1)
	}
	return provider
}

// buildHistoryStore opens the configured store. The searcher is non-nil only
// for backends with similarity retrieval.
func buildHistoryStore(cfg config.HistoryConfig) (history.Store, history.SimilaritySearcher, error) {
	switch cfg.Backend {
	case "weaviate":
		store := history.NewWeaviateStore(history.WeaviateConfig{
			Endpoint:   cfg.Weaviate.Endpoint,
			APIKey:     cfg.Weaviate.APIKey,
			Timeout:    cfg.Weaviate.Timeout,
			QueryLimit: cfg.QueryLimit,
		})
		return store, store, nil
	default:
		store, err := history.NewSQLiteStore(history.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
			QueryLimit:  cfg.QueryLimit,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

// buildInferenceClient returns nil when no language-model backend is wanted.
func buildInferenceClient(cfg config.InferenceConfig, logger *slog.Logger) *inference.Client {
	var backend inference.Backend
	switch cfg.Backend {
	case "anthropic":
		backend = inference.NewAnthropicBackend(inference.AnthropicConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	case "ollama":
		backend = inference.NewOllamaBackend(inference.OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	default:
		return nil
	}
	return inference.NewClient(backend, inference.ClientConfig{
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	}, logger)
}
