package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BothRocks/hari2-sub000/internal/agent"
	"github.com/BothRocks/hari2-sub000/internal/config"
	"github.com/BothRocks/hari2-sub000/internal/health"
	"github.com/BothRocks/hari2-sub000/internal/httpapi"
	"github.com/BothRocks/hari2-sub000/internal/llm"
	_ "github.com/BothRocks/hari2-sub000/internal/metrics" // register collectors
	"github.com/BothRocks/hari2-sub000/internal/pricing"
	"github.com/BothRocks/hari2-sub000/internal/search"
	"github.com/BothRocks/hari2-sub000/internal/streaming"
	"github.com/BothRocks/hari2-sub000/internal/tracing"
	"github.com/BothRocks/hari2-sub000/internal/usage"
)

const version = "0.1.0"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without it", zap.Error(err))
	}

	if err := pricing.Watch(ctx, logger); err != nil {
		logger.Warn("Pricing hot reload unavailable", zap.Error(err))
	}

	// Optional Redis mirror for event streams
	var redisClient *redis.Client
	if cfg.Streaming.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Streaming.RedisAddr})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis unreachable, event streams are in-memory only",
				zap.String("addr", cfg.Streaming.RedisAddr), zap.Error(err))
			redisClient = nil
		}
		pingCancel()
	}

	events := streaming.NewManager(redisClient, logger)
	events.Configure(cfg.Streaming.RingCapacity, cfg.Streaming.SubscriberBuf, cfg.Streaming.StreamTTL)

	// Optional usage ledger
	var ledger *usage.Ledger
	if cfg.Usage.Driver != "" && cfg.Usage.DSN != "" {
		ledger, err = usage.Open(cfg.Usage.Driver, cfg.Usage.DSN, logger)
		if err != nil {
			logger.Fatal("Failed to open usage ledger", zap.Error(err))
		}
		defer ledger.Close()
	} else {
		logger.Info("Usage ledger disabled")
	}

	// Evidence sources
	internalSearch := search.NewHybridClient(search.HybridConfig{
		BaseURL: cfg.Search.Internal.BaseURL,
		Timeout: cfg.Search.Internal.Timeout,
		TopK:    cfg.Search.Internal.TopK,
	}, logger)
	externalSearch := search.NewWebClient(search.WebConfig{
		BaseURL:   cfg.Search.External.BaseURL,
		APIKeyEnv: cfg.Search.External.APIKeyEnv,
		Timeout:   cfg.Search.External.Timeout,
		Depth:     cfg.Search.External.Depth,
	}, logger)
	source := search.NewMux(internalSearch, externalSearch)

	// Reasoning clients
	llmClient := llm.NewHTTPClient(llm.Config{
		BaseURL:   cfg.LLM.BaseURL,
		APIKeyEnv: cfg.LLM.APIKeyEnv,
		Timeout:   cfg.LLM.Timeout,
	}, logger)

	orch := agent.NewOrchestrator(
		source,
		agent.NewEvaluator(llmClient, cfg.LLM.EvaluatorModel, logger),
		agent.NewResearcher(source, logger),
		agent.NewGenerator(llmClient, cfg.LLM.GeneratorModel, logger),
		logger,
		agent.Options{
			Events: events,
			Ledger: ledger,
			Defaults: agent.GuardrailDefaults{
				MaxIterations:  cfg.Guardrail.MaxIterations,
				TimeoutSeconds: cfg.Guardrail.TimeoutSeconds,
				CostCeilingUSD: cfg.Guardrail.CostCeilingUSD,
			},
			InternalTopK: cfg.Search.Internal.TopK,
		},
	)

	// API surface
	mux := http.NewServeMux()
	httpapi.NewAskHandler(orch, events, logger).RegisterRoutes(mux)
	httpapi.NewStreamingHandler(events, logger).RegisterRoutes(mux)

	checkers := []health.Checker{
		health.HTTPChecker("hybrid_search", cfg.Search.Internal.BaseURL+"/health"),
		health.HTTPChecker("llm_service", cfg.LLM.BaseURL+"/health"),
	}
	if redisClient != nil {
		rc := redisClient
		checkers = append(checkers, health.CheckerFunc{
			CheckName: "redis",
			Fn:        func(ctx context.Context) error { return rc.Ping(ctx).Err() },
		})
	}
	if ledger != nil {
		l := ledger
		checkers = append(checkers, health.CheckerFunc{
			CheckName: "ledger",
			Fn:        func(ctx context.Context) error { return l.Ping(ctx) },
		})
	}
	health.NewHandler(version, logger, checkers...).RegisterRoutes(mux)

	rl := httpapi.NewRateLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst, logger)

	apiServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     rl.Middleware(mux),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}
	go func() {
		logger.Info("Metrics server listening", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown incomplete", zap.Error(err))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}
