// Command threatanalysisd runs the threat analysis pipeline as an HTTP +
// WebSocket service: it wires configuration, logging, the knowledge and
// reasoning backends, the five analysts, the three analyzers, the shared
// store, and the coordinator, then serves until an interrupt signal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/threatanalysis/coordinator/internal/analyst"
	"github.com/threatanalysis/coordinator/internal/apiserver"
	"github.com/threatanalysis/coordinator/internal/config"
	"github.com/threatanalysis/coordinator/internal/coordinator"
	"github.com/threatanalysis/coordinator/internal/fpanalysis"
	"github.com/threatanalysis/coordinator/internal/knowledge"
	"github.com/threatanalysis/coordinator/internal/logging"
	"github.com/threatanalysis/coordinator/internal/reasoning"
	"github.com/threatanalysis/coordinator/internal/resilience"
	"github.com/threatanalysis/coordinator/internal/response"
	"github.com/threatanalysis/coordinator/internal/store"
	"github.com/threatanalysis/coordinator/internal/telemetryhook"
	"github.com/threatanalysis/coordinator/internal/timeline"
	"github.com/threatanalysis/coordinator/internal/wshub"
)

const version = "0.1.0"

func main() {
	bootstrapLogger := logging.New("threatanalysisd", logging.LevelInfo, logging.FormatText)
	cfg := config.Load(bootstrapLogger)

	logger := logging.New("threatanalysisd", cfg.LogLevel, cfg.LogFormat)

	var telemetry telemetryhook.Telemetry = telemetryhook.NoOp{}
	if cfg.TelemetryEnabled {
		telemetry = telemetryhook.New("threatanalysisd")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sharedStore, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize shared store", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}
	defer closeStore()

	knowledgeStore := knowledge.NewInMemoryStore()

	reasoningClients := buildReasoningClients(cfg, logger)
	analysts := []analyst.Analyst{
		analyst.NewHistorical(reasoningClients["historical"], logger),
		analyst.NewConfig(reasoningClients["config"], logger),
		analyst.NewDevOps(reasoningClients["devops"], logger),
		analyst.NewContext(reasoningClients["context"], logger),
		analyst.NewPriority(reasoningClients["priority"], logger),
	}

	coord := coordinator.New(
		analysts,
		knowledgeStore,
		fpanalysis.New(),
		response.New(),
		timeline.New(),
		sharedStore,
		coordinator.Timeouts{AnalystTimeout: cfg.AnalystTimeout, TotalTimeout: cfg.TotalTimeout},
		logger,
		telemetry,
	)

	hub := wshub.New(sharedStore, 20, logger)
	go hub.Run()

	feedCleanup, err := wshub.FeedFrom(ctx, hub, sharedStore)
	if err != nil {
		logger.Error("failed to subscribe websocket hub to shared store", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}
	defer feedCleanup()

	server := apiserver.New(coord, sharedStore, hub, version, logger)
	server.SetReady(apiserver.Readiness{Coordinator: true, Analysts: true, Analyzers: true, Broker: true})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("starting http server", logging.Fields{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", logging.Fields{"error": err.Error()})
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", logging.Fields{"error": err.Error()})
	}
}

func buildStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (store.Store, func(), error) {
	noop := func() {}
	switch cfg.StoreBacking {
	case config.StoreBackingRedis:
		breaker := resilience.New("store.redis", resilience.Config{
			Threshold:        cfg.CircuitBreakerThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			HalfOpenRequests: 3,
		}, logger)
		redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL, breaker, logger)
		if err != nil {
			return nil, noop, err
		}
		return redisStore, noop, nil
	default:
		return store.NewInProcessStore(cfg.SubscriberBuffer, logger), noop, nil
	}
}

func buildReasoningClients(cfg *config.Config, logger logging.Logger) map[string]reasoning.Client {
	names := []string{"historical", "config", "devops", "context", "priority"}
	clients := make(map[string]reasoning.Client, len(names))

	if cfg.ReasoningMode == config.ReasoningModeLive {
		breaker := resilience.New("reasoning.http", resilience.Config{
			Threshold:        cfg.CircuitBreakerThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			HalfOpenRequests: 3,
		}, logger)
		httpCfg := reasoning.Config{
			BaseURL: cfg.ReasoningBaseURL,
			APIKey:  cfg.ReasoningAPIKey,
			Model:   cfg.ReasoningModel,
			Timeout: cfg.ReasoningTimeout,
		}
		client := reasoning.NewHTTPClient(httpCfg, breaker)
		for _, name := range names {
			clients[name] = client
		}
		return clients
	}

	for _, name := range names {
		clients[name] = &reasoning.MockClient{AgentName: name}
	}
	return clients
}
