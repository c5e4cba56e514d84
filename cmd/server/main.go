// Yieldera AI advisory backend server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/yieldera/advisor/internal/agent"
	"github.com/yieldera/advisor/internal/api"
	"github.com/yieldera/advisor/internal/audit"
	"github.com/yieldera/advisor/internal/cache"
	"github.com/yieldera/advisor/internal/config"
	"github.com/yieldera/advisor/internal/health"
	"github.com/yieldera/advisor/internal/llm"
	"github.com/yieldera/advisor/internal/middleware"
	"github.com/yieldera/advisor/internal/quota"
	"github.com/yieldera/advisor/internal/store"
	"github.com/yieldera/advisor/internal/tools"
)

func main() {
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slog.Warn("Invalid LOG_LEVEL, using info", "log_level", cfg.LogLevel)
	}

	slog.Info("Starting server", "port", cfg.Port, "env", cfg.Env, "provider", cfg.LLM.Provider, "store", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Backing store.
	backend := store.Open(ctx, cfg.Store, logger)
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()
	store.StartSweeper(ctx, backend, cfg.Store.SweepInterval, logger)

	// Audit sinks.
	auditLog, err := audit.NewLogger(audit.LogConfig{
		Enabled:   cfg.Audit.Enabled,
		Path:      cfg.Audit.Path,
		QueueSize: cfg.Audit.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize audit log", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := auditLog.Close(); closeErr != nil {
			slog.Error("Failed to close audit log", "error", closeErr)
		}
	}()
	sinks := audit.Multi{auditLog}
	if cfg.Audit.MQTTBroker != "" {
		mqttSink, err := audit.DialMQTT(ctx, audit.MQTTConfig{
			Broker:    cfg.Audit.MQTTBroker,
			Topic:     cfg.Audit.MQTTTopic,
			QueueSize: cfg.Audit.QueueSize,
		}, logger)
		if err != nil {
			slog.Warn("MQTT audit fan-out disabled", "error", err)
		} else {
			sinks = append(sinks, mqttSink)
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if closeErr := mqttSink.Close(closeCtx); closeErr != nil {
					slog.Warn("Failed to close MQTT audit sink", "error", closeErr)
				}
			}()
		}
	}

	// Completion provider.
	client, err := newProvider(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize completion provider", "error", err)
		os.Exit(1)
	}

	// Quota, cache and tools.
	quotas := quota.New(backend, quota.Config{
		DailyLimit: cfg.Quota.DailyLimit,
		AdminRoles: cfg.Quota.AdminRoles,
		StoreName:  backend.Name,
		Audit:      sinks,
		Logger:     logger,
	})
	dispatcher, err := tools.New(tools.Config{
		InternalAPIKey: cfg.Upstream.InternalAPIKey,
		BridgeURL:      cfg.Upstream.BridgeURL,
		AlertsURL:      cfg.Upstream.AlertsURL,
		NDVIURL:        cfg.Upstream.NDVIURL,
		NDVIToken:      cfg.Upstream.NDVIToken,
		FrostURL:       cfg.Upstream.FrostURL,
		IndexURL:       cfg.Upstream.IndexURL,
		OpenMeteoURL:   cfg.Upstream.OpenMeteoURL,
		Timeout:        cfg.Upstream.ToolTimeout,
		ForecastTTL:    cfg.Upstream.ForecastCacheTTL,
		Cache:          cache.New(backend, logger),
		Audit:          sinks,
		Logger:         logger,
	})
	if err != nil {
		slog.Error("Failed to initialize tools", "error", err)
		os.Exit(1)
	}

	// Agent.
	toolNames := make([]string, 0, len(dispatcher.Names()))
	for _, n := range dispatcher.Names() {
		toolNames = append(toolNames, string(n))
	}
	planner := agent.NewPlanner(client, agent.PlannerConfig{
		Model:   cfg.PlanModel(),
		Tools:   toolNames,
		Timeout: cfg.LLM.RequestTimeout,
		Audit:   sinks,
		Logger:  logger,
	})
	loop := agent.NewLoop(client, dispatcher, agent.LoopConfig{
		Model:           cfg.ChatModel(),
		ProviderTimeout: cfg.LLM.RequestTimeout,
		Audit:           sinks,
		Logger:          logger,
	})
	chatHandler := agent.NewHandler(agent.NewService(quotas, planner, loop, logger))

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	api.NewHealthHandler(cfg.AppName, cfg.Env, backend).RegisterRoutes(r)
	api.NewAdminHandler(quotas).RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	// WriteTimeout covers a full turn of provider and tool round-trips.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(agent.MaxSteps+1)*cfg.LLM.RequestTimeout + 2*time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "addr", cfg.GRPCHealthAddr, "error", err)
			os.Exit(1)
		}
		monitor := health.NewMonitor(backend, 15*time.Second, logger)
		go func() {
			if err := health.Serve(ctx, lis, monitor); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func newProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	if cfg.LLM.Provider == config.ProviderGemini {
		gemini, err := llm.NewGemini(ctx, cfg.LLM.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return gemini, nil
	}
	return llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  cfg.LLM.OpenAIAPIKey,
		BaseURL: cfg.LLM.OpenAIBaseURL,
		Logger:  logger,
	}), nil
}
