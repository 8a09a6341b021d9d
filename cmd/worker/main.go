package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/deskhive/deskhive/pkg/app"
	"github.com/deskhive/deskhive/pkg/cache"
	"github.com/deskhive/deskhive/pkg/config"
	"github.com/deskhive/deskhive/pkg/database"
	"github.com/deskhive/deskhive/pkg/events"
	"github.com/deskhive/deskhive/pkg/eventstore"
	"github.com/deskhive/deskhive/pkg/httpx"
	"github.com/deskhive/deskhive/pkg/logger"
	"github.com/deskhive/deskhive/pkg/telemetry"
	"github.com/deskhive/deskhive/services/streams/ai"
	"github.com/deskhive/deskhive/services/streams/analytics"
	"github.com/deskhive/deskhive/services/streams/outbound"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := config.ValidateForProduction(cfg); err != nil {
		slog.Error("production config validation failed", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg)

	ctx := context.Background()

	otelShutdown, metricsHandler, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		log.Error("failed to setup otel", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx) //nolint:errcheck

	if err := telemetry.SetupSentry(cfg); err != nil {
		log.Warn("failed to setup sentry, continuing without crash reporting", "error", err)
	}
	defer telemetry.SentryFlush()

	db, err := database.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer db.Close()

	redisClient, err := cache.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer redisClient.Close() //nolint:errcheck
	log.Info("redis connected")

	bus, err := events.NewBus(cfg, log)
	if err != nil {
		log.Error("failed to setup event bus", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer bus.Close() //nolint:errcheck

	store := eventstore.NewStore(db, cache.NewSnapshotCache(redisClient), log)

	application := &app.Application{
		Db:     db,
		Logger: log,
		Bus:    bus,
		Redis:  redisClient,
		Store:  store,
	}

	// A broker that is down at startup degrades the worker instead of
	// crashing it: the ops server still serves /health so the degradation
	// is visible.
	if err := registerSubscriptions(ctx, application); err != nil {
		log.Error("failed to register subscriptions, worker degraded", "error", err)
	}

	opsServer := startOpsServer(cfg, application, metricsHandler)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("ops server shutdown failed", "error", err)
	}

	// bus.Close() (via defer) waits for in-flight handlers before returning.
	log.Info("worker stopped")
}

// registerSubscriptions wires the persistence subscription and the three
// stream processors.
func registerSubscriptions(ctx context.Context, a *app.Application) error {
	// Every valid domain event lands in the event store. A save failure
	// surfaces to the consumer and dead-letters the message instead of
	// losing it.
	err := a.Bus.Subscribe(ctx, events.Subscription{
		ID: "event-persistence",
		Topics: []string{
			events.TopicConversation, events.TopicTicket, events.TopicCustomer,
			events.TopicAIAnalysis, events.TopicWorkflow, events.TopicSLA,
			events.TopicAnalytics, events.TopicIntegration,
		},
		Handler: persistEvent(a),
	})
	if err != nil {
		return err
	}

	streams := []events.StreamConfig{
		{
			Name:        "analytics-stream",
			InputTopics: []string{events.TopicConversation, events.TopicTicket, events.TopicAIAnalysis},
			OutputTopic: events.TopicAnalytics,
			Processor:   analytics.NewProcessor(a.Logger),
		},
		{
			Name:        "ai-stream",
			InputTopics: []string{events.TopicConversation, events.TopicTicket},
			OutputTopic: events.TopicAIAnalysis,
			Processor:   ai.NewProcessor(ai.NewHeuristicProvider(), a.Logger),
		},
		{
			Name:        "outbound-stream",
			InputTopics: []string{events.TopicIntegration},
			OutputTopic: events.TopicIntegration,
			Processor:   outbound.NewProcessor(a.Logger),
		},
	}
	for _, sc := range streams {
		if err := a.Bus.CreateStream(ctx, sc); err != nil {
			return err
		}
	}

	a.Logger.Info("subscriptions registered",
		"streams", []string{"analytics-stream", "ai-stream", "outbound-stream"})
	return nil
}

// persistEvent returns the handler backing the event-persistence
// subscription. Duplicate deliveries are expected under at-least-once
// semantics; a version conflict from a concurrent replay is not an error
// worth dead-lettering.
func persistEvent(a *app.Application) events.HandlerFunc {
	return func(ctx context.Context, event events.DomainEvent) error {
		if _, err := a.Store.SaveEvent(ctx, event); err != nil {
			return err
		}
		a.Logger.DebugContext(ctx, "event persisted",
			"event_id", event.EventID, "event_type", event.EventType,
			"aggregate_id", event.AggregateID)
		return nil
	}
}

// startOpsServer serves /health and /metrics on the ops address.
func startOpsServer(cfg *config.Config, a *app.Application, metricsHandler http.Handler) *http.Server {
	router := httpx.NewRouter(
		httpx.ServerConfig{
			ServiceName:        cfg.ServiceName,
			IsDevelopment:      !cfg.IsProduction(),
			CORSAllowedOrigins: "*",
		},
		logger.Middleware(a.Logger),
		logger.Recovery(a.Logger),
		telemetry.SentryMiddleware(),
		otelhttp.NewMiddleware(cfg.ServiceName),
	)
	router.Get("/health", httpx.HealthHandler(httpx.HealthChecks{
		Database: a.Db,
		Redis:    a.Redis,
		EventBus: a.Bus,
	}))
	router.Method(http.MethodGet, "/metrics", metricsHandler)

	srv := httpx.NewServer(cfg.OpsAddr, router)
	go func() {
		a.Logger.Info("ops server listening", "addr", cfg.OpsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("ops server failed", "error", err)
		}
	}()
	return srv
}
