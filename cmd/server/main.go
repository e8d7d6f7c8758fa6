package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/temzero/chatter-sub006/internal/call"
	"github.com/temzero/chatter-sub006/internal/config"
	"github.com/temzero/chatter-sub006/internal/database"
	"github.com/temzero/chatter-sub006/internal/events"
	"github.com/temzero/chatter-sub006/internal/handler"
	"github.com/temzero/chatter-sub006/internal/jobs"
	"github.com/temzero/chatter-sub006/internal/middleware"
	"github.com/temzero/chatter-sub006/internal/model"
	"github.com/temzero/chatter-sub006/internal/presence"
	"github.com/temzero/chatter-sub006/internal/redis"
	"github.com/temzero/chatter-sub006/internal/repository"
	"github.com/temzero/chatter-sub006/internal/routing"
	"github.com/temzero/chatter-sub006/internal/typing"
	"github.com/temzero/chatter-sub006/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	accountRepo := repository.NewAccountRepository(db.DB)
	convRepo := repository.NewConversationRepository(db.DB)
	callRepo := repository.NewCallRepository(db.DB)
	presenceRepo := repository.NewPresenceRepository(db.DB)

	registry := ws.NewRegistry(cfg.HeartbeatTTL() + config.HeartbeatGrace)
	defer registry.Close()

	bus := events.NewBus(registry, redisClient)
	bus.Start()
	defer bus.Close()

	tracker := presence.NewTracker(bus, presenceRepo, registry.Subscribe(config.SendBufferSize))
	tracker.Start()
	defer tracker.Stop()

	aggregator := typing.NewAggregator(
		bus, convRepo, cfg.TypingTTL(), config.TypingSweepInterval,
		registry.Subscribe(config.SendBufferSize),
	)
	aggregator.Start()
	defer aggregator.Stop()

	tokenIssuer := routing.NewTokenIssuer(cfg.RoutingTokenSecret, cfg.RoutedTokenTTL())
	newSignaling := func(mode model.CallMode) call.Signaling {
		if mode == model.CallModeRouted {
			return call.NewRoutedSignaling(tokenIssuer, bus)
		}
		return call.NewDirectSignaling()
	}

	callManager := call.NewManager(
		bus, convRepo, registry, callRepo, newSignaling,
		cfg.RingTimeout(), registry.Subscribe(config.SendBufferSize),
	)
	callManager.Start()
	defer callManager.Stop()

	relay := call.NewRelay(callManager, bus)

	authMiddleware := middleware.NewAuthMiddleware(accountRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)
	signatureMiddleware := middleware.NewSignatureMiddleware(cfg.RoutingWebhookSecret)
	rateLimiter := middleware.NewRedisRateLimiter(redisClient.Client)

	wsHandler := handler.NewWSHandler(registry, tracker, aggregator, callManager, relay, convRepo, rateLimiter)
	webhookHandler := handler.NewWebhookHandler(callManager)
	callHistoryHandler := handler.NewCallHistoryHandler(callRepo, convRepo)
	presenceHandler := handler.NewPresenceHandler(tracker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/ws", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Get("/", wsHandler.ServeHTTP)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Get("/presence", presenceHandler.Snapshot)
		r.Get("/calls", callHistoryHandler.ListByConversation)
	})

	r.Route("/media-routing", func(r chi.Router) {
		r.Use(signatureMiddleware.Handler)
		r.Post("/webhook", webhookHandler.HandleRoomEvent)
	})

	cleanupJob := jobs.NewCleanupJob(callRepo, presenceRepo, cfg.CallRetention(), config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		// WebSocket connections outlive any sane write timeout.
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
