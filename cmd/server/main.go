package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"playback-control-plane/backend/internal/arbiter"
	"playback-control-plane/backend/internal/config"
	"playback-control-plane/backend/internal/db"
	"playback-control-plane/backend/internal/heartbeat"
	hbrepo "playback-control-plane/backend/internal/heartbeat/repository"
	leaserepo "playback-control-plane/backend/internal/lease/repository"
	"playback-control-plane/backend/internal/logging"
	"playback-control-plane/backend/internal/ratelimit"
	"playback-control-plane/backend/internal/security"
	"playback-control-plane/backend/internal/server"
	"playback-control-plane/backend/internal/server/middleware"
	"playback-control-plane/backend/internal/telemetry"
	telemetryotel "playback-control-plane/backend/internal/telemetry/otel"
	"playback-control-plane/backend/internal/telemetry/producer"
)

const serviceName = "playback-control-plane"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal().Err(err).Msg("config")
	}
	logger := logging.Init(logging.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: serviceName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		ServiceName: serviceName,
		Environment: cfg.Env,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("otel")
	}
	otelProviders.SetGlobal()

	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(otelProviders.LoggerProvider)}
	kafkaProducer := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		logger.Info().Str("topic", kafkaProducer.Topic()).Msg("publishing playback events to kafka")
	}
	emitter := telemetry.Multi(emitters...)

	// The server only verifies tokens; the signer is dropped.
	_, pub, err := security.LoadKeys(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("jwt: JWT_PUBLIC_KEY is required")
	}
	tokens := security.NewTokenProvider(nil, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())

	var (
		conn       *sql.DB
		leases     leaserepo.Repository
		heartbeats hbrepo.Repository
	)
	if cfg.DatabaseURL != "" {
		conn, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("database")
		}
		defer conn.Close()
		leases = leaserepo.NewPostgresRepository(conn)
		heartbeats = hbrepo.NewPostgresRepository(conn)
	} else {
		logger.Warn().Msg("DATABASE_URL is not set; using in-memory stores (single instance only)")
		leases = leaserepo.NewMemoryRepository()
		heartbeats = hbrepo.NewMemoryRepository()
	}

	metrics := telemetry.NewMetrics()
	tracker := heartbeat.NewTracker(heartbeats, cfg.HeartbeatWindow(), heartbeat.WithMetrics(metrics))
	arb := arbiter.New(leases,
		arbiter.Config{LeaseTTL: cfg.LeaseTTL(), RecentWindow: cfg.RecentWindow},
		arbiter.WithPresence(tracker),
		arbiter.WithEmitter(emitter),
		arbiter.WithMetrics(metrics),
	)
	tracker.AttachSessions(arb)

	limiter, err := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow, middleware.UserKey,
		ratelimit.WithOnLimit(func(r *http.Request, key string) {
			metrics.ObserveRateLimited()
			logging.Ctx(r.Context()).Debug().Str("user_id", key).Msg("rate limited")
		}))
	if err != nil {
		logger.Fatal().Err(err).Msg("rate limiter")
	}

	deps := server.Deps{
		Tokens:  tokens,
		Arbiter: arb,
		Tracker: tracker,
		Limiter: limiter,
		Metrics: metrics,
		Logger:  logger,
	}
	if conn != nil {
		deps.HealthPinger = conn
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Dur("poll_interval", cfg.PollInterval).
			Dur("lease_ttl", cfg.LeaseTTL()).
			Int("rate_limit", cfg.RateLimitRequests).
			Dur("rate_window", cfg.RateLimitWindow).
			Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("serve")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	// Let in-flight async event emits finish before closing their sinks.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			logger.Error().Err(err).Msg("kafka producer close")
		}
	}
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("otel shutdown")
	}
	logger.Info().Msg("HTTP server stopped")
}
