package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrGarbonzo/boardroom-tee/internal/api"
	"github.com/MrGarbonzo/boardroom-tee/internal/api/middleware"
	"github.com/MrGarbonzo/boardroom-tee/internal/attest"
	"github.com/MrGarbonzo/boardroom-tee/internal/config"
	"github.com/MrGarbonzo/boardroom-tee/internal/events"
	"github.com/MrGarbonzo/boardroom-tee/internal/handlers"
	"github.com/MrGarbonzo/boardroom-tee/internal/keymgr"
	"github.com/MrGarbonzo/boardroom-tee/internal/messenger"
	"github.com/MrGarbonzo/boardroom-tee/internal/models"
	"github.com/MrGarbonzo/boardroom-tee/internal/registry"
	"github.com/MrGarbonzo/boardroom-tee/internal/router"
	"github.com/MrGarbonzo/boardroom-tee/internal/store"
)

// lifecycleHooks fans registry events out to the audit log and NATS.
// Both sinks are optional; the registry calls these outside its locks.
type lifecycleHooks struct {
	audit     store.AuditStore
	publisher *events.Publisher
}

func (h *lifecycleHooks) record(event *store.AuditEvent) {
	if h.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.audit.RecordEvent(ctx, event)
}

func (h *lifecycleHooks) AgentRegistered(entry models.RegistryEntry) {
	h.record(&store.AuditEvent{
		Kind:      store.EventRegistered,
		Identity:  entry.Identity,
		AgentType: string(entry.AgentType),
	})
	h.publisher.Registered(entry)
}

func (h *lifecycleHooks) AgentRejected(identity string, agentType models.AgentType, reason string) {
	h.record(&store.AuditEvent{
		Kind:      store.EventRejected,
		Identity:  identity,
		AgentType: string(agentType),
		Reason:    reason,
	})
	h.publisher.Rejected(identity, agentType, reason)
}

func (h *lifecycleHooks) AgentExpired(identity string) {
	h.record(&store.AuditEvent{Kind: store.EventExpired, Identity: identity})
	h.publisher.Expired(identity)
}

func (h *lifecycleHooks) AgentDeregistered(identity string) {
	h.record(&store.AuditEvent{Kind: store.EventDeregistered, Identity: identity})
	h.publisher.Deregistered(identity)
}

// registerHub attests the hub and registers it under its own identity.
func registerHub(ctx context.Context, reg *registry.Registry, keys *keymgr.KeyManager, identity, endpoint string) (*models.AttestationStatement, error) {
	stmt, err := keys.ProduceAttestation(ctx)
	if err != nil {
		return nil, fmt.Errorf("hub attestation: %w", err)
	}
	result := reg.Register(&models.RegistrationRequest{
		Identity:     identity,
		AgentType:    models.AgentTypeHub,
		Capabilities: []string{"relay", "route"},
		Endpoint:     endpoint,
		Attestation:  stmt,
	})
	if !result.Registered {
		return nil, fmt.Errorf("hub registration rejected: %s", result.Reason)
	}
	return stmt, nil
}

// renewHubRegistration re-attests and re-registers the hub on a timer so
// its own registry entry never lapses while the server is running. Without
// renewal the entry would be evicted one validity window after startup and
// relay and routing against the hub identity would start failing.
func renewHubRegistration(ctx context.Context, logger zerolog.Logger, reg *registry.Registry, keys *keymgr.KeyManager, identity, endpoint string, validity time.Duration) {
	interval := validity / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stmt, err := registerHub(ctx, reg, keys, identity, endpoint)
			if err != nil {
				logger.Error().Err(err).Str("identity", identity).Msg("hub registration renewal failed")
				continue
			}
			logger.Info().
				Str("identity", identity).
				Str("measurement", stmt.Measurement).
				Msg("hub registration renewed")
		}
	}
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Trust policy (hot-reloaded on file change)
	policies, err := attest.NewPolicyStore(cfg.PolicyPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.PolicyPath).Msg("policy load failed")
	}
	go func() {
		if err := policies.Watch(ctx, logger); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("policy watcher stopped")
		}
	}()
	logger.Info().Str("path", cfg.PolicyPath).Msg("measurement policy loaded")

	// Audit log: Postgres if configured, SQLite otherwise
	var audit store.AuditStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		audit = pgStore
		logger.Info().Msg("audit log on PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		audit = sqliteStore
		logger.Info().Msg("audit log on SQLite")
	}
	defer audit.Close()

	// Redis backs the replay cache and rate limiting across replicas
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Lifecycle events over NATS (optional)
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connection failed")
		}
		defer publisher.Close()
		logger.Info().Msg("connected to NATS")
	}

	// Registry with attestation verification on every insert
	verifier := attest.NewVerifier(policies)
	hooks := &lifecycleHooks{audit: audit, publisher: publisher}
	reg := registry.New(verifier, cfg.ValidityWindow, hooks, logger)
	reg.StartSweeper(ctx, cfg.SweepInterval)

	// Hub keypair and attestation
	var provider keymgr.QuoteProvider
	if cfg.QuoteEndpoint != "" {
		provider = keymgr.NewTDXProvider(cfg.QuoteEndpoint, cfg.QuoteTimeout)
	} else {
		logger.Warn().Msg("no quote endpoint configured, using fake attestation provider")
		provider = &keymgr.FakeProvider{Measurement: cfg.DevMeasurement}
	}
	keys := keymgr.New(provider, 10*time.Minute)
	if err := keys.GenerateKeys(); err != nil {
		logger.Fatal().Err(err).Msg("key generation failed")
	}

	// The hub registers itself through the same attestation path as spoke
	// agents. If its own measurement is not trusted, refuse to serve.
	hubEndpoint := "http://localhost:" + cfg.Port
	stmt, err := registerHub(ctx, reg, keys, cfg.HubIdentity, hubEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("hub self-registration failed")
	}
	logger.Info().
		Str("identity", cfg.HubIdentity).
		Str("measurement", stmt.Measurement).
		Msg("hub registered")
	go renewHubRegistration(ctx, logger, reg, keys, cfg.HubIdentity, hubEndpoint, cfg.ValidityWindow)

	// Replay cache: Redis when present, per-process LRU otherwise
	var replay messenger.ReplayCache
	if redisStore != nil {
		replay = redisStore
	} else {
		replay = messenger.NewMemoryReplayCache(0, cfg.ReplayTTL)
	}

	msgr := messenger.New(cfg.HubIdentity, keys, reg, replay, cfg.MessageWindow, cfg.ReplayTTL)
	inbox := messenger.NewInbox(0)

	// Collaboration router
	stats := router.NewStatTracker(0)
	rtr := router.New(reg, policies, stats, logger)

	// HTTP layer
	h := handlers.NewHandler(reg, rtr, msgr, inbox, audit, policies, redisStore, cfg.HubIdentity, cfg.AdminTokenHash)
	auth := middleware.NewAuthMiddleware(reg, replay, cfg.AuthWindow, cfg.AuthNonceTTL)
	limiter := middleware.NewRateLimiter(redisStore, logger)
	mux := api.NewRouter(logger, h, auth, limiter)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting boardroom hub")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	cancel()

	// Graceful shutdown with 30 second timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	reg.Deregister(cfg.HubIdentity)
	logger.Info().Msg("server stopped")
}
