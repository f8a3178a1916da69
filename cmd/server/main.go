// Package main is the entry point for the AuthRelay API server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/authrelay/authrelay/internal/config"
	"github.com/authrelay/authrelay/internal/database"
	"github.com/authrelay/authrelay/internal/handler"
	"github.com/authrelay/authrelay/internal/ledger"
	"github.com/authrelay/authrelay/internal/middleware"
	"github.com/authrelay/authrelay/internal/models"
	"github.com/authrelay/authrelay/internal/repository"
	"github.com/authrelay/authrelay/internal/service"
)

func main() {
	// Setup structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting AuthRelay API",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
	)

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Run migrations
	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Connect to Redis
	redis, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	// Ledger collaborators. The service runs against an in-process ledger;
	// sandbox config seeds balances and oracle prices for it.
	tokens, oracle, attrs, dispatcher, err := buildLedger(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to seed ledger: %v", err)
	}

	// Wire repositories and services
	uow := repository.NewUnitOfWork(db.Pool())
	auditRepo := repository.NewAuditRepository(db.Pool())
	fees := service.NewFeeEngine(cfg.Protocol, tokens, oracle, attrs)
	svc := service.NewAuthService(
		cfg.Protocol,
		uow,
		auditRepo,
		tokens,
		fees,
		oracle,
		dispatcher,
		ledger.ContextAuthority{},
		ledger.SystemClock{},
		logger,
	)
	authHandler := handler.NewAuthHandler(svc)

	// Setup router
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(chimiddleware.Timeout(30 * time.Second))

	// Health check endpoints (no auth required)
	r.Get("/health", healthHandler())
	r.Get("/ready", readyHandler(db, redis))
	r.Handle("/metrics", promhttp.Handler())

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(redis, middleware.DefaultRateLimitConfig()))
		r.Use(middleware.Auth(cfg.Auth.Tokens))

		r.Mount("/", authHandler.Routes())
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down server", slog.String("signal", sig.String()))

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	logger.Info("Server stopped gracefully")
}

// buildLedger constructs the token ledger, oracle, attribute registry, and
// dispatcher, seeded from sandbox configuration when enabled.
func buildLedger(cfg *config.Config, logger *slog.Logger) (ledger.TokenLedger, ledger.PriceOracle, ledger.AttributeRegistry, ledger.Dispatcher, error) {
	tokens := ledger.NewMemoryLedger()
	oracle := ledger.NewStaticOracle(cfg.Sandbox.Prices)
	attrs := ledger.NewMemoryAttributes()
	dispatcher := ledger.NewRecordingDispatcher()

	if cfg.Sandbox.Enabled {
		for account, quantity := range cfg.Sandbox.Balances {
			asset, err := models.ParseAsset(quantity)
			if err != nil {
				return nil, nil, nil, nil, fmt.Errorf("sandbox balance for %s: %w", account, err)
			}
			tokens.Seed(account, asset)
		}
		logger.Info("Sandbox mode enabled",
			slog.Int("seeded_accounts", len(cfg.Sandbox.Balances)),
			slog.Int("oracle_pairs", len(cfg.Sandbox.Prices)),
		)
	}

	return tokens, oracle, attrs, dispatcher, nil
}

// healthHandler returns a simple health check that always succeeds if the server is running.
func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// readyHandler returns a readiness check that verifies database and Redis connections.
func readyHandler(db *database.Postgres, redis *database.Redis) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"database"}`))
			return
		}

		if err := redis.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"redis"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","database":"connected","redis":"connected"}`))
	}
}
