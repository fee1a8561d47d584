package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/rawcontext/engram-sub009/internal/auth"
	"github.com/rawcontext/engram-sub009/internal/config"
	"github.com/rawcontext/engram-sub009/internal/graph"
	"github.com/rawcontext/engram-sub009/internal/handler"
	"github.com/rawcontext/engram-sub009/internal/ingest"
	"github.com/rawcontext/engram-sub009/internal/middleware"
	"github.com/rawcontext/engram-sub009/internal/notify"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	logOut := io.Writer(os.Stdout)
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, cfg.LogMaxFiles)
		if err != nil {
			log.Fatalf("Failed to setup log file: %v", err)
		}
		defer logFile.Close()
		logOut = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"default_graph", cfg.DefaultGraphName,
	)

	// JWT verification is optional: no JWKS URL means open ingestion on the
	// shared graph (dev mode).
	var jwtVerifier auth.JWTVerifier
	if cfg.JWKSURL != "" {
		v, err := auth.NewJWTVerifier(cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
		defer v.Close()
		jwtVerifier = v
	} else {
		logger.Warn("JWKS_URL not set, token verification disabled")
	}

	// Graph store
	ctx := context.Background()
	pool, err := graph.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	logger.Info("database connected",
		"max_conns", 25,
		"min_conns", 5,
	)

	defaultGraph, err := graph.NewAGEClient(ctx, pool, cfg.DefaultGraphName, logger)
	if err != nil {
		log.Fatalf("Failed to open default graph: %v", err)
	}
	tenants := graph.NewAGETenantResolver(pool, logger)

	// Aggregation pipeline
	sink := &notify.LogSink{Logger: logger}
	aggregator, err := ingest.NewAggregator(ingest.AggregatorOptions{
		DefaultGraph:          defaultGraph,
		Tenants:               tenants,
		Nodes:                 sink,
		Finalized:             sink,
		Logger:                logger,
		ContentFlushThreshold: cfg.ContentFlushThreshold,
		PreviewMaxLen:         cfg.PreviewMaxLen,
		DiffPreviewMaxLen:     cfg.DiffPreviewMaxLen,
		StaleTurnMaxAge:       cfg.StaleTurnMaxAge,
	})
	if err != nil {
		log.Fatalf("Failed to create aggregator: %v", err)
	}

	ingestHandler := handler.NewIngestHandler(aggregator, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", ingestHandler.HealthCheck)

	// Ingestion routes
	mux.HandleFunc("POST /api/sessions/{id}/events", ingestHandler.PostEvent)
	mux.HandleFunc("POST /api/sessions/{id}/events/batch", ingestHandler.PostEventBatch)
	mux.HandleFunc("DELETE /api/sessions/{id}", ingestHandler.DeleteSession)

	// Admin routes
	mux.HandleFunc("POST /api/admin/reap", ingestHandler.Reap)

	// Build middleware chain
	var root http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	root = middleware.Auth(jwtVerifier, logger)(root)
	root = middleware.Recovery(logger)(root)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background reaper for turns whose terminal usage event never arrived.
	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go runReaper(reaperCtx, aggregator, cfg.ReaperInterval, logger)

	// Start server
	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown: drain in-flight requests, then run one last stale
	// sweep so a restart strands as little as possible.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopReaper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	if reaped, err := aggregator.ReapStaleTurns(shutdownCtx); err != nil {
		logger.Error("final reap failed", "reaped", reaped, "error", err)
	} else if reaped > 0 {
		logger.Info("final reap complete", "reaped", reaped)
	}
}

func runReaper(ctx context.Context, aggregator *ingest.Aggregator, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := aggregator.ReapStaleTurns(ctx)
			if err != nil {
				logger.Error("reaper sweep failed", "reaped", reaped, "error", err)
				continue
			}
			if reaped > 0 {
				logger.Info("reaper sweep complete", "reaped", reaped)
			}
		}
	}
}
