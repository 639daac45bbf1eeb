// Package api provides the HTTP ingestion API for the lakefeed service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lakefeed-io/lakefeed/internal/api/middleware"
	"github.com/lakefeed-io/lakefeed/internal/pipeline"
	"github.com/lakefeed-io/lakefeed/internal/record"
)

// Ingestor runs one ingestion invocation over a batch of inbound events.
// Satisfied by pipeline.Orchestrator.
type Ingestor interface {
	Ingest(ctx context.Context, events []record.Event) (*pipeline.BatchOutcome, error)
}

// Server represents the HTTP ingestion API server.
type Server struct {
	httpServer   *http.Server
	logger       *slog.Logger
	config       *ServerConfig
	startTime    time.Time
	invocations  Ingestor
	queueBatches Ingestor
	keyStore     middleware.KeyStore
	rateLimiter  middleware.RateLimiter
}

// NewServer creates a new HTTP server instance with structured logging and
// the full middleware stack.
//
// Dependencies are injected explicitly rather than being part of
// ServerConfig, keeping configuration (what) separate from dependencies (how).
//
// Parameters:
//   - cfg: Pure server configuration (address, timeouts, limits)
//   - invocations: Ingestor for the raw invocation table
//   - queueBatches: Ingestor for the queue message table
//   - keyStore: API key storage implementation (nil disables authentication)
//   - rateLimiter: Rate limiter implementation (nil disables rate limiting)
func NewServer(
	cfg *ServerConfig,
	invocations Ingestor,
	queueBatches Ingestor,
	keyStore middleware.KeyStore,
	rateLimiter middleware.RateLimiter,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	mux := http.NewServeMux()

	server := &Server{
		logger:       logger,
		config:       cfg,
		invocations:  invocations,
		queueBatches: queueBatches,
		keyStore:     keyStore,
		rateLimiter:  rateLimiter,
	}

	server.setupRoutes(mux)

	if keyStore != nil { // pragma: allowlist secret
		logger.Info("Source authentication middleware enabled")
	} else {
		logger.Warn("KeyStore not configured - source authentication middleware disabled")
	}

	if rateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - generate correlation ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. Source Auth - identify source and set SourceContext (optional)
	//   4. RateLimit - block requests before expensive operations (optional)
	//   5. RequestLogger - log only legitimate requests (not rate-limited spam)
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuthSource(keyStore, logger),
		middleware.WithRateLimit(rateLimiter, logger),
		middleware.WithRequestLogger(logger),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	// Record server start time for uptime calculation
	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting lakefeed API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Close the key store to release any backing resources
	if s.keyStore != nil { // pragma: allowlist secret
		if store, ok := s.keyStore.(io.Closer); ok {
			if err := store.Close(); err != nil {
				s.logger.Error("Failed to close key store", slog.String("error", err.Error()))
			}
		}
	}

	// Stop the rate limiter's background cleanup goroutine
	if s.rateLimiter != nil {
		s.logger.Info("Closing rate limiter")

		if limiter, ok := s.rateLimiter.(interface{ Close() }); ok {
			limiter.Close()
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
