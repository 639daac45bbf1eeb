// Package main provides the lakefeed ingestion service.
//
// lakefeed accepts inbound events over HTTP, encodes them into canonical
// binary records against their destination table schema, and writes them
// through per-invocation ingestion sessions with per-record acknowledgment.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/lakefeed-io/lakefeed/internal/api"
	"github.com/lakefeed-io/lakefeed/internal/api/middleware"
	"github.com/lakefeed-io/lakefeed/internal/config"
	"github.com/lakefeed-io/lakefeed/internal/deadletter"
	"github.com/lakefeed-io/lakefeed/internal/pipeline"
	"github.com/lakefeed-io/lakefeed/internal/record"
	"github.com/lakefeed-io/lakefeed/internal/schema"
	"github.com/lakefeed-io/lakefeed/internal/stream"
	"github.com/lakefeed-io/lakefeed/internal/tables"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "lakefeed"
)

const defaultMaxInflight = 1000

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting lakefeed service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	// Rate limiter (graceful shutdown handled by server.shutdown())
	middlewareConfig := middleware.LoadConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("source_rps", middlewareConfig.SourceRPS),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS),
	)

	var keyStore middleware.KeyStore

	authEnabled := config.GetEnvBool("LAKEFEED_AUTH_ENABLED", false)
	if authEnabled {
		store, err := middleware.LoadKeyStoreFromSpec(config.GetEnvStr("LAKEFEED_API_KEYS", ""))
		if err != nil {
			logger.Error("Failed to load API keys", slog.String("error", err.Error()))
			os.Exit(1)
		}

		keyStore = store

		logger.Info("Source authentication enabled")
	} else {
		logger.Warn("Source authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set LAKEFEED_AUTH_ENABLED=true to enable API key authentication"),
		)
	}

	// Table profiles and schema registry
	tableConfig, err := tables.LoadConfigFromEnv()
	if err != nil {
		logger.Error("Failed to load table profiles", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry, descriptorSource, err := loadSchemaRegistry()
	if err != nil {
		logger.Error("Failed to load schema registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Schema registry loaded", slog.String("source", descriptorSource))

	// Session manager: process-wide, constructed once and injected into
	// every orchestrator.
	sessions := stream.NewKafkaSessionManager(logger)

	// Optional dead letter store
	var orchestratorOpts []pipeline.Option

	deadLetterConfig := deadletter.LoadConfig()
	if deadLetterConfig.Enabled() {
		conn, err := deadletter.Connect(deadLetterConfig)
		if err != nil {
			logger.Error("Failed to connect to dead letter database", slog.String("error", err.Error()))
			os.Exit(1)
		}

		defer func() {
			_ = conn.Close()
		}()

		store, err := deadletter.NewStore(conn, logger)
		if err != nil {
			logger.Error("Failed to create dead letter store", slog.String("error", err.Error()))

			_ = conn.Close()
			//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
			os.Exit(1)
		}

		orchestratorOpts = append(orchestratorOpts, pipeline.WithDeadLetterSink(store))

		logger.Info("Dead letter store initialized",
			slog.String("database_url", deadLetterConfig.MaskDatabaseURL()),
		)
	} else {
		logger.Warn("Dead letter store disabled",
			slog.String("note", "Set DATABASE_URL to persist unrecoverable records"),
		)
	}

	invocations, err := newOrchestrator(
		"raw_invocations", tableConfig, registry, sessions, logger, orchestratorOpts,
	)
	if err != nil {
		logger.Error("Failed to build invocation pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	queueBatches, err := newOrchestrator(
		"queue_messages", tableConfig, registry, sessions, logger, orchestratorOpts,
	)
	if err != nil {
		logger.Error("Failed to build queue batch pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	server := api.NewServer(serverConfig, invocations, queueBatches, keyStore, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("lakefeed service stopped")
}

// loadSchemaRegistry builds the schema registry from LAKEFEED_DESCRIPTOR_PATH
// when set, falling back to the built-in table schemas.
func loadSchemaRegistry() (*schema.Registry, string, error) {
	if path := config.GetEnvStr("LAKEFEED_DESCRIPTOR_PATH", ""); path != "" {
		registry, err := schema.NewRegistryFromFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load descriptor set from %s: %w", path, err)
		}

		return registry, path, nil
	}

	descriptorSet, err := schema.BuiltinDescriptorSet()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build builtin descriptor set: %w", err)
	}

	registry, err := schema.NewRegistry(descriptorSet)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load builtin descriptor set: %w", err)
	}

	return registry, "builtin", nil
}

// newOrchestrator wires one destination table's pipeline: table profile,
// schema descriptor, stream configuration, encoder, and orchestrator.
func newOrchestrator(
	table string,
	tableConfig *tables.Config,
	registry *schema.Registry,
	sessions stream.SessionManager,
	logger *slog.Logger,
	opts []pipeline.Option,
) (*pipeline.Orchestrator, error) {
	profile, err := tableConfig.Profile(table)
	if err != nil {
		return nil, err
	}

	descriptorFile := config.GetEnvStr("LAKEFEED_DESCRIPTOR_FILE", schema.BuiltinFile)

	desc, err := registry.Message(descriptorFile, profile.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema for table %s: %w", table, err)
	}

	cfg := stream.Config{
		Table:        profile.Topic,
		Schema:       desc,
		// No defaults for the sink endpoint and host: an unset environment
		// must fail Validate below instead of silently targeting localhost.
		Brokers:      config.ParseCommaSeparatedList(config.GetEnvStr("LAKEFEED_SINK_BROKERS", "")),
		Host:         config.GetEnvStr("LAKEFEED_SINK_HOST", ""),
		ClientID:     config.GetEnvStr("LAKEFEED_CLIENT_ID", ""),
		ClientSecret: config.GetEnvStr("LAKEFEED_CLIENT_SECRET", ""),
		MaxInflight:  config.GetEnvInt("LAKEFEED_MAX_INFLIGHT_RECORDS", defaultMaxInflight),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream configuration for table %s: %w", table, err)
	}

	encoder := record.NewEncoder(desc)

	return pipeline.NewOrchestrator(sessions, encoder, cfg, logger, opts...), nil
}
