// Railwatch monitoring server: streams platform logs, detects incidents,
// alerts the chat channel, and coordinates remediation.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/railwatch/railwatch/pkg/api"
	"github.com/railwatch/railwatch/pkg/broker"
	"github.com/railwatch/railwatch/pkg/config"
	"github.com/railwatch/railwatch/pkg/conversation"
	"github.com/railwatch/railwatch/pkg/database"
	"github.com/railwatch/railwatch/pkg/detector"
	"github.com/railwatch/railwatch/pkg/ingest"
	"github.com/railwatch/railwatch/pkg/llm"
	"github.com/railwatch/railwatch/pkg/models"
	"github.com/railwatch/railwatch/pkg/notifier"
	"github.com/railwatch/railwatch/pkg/platform"
	"github.com/railwatch/railwatch/pkg/remediation"
	"github.com/railwatch/railwatch/pkg/retention"
	"github.com/railwatch/railwatch/pkg/store"
	"github.com/railwatch/railwatch/pkg/telemetry"
	"github.com/railwatch/railwatch/pkg/version"
)

const (
	ingestBufferSize = 1024
	startupDeferral  = 5 * time.Second
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.IsProduction() {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	}
	slog.Info("Starting railwatch", "version", version.Full(), "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Telemetry and broker
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewCollector(registry)
	bus := broker.New()
	defer bus.Close()

	// 4. Stores
	incidents := store.NewIncidentStore(dbClient)
	actions := store.NewActionStore(dbClient)
	policies := store.NewPolicyStore(dbClient, bus)
	conversations := store.NewConversationStore(dbClient)
	logEvents := store.NewLogEventStore(dbClient)
	go policies.WatchInvalidations(ctx)

	// 5. Platform and LLM clients
	platformClient := platform.NewClient(cfg.Platform.APIToken,
		platform.WithRateLimits(cfg.Performance.RateLimitPerSec, cfg.Performance.RateLimitPerHour))

	var providers []llm.Client
	if cfg.LLM.OpenAIKey != "" {
		providers = append(providers, llm.NewOpenAIClient(cfg.LLM.OpenAIKey, getEnv("OPENAI_MODEL", "")))
	}
	if cfg.LLM.AnthropicKey != "" {
		providers = append(providers, llm.NewAnthropicClient(cfg.LLM.AnthropicKey))
	}
	router := llm.NewRouter(cfg.LLM.DefaultProvider, providers...)
	slog.Info("Clients initialized",
		"platform", platformClient.Configured(), "llm_providers", len(providers))

	// 6. Log ingest: supervisor plus one subscription per monitored target
	sink := make(chan models.LogEvent, ingestBufferSize)
	supervisor := ingest.NewSupervisor(sink, metrics, bus, cfg.Performance.MaxRetryAttempts,
		ingest.Options{
			ConnectionTimeout: cfg.Performance.ConnectionTimeout,
			HeartbeatInterval: cfg.Performance.HeartbeatInterval,
			HeartbeatTimeout:  cfg.Performance.HeartbeatTimeout,
		})
	if cfg.Platform.Enabled() {
		for _, target := range cfg.Targets() {
			if _, err := supervisor.Start(ctx, target, cfg.Platform.APIToken); err != nil {
				slog.Error("Failed to start log subscription", "target", target.Key(), "error", err)
			}
		}
	} else {
		slog.Warn("Platform API not configured, log streaming disabled")
	}

	// 7. Detection pipeline
	det := detector.New(sink, incidents, router, policies, logEvents, bus, metrics,
		detector.Options{BatchWindow: cfg.Performance.BatchWindowMin})
	detectorDone := make(chan struct{})
	go func() {
		defer close(detectorDone)
		if err := det.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Detector stopped", "error", err)
		}
	}()

	// 8. Alerting and interactions
	alerts := notifier.New(cfg.Slack, incidents, metrics)
	go alerts.Run(ctx, bus)

	var deployments notifier.DeploymentReader
	if platformClient.Configured() {
		deployments = platformClient
	}
	interactions := notifier.NewInteractionHandler(alerts, incidents, deployments, router, bus)

	// 9. Remediation coordinator
	projectID := ""
	if len(cfg.Platform.Projects) > 0 {
		projectID = cfg.Platform.Projects[0]
	}
	coordinator := remediation.New(platformClient, incidents, actions, policies,
		alerts, bus, metrics, projectID)
	go coordinator.Run(ctx)

	// 10. Conversation manager
	var reader conversation.PlatformReader
	if platformClient.Configured() {
		reader = platformClient
	}
	convMgr := conversation.New(conversations, incidents, reader, router, bus, metrics,
		projectID, 60*time.Minute)
	go convMgr.Run(ctx)

	// 11. Retention worker
	sweeper := retention.New(incidents, conversations, logEvents,
		cfg.Retention.RetentionDays, int(cfg.Performance.BufferRetention.Hours()))
	go sweeper.Run(ctx)

	// 12. Deferred policy seeding: wait for the database to settle, then
	// make sure every monitored service has its policy row.
	go seedPolicies(ctx, cfg, policies)

	// 13. HTTP server
	httpServer := api.NewServer(cfg, ":"+getEnv("HTTP_PORT", "8080"), api.Deps{
		DB:            dbClient,
		Supervisor:    supervisor,
		Metrics:       metrics,
		Registry:      registry,
		Incidents:     incidents,
		Interactions:  interactions,
		Conversations: convMgr,
		Notifier:      alerts,
	})

	slog.Info("Railwatch started", "targets", len(cfg.Targets()))

	if err := httpServer.Run(ctx); err != nil {
		slog.Error("HTTP server error", "error", err)
	}

	// Graceful shutdown: stop the streams first, then drain the detector.
	supervisor.Shutdown()
	close(sink)
	select {
	case <-detectorDone:
	case <-time.After(10 * time.Second):
		slog.Warn("Detector shutdown timeout exceeded")
	}
	slog.Info("Shutdown complete")
}

// seedPolicies creates default policy rows for explicitly monitored
// services, retrying while the database warms up. Persistent failure
// leaves the system degraded but running.
func seedPolicies(ctx context.Context, cfg *config.Config, policies *store.PolicyStore) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(startupDeferral):
	}

	for _, serviceID := range cfg.Platform.Services {
		var err error
		for attempt := 1; attempt <= 3; attempt++ {
			if _, err = policies.GetOrCreate(ctx, serviceID, serviceID); err == nil {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}
		if err != nil {
			slog.Error("Policy seeding degraded, continuing without row",
				"service_id", serviceID, "error", err)
		}
	}
}
