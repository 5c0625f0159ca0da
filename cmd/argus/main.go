// Argus control plane server: ingests agent runtime metrics, enforces
// tenant quotas, manages MCP server connections, evaluates alerts, and runs
// scheduled jobs.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codeready-toolchain/argus/pkg/alerting"
	"github.com/codeready-toolchain/argus/pkg/api"
	"github.com/codeready-toolchain/argus/pkg/cleanup"
	"github.com/codeready-toolchain/argus/pkg/config"
	"github.com/codeready-toolchain/argus/pkg/database"
	"github.com/codeready-toolchain/argus/pkg/hooks"
	"github.com/codeready-toolchain/argus/pkg/mcp"
	"github.com/codeready-toolchain/argus/pkg/models"
	"github.com/codeready-toolchain/argus/pkg/pipeline"
	"github.com/codeready-toolchain/argus/pkg/quota"
	"github.com/codeready-toolchain/argus/pkg/scheduler"
	"github.com/codeready-toolchain/argus/pkg/slack"
	"github.com/codeready-toolchain/argus/pkg/store"
	"github.com/codeready-toolchain/argus/pkg/teams"
	"github.com/codeready-toolchain/argus/pkg/warnings"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting Argus", "http_port", httpPort, "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (runs migrations on connect)
	dbClient, err := database.NewClient(ctx, database.ConfigFromEnv())
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

	// 3. Stores
	metricStore := store.NewMetricStore(dbClient.Pool())
	queryService := store.NewMetricQueryService(dbClient.Pool())
	tenantStore := store.NewTenantStore(dbClient.DB())
	alertStore := store.NewAlertStore(dbClient.DB())
	mcpServerStore := store.NewMcpServerStore(dbClient.DB())
	jobStore := store.NewJobStore(dbClient.DB())
	approvalStore := store.NewApprovalStore(dbClient.DB())
	policyStore := store.NewToolPolicyStore(dbClient.DB())
	retentionStore := store.NewRetentionStore(dbClient.DB())

	// 4. Metric pipeline
	promReg := prometheus.NewRegistry()
	monitor := pipeline.NewHealthMonitor(promReg)
	ring := pipeline.NewRingBuffer(cfg.Pipeline.RingBufferSize)
	writer := pipeline.NewWriter(ring, metricStore, monitor, cfg.Pipeline)
	writer.Start(ctx)
	collector := pipeline.NewCollector(ring, monitor, writer)

	// 5. Hook chain: quota gate first, collector last
	chain := hooks.NewChain()
	chain.Register(quota.NewEnforcer(cfg.Quota, tenantStore, queryService, collector))
	chain.Register(collector)

	// 6. MCP connection management
	warningsReg := warnings.NewRegistry()
	manager := mcp.NewConnectionManager(cfg.MCP, mcp.NewStoreSync(mcpServerStore))
	manager.SetStatusHook(warningsReg.McpStatusHook)
	reconnector := mcp.NewReconnectCoordinator(cfg.MCP.Reconnection, manager)

	for _, s := range cfg.MCPServers {
		server := &models.McpServer{
			Name:        s.Name,
			Transport:   models.McpTransportType(s.Transport),
			Config:      s.Config,
			AutoConnect: s.AutoConnect,
			Description: s.Description,
		}
		if err := manager.Register(ctx, server); err != nil {
			slog.Error("Failed to register configured MCP server",
				"server", s.Name, "error", err)
		}
	}
	// Store-backed definitions win over static config on name conflicts.
	manager.RestoreFromStore(ctx)

	// 7. Notifications
	slackSvc := slack.NewService(slack.ServiceConfig{
		Token:   os.Getenv("SLACK_BOT_TOKEN"),
		Channel: os.Getenv("SLACK_CHANNEL_ID"),
	})
	teamsSvc := teams.NewService(os.Getenv("TEAMS_WEBHOOK_URL"))

	// 8. Alerting
	notifiers := []alerting.Notifier{alerting.NewLogNotifier()}
	if slackSvc != nil {
		notifiers = append(notifiers, alerting.NewSenderNotifier("slack", slackSvc))
	}
	if teamsSvc != nil {
		notifiers = append(notifiers, alerting.NewSenderNotifier("teams", teamsSvc))
	}
	baselines := alerting.NewBaselineCalculator(queryService, cfg.Alerting.BaselineCacheTTL)
	evaluator := alerting.NewEvaluator(alertStore, tenantStore, queryService,
		monitor, baselines, notifiers)
	alertScheduler := alerting.NewScheduler(cfg.Alerting, evaluator)
	alertScheduler.Start(ctx)

	// 9. Scheduled jobs. No agent executor is wired here; AGENT jobs fail
	// until the runtime integration provides one.
	executor := scheduler.NewExecutor(cfg.Scheduler, jobStore, manager,
		nil, nil, policyStore, approvalStore, chain,
		scheduler.NewNotifications(slackSvc, teamsSvc))
	jobScheduler := scheduler.NewScheduler(jobStore, executor)
	if err := jobScheduler.Start(ctx); err != nil {
		slog.Error("Failed to start job scheduler", "error", err)
		os.Exit(1)
	}

	// 10. Retention
	cleanupSvc := cleanup.NewService(cfg.Retention, retentionStore,
		approvalStore, cfg.Scheduler.ApprovalTimeout)
	cleanupSvc.Start(ctx)

	// 11. HTTP server
	apiServer := api.NewServer(dbClient, ring, monitor, manager, alertStore,
		warningsReg, promReg)
	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: apiServer.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("Argus started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Graceful shutdown: stop ingress first, flush the pipeline last.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	jobScheduler.Stop()
	alertScheduler.Stop()
	cleanupSvc.Stop()
	reconnector.Stop()
	manager.Close(shutdownCtx)
	writer.Stop()

	slog.Info("Shutdown complete")
}
