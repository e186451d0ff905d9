// Director server: watches token scans on the analysis backend and
// publishes their paced timelines over HTTP and WebSocket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/verdictswarm/director/pkg/api"
	"github.com/verdictswarm/director/pkg/cleanup"
	"github.com/verdictswarm/director/pkg/config"
	"github.com/verdictswarm/director/pkg/database"
	"github.com/verdictswarm/director/pkg/session"
	"github.com/verdictswarm/director/pkg/slack"
	"github.com/verdictswarm/director/pkg/store"
	"github.com/verdictswarm/director/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	setupLogging(getEnv("LOG_LEVEL", "info"))

	httpPort := getEnv("HTTP_PORT", "8080")
	grpcPort := getEnv("GRPC_HEALTH_PORT", "9090")

	slog.Info("Starting director",
		"version", version.Full(),
		"http_port", httpPort,
		"grpc_health_port", grpcPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (optional)
	var (
		dbClient   *database.Client
		recordings *store.Store
	)
	if database.Enabled() {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		recordings = store.New(dbClient.DB())
		slog.Info("Connected to PostgreSQL database")
	} else {
		slog.Warn("Database disabled, recordings and cached replay are off")
	}

	// 3. Retention cleanup
	var cleanupService *cleanup.Service
	if recordings != nil {
		cleanupService = cleanup.NewService(cfg.Retention, recordings)
		cleanupService.Start(ctx)
		defer cleanupService.Stop()
	}

	// 4. Session manager
	opts := []session.Option{
		session.WithAPIKey(os.Getenv(cfg.Upstream.APIKeyEnv)),
	}
	if recordings != nil {
		opts = append(opts, session.WithRecordings(recordings))
	}
	if cfg.Slack.Enabled {
		slackService := slack.NewService(slack.ServiceConfig{
			Token:        os.Getenv(cfg.Slack.TokenEnv),
			Channel:      cfg.Slack.Channel,
			DashboardURL: cfg.Slack.DashboardURL,
		})
		if slackService != nil {
			opts = append(opts, session.WithNotifier(slackService))
			slog.Info("Slack notifications enabled", "channel", cfg.Slack.Channel)
		} else {
			slog.Warn("Slack enabled but token or channel missing, notifications off",
				"token_env", cfg.Slack.TokenEnv)
		}
	}
	sessions := session.NewManager(cfg, opts...)

	// 5. HTTP server
	httpServer := api.NewServer(cfg, sessions)
	if dbClient != nil {
		httpServer.SetDatabase(dbClient)
		httpServer.SetRecordings(recordings)
	}

	errCh := make(chan error, 2)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 6. gRPC health server
	var probe healthProbe
	if dbClient != nil {
		probe = func(ctx context.Context) error {
			_, err := dbClient.Health(ctx)
			return err
		}
	}
	grpcHealthServer := newGRPCHealth(probe, 15*time.Second)
	grpcLn, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		slog.Error("Failed to listen for gRPC health", "port", grpcPort, "error", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
		if err := grpcHealthServer.Serve(grpcLn); err != nil {
			slog.Error("gRPC health server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Director started successfully",
		"max_sessions", cfg.Server.MaxSessions,
		"recordings", recordings != nil)

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown
	grpcHealthServer.Stop()

	sessionCtx, sessionCancel := context.WithTimeout(ctx, 10*time.Second)
	defer sessionCancel()
	if err := sessions.Shutdown(sessionCtx); err != nil {
		slog.Warn("Session shutdown timeout exceeded", "error", err)
	} else {
		slog.Info("Sessions stopped gracefully")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
