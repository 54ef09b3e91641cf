/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the records billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, file, RB_* environment, flags)
  2. Initialize logging
  3. Initialize SQLite store
  4. Seed the rate card, if one is configured
  5. Create API handler and start the forecast scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  --config     Config file (.yaml, .yml, .toml, .json)
  --port       HTTP server port (default: 8080)
  --db         SQLite database path (default: ./data/billing.db)
               Use ":memory:" for in-memory database
  --rate-card  Rate card to seed on startup (.yaml, .toml, .json)
  --log-level  debug, info, warn, error

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the forecast scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database and a rate card
  ./server --db ./data/billing.db --rate-card ./ratecard.yaml

  # Run with in-memory database
  ./server --db :memory:

ENVIRONMENT:
  RB_PORT, RB_DB, RB_LOG_LEVEL override the config file; flags override both.

SEE ALSO:
  - api/server.go: Router configuration
  - internal/config/config.go: Configuration layers
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/records-billing/api"
	"github.com/warp/records-billing/internal/config"
	"github.com/warp/records-billing/internal/logging"
	"github.com/warp/records-billing/store/sqlite"
	"go.uber.org/zap"
)

var (
	cfgFile  string
	port     int
	dbPath   string
	rateCard string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the records billing API server",
	Long: `server exposes rate resolution, charge posting and forecast tracking
over HTTP, backed by SQLite.

Examples:
  server --db ./data/billing.db --rate-card ./ratecard.yaml
  server --config ./billing.yaml --port 3000`,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (.yaml, .toml, .json)")
	rootCmd.Flags().IntVar(&port, "port", 8080, "HTTP server port")
	rootCmd.Flags().StringVar(&dbPath, "db", "./data/billing.db", "SQLite database path")
	rootCmd.Flags().StringVar(&rateCard, "rate-card", "", "rate card to seed on startup")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers explicitly set flags over the config file.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = port
	}
	if flags.Changed("db") {
		cfg.Database.Path = dbPath
	}
	if flags.Changed("rate-card") {
		cfg.Billing.RateCardPath = rateCard
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	return cfg, cfg.Validate()
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
	defer logging.Sync()
	log := logging.Logger

	// Initialize store
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store)
	handler.Currency = cfg.Billing.Currency
	handler.RoundingPlaces = cfg.Billing.RoundingPlaces
	handler.StrictResolution = cfg.Billing.StrictResolution
	handler.Factory.DefaultCurrency = cfg.Billing.Currency

	if cfg.Billing.RateCardPath != "" {
		card, err := handler.Factory.LoadRateCard(cfg.Billing.RateCardPath)
		if err != nil {
			return fmt.Errorf("load rate card: %w", err)
		}
		created, err := handler.SeedRateCard(context.Background(), card)
		if err != nil {
			return err
		}
		log.Info("rate card seeded",
			zap.String("path", cfg.Billing.RateCardPath),
			zap.Int("lines", len(card.Lines)),
			zap.Int("created", created),
		)
	}

	// Start scheduler
	scheduler := api.NewForecastScheduler(handler.Reconciler)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.CheckInterval.Duration
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.Server.AllowedOrigins...),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)),
			zap.String("db", cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
