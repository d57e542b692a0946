// Package main provides the curbside binary entry point.
// Curbside turns point-in-time driver snapshots into consolidated rideshare
// strategies by fanning out to model providers and coordinating through
// Postgres notifications.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	// Register LLM providers via init()
	_ "github.com/curbtheory/curbside/llm/providers"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/curbtheory/curbside/cache"
	"github.com/curbtheory/curbside/config"
	"github.com/curbtheory/curbside/events"
	"github.com/curbtheory/curbside/httpapi"
	"github.com/curbtheory/curbside/jobs"
	"github.com/curbtheory/curbside/llm"
	"github.com/curbtheory/curbside/storage"
	"github.com/curbtheory/curbside/strategy"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "curbside"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "curbside",
		Short: "Rideshare strategy generation service",
		Long: `Curbside ingests driver snapshots and produces consolidated rideshare
strategies by orchestrating model and search providers.

It provides:
- Concurrent strategist/briefer/holiday generation per snapshot
- Consolidation coordinated through Postgres advisory locks
- Completion events streamed to clients over SSE`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	// Local development convenience; absence is not an error.
	_ = godotenv.Load()

	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("Configuration loaded", "roles", config.Describe(cfg))

	ctx := context.Background()

	store, err := storage.New(ctx, cfg.Database.URL, cfg.Database.NotifyURL, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer store.Close()

	dispatcher := llm.NewClient(cfg.RoleConfigs(), llm.WithLogger(logger))
	pipeline := strategy.NewPipeline(store, dispatcher, logger)

	broker := events.NewBroker(logger)
	listener, err := events.NewListener(store.NotifyURL(), pipeline.MaybeConsolidate, store, broker, logger)
	if err != nil {
		return fmt.Errorf("create listener: %w", err)
	}

	pool := jobs.New(cfg.Blocks.Concurrency, cfg.Blocks.Timeout, logger)
	defer pool.Close()

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	listenerErr := make(chan error, 1)
	go func() {
		listenerErr <- listener.Run(signalCtx)
	}()

	startVenueWorker(signalCtx, broker, pipeline, store, pool, logger)

	server := httpapi.NewServer(pipeline, store, broker, cache.NewIdempotency(), logger)
	mux := http.NewServeMux()
	server.RegisterHandlers(mux)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.Addr)
		serverErr <- httpServer.ListenAndServe()
	}()

	if err := awaitShutdown(signalCtx, serverErr, listenerErr, logger); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}

	logger.Info("Curbside shutdown complete")
	return nil
}

// awaitShutdown blocks until a shutdown signal or an HTTP server failure.
// A dead notification listener is alert-logged but does not stop the
// process: direct HTTP calls keep working, event-driven consolidation is
// lost until restart.
func awaitShutdown(ctx context.Context, serverErr, listenerErr <-chan error, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Received shutdown signal")
			return nil
		case err := <-serverErr:
			return fmt.Errorf("http server: %w", err)
		case err := <-listenerErr:
			logger.Error("Notification listener stopped; event-driven consolidation lost until restart",
				"error", err)
			listenerErr = nil
		}
	}
}

// startVenueWorker feeds consolidated strategies into venue generation
// through the bounded pool and announces results on blocks_ready. An
// internal broker subscription: venue work rides the same notifications
// clients see.
func startVenueWorker(ctx context.Context, broker *events.Broker, pipeline *strategy.Pipeline, store *storage.Store, pool *jobs.Pool, logger *slog.Logger) {
	sub, err := broker.Subscribe(storage.ChannelStrategyReady)
	if err != nil {
		logger.Error("Venue worker subscription failed", "error", err)
		return
	}

	go func() {
		defer broker.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				payload, err := events.ParsePayload(ev.Payload)
				if err != nil {
					logger.Warn("Venue worker ignoring malformed event", "error", err)
					continue
				}
				snapshotID := payload.SnapshotID

				result, err := pool.Do(ctx, func(jobCtx context.Context) (any, error) {
					return pipeline.GenerateVenueCoordinates(jobCtx, snapshotID)
				})
				if errors.Is(err, jobs.ErrPoolClosed) {
					return
				}
				if errors.Is(err, strategy.ErrNotConsolidated) {
					continue
				}
				if err != nil {
					logger.Error("Venue generation failed", "snapshot_id", snapshotID, "error", err)
					continue
				}

				venues := result.([]strategy.Venue)
				rankingID := uuid.New().String()
				if err := store.NotifyBlocksReady(ctx, snapshotID, rankingID); err != nil {
					logger.Error("Blocks notification failed", "snapshot_id", snapshotID, "error", err)
					continue
				}
				logger.Info("Venues generated",
					"snapshot_id", snapshotID, "ranking_id", rankingID, "count", len(venues))
			}
		}
	}()
}
