package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fenilsonani/feedmailer/internal/archive"
	"github.com/fenilsonani/feedmailer/internal/config"
	"github.com/fenilsonani/feedmailer/internal/controlplane"
	"github.com/fenilsonani/feedmailer/internal/dedupe"
	"github.com/fenilsonani/feedmailer/internal/httpapi"
	"github.com/fenilsonani/feedmailer/internal/logging"
	"github.com/fenilsonani/feedmailer/internal/processor"
	"github.com/fenilsonani/feedmailer/internal/retention"
	"github.com/fenilsonani/feedmailer/internal/scheduler"
	"github.com/fenilsonani/feedmailer/internal/secret"
	"github.com/fenilsonani/feedmailer/internal/store"
)

var (
	cfgFile string
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "feedmailer",
	Short: "Polls IMAP mailboxes and republishes matching messages as RSS/Atom feeds",
	Long: `feedmailer watches one or more IMAP mailboxes, matches incoming messages
against per-account rules, and materializes matches as items in durable
RSS/Atom feeds, applying a configurable mailbox side effect (mark read,
move, delete) once a message has been captured.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the polling scheduler and the feed/management HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		type resourceTracker struct {
			store      store.Store
			sched      *scheduler.Scheduler
			plane      *controlplane.Plane
			planeDone  chan struct{}
			httpServer *httpapi.Server
			logger     *logging.Logger
		}
		resources := &resourceTracker{}

		cleanup := func() {
			if resources.logger != nil {
				resources.logger.Info("starting graceful shutdown")
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			// Shut down in reverse order of initialization.
			if resources.httpServer != nil {
				if resources.logger != nil {
					resources.logger.Info("shutting down http api")
				}
				if err := resources.httpServer.Shutdown(shutdownCtx); err != nil {
					logOrStderr(resources.logger, "http api shutdown error", err)
				}
			}

			if resources.plane != nil {
				if resources.logger != nil {
					resources.logger.Info("shutting down control plane")
				}
				resources.plane.Shutdown()
				if resources.planeDone != nil {
					select {
					case <-resources.planeDone:
					case <-shutdownCtx.Done():
					}
				}
			}

			if resources.sched != nil {
				if resources.logger != nil {
					resources.logger.Info("stopping scheduler")
				}
				resources.sched.Stop()
			}

			if resources.store != nil {
				if resources.logger != nil {
					resources.logger.Info("closing database")
				}
				if err := resources.store.Close(); err != nil {
					logOrStderr(resources.logger, "database close error", err)
				}
			}

			if resources.logger != nil {
				resources.logger.Info("shutdown complete")
			}
		}

		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "PANIC during server operation: %v\n", r)
				cleanup()
				panic(r)
			}
		}()

		logger, err := logging.New(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		resources.logger = logger
		logger.Info("feedmailer starting")

		box, err := secret.NewBox(cfg.Secret.AccountSecretKey)
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to initialize secret box: %w", err)
		}

		openCtx, openCancel := context.WithTimeout(context.Background(), 30*time.Second)
		rawStore, err := store.Open(openCtx, cfg.Database.URL)
		openCancel()
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to open database: %w", err)
		}
		s := store.WithSecretBox(rawStore, box)
		resources.store = s
		logger.Info("database opened and migrated", "url", cfg.Database.URL)

		dedupeCache, err := dedupe.NewCache(dedupe.CacheConfig{
			RedisURL: cfg.Redis.URL,
			Prefix:   "feedmailer",
			TTL:      10 * time.Minute,
		})
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to connect duplicate-detection cache: %w", err)
		}
		if dedupeCache != nil {
			logger.Info("duplicate-detection accelerator connected", "url", cfg.Redis.URL)
		} else {
			logger.Info("duplicate-detection accelerator disabled, store-only dedupe")
		}
		detector := dedupe.New(s, dedupeCache)

		archiver := archive.New(cfg.Archive.Dir, cfg.Archive.RawMessagesEnabled)
		if cfg.Archive.RawMessagesEnabled {
			logger.Info("raw message archival enabled", "dir", cfg.Archive.Dir)
		}

		proc := processor.New(s, detector, archiver, logger)

		compactor := retention.New(s, logger)
		retentionFunc := func(ctx context.Context) error {
			result, err := compactor.Run(ctx)
			if err != nil {
				return err
			}
			logger.Info("retention compaction complete",
				"feeds_processed", result.FeedsProcessed,
				"items_removed", result.ItemsRemoved,
				"errors", len(result.Errors))
			return nil
		}

		sched := scheduler.New(s, proc, retentionFunc, cfg, logger)
		resources.sched = sched

		plane := controlplane.New(sched, logger)
		resources.plane = plane

		runCtx, runCancel := context.WithCancel(context.Background())
		defer runCancel()

		planeDone := make(chan struct{})
		resources.planeDone = planeDone
		go func() {
			defer close(planeDone)
			plane.Run(runCtx)
		}()

		sched.Start(runCtx)
		logger.Info("scheduler started",
			"global_interval", cfg.GlobalInterval().String(),
			"max_concurrent_accounts", cfg.Background.MaxConcurrentAccounts)

		if !cfg.Background.ProcessingEnabled {
			plane.Pause()
			logger.Info("background processing starts paused per configuration")
		}

		httpSrv := httpapi.New(cfg, s, plane, logger)
		resources.httpServer = httpSrv
		httpSrv.Start()

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("feedmailer serving on %s\n", addr)
		fmt.Println("Server is running. Press Ctrl+C to stop.")
		logger.Info("all services started successfully", "addr", addr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig.String())
			fmt.Printf("\nReceived signal %s, shutting down...\n", sig)
		case err := <-httpSrv.Err():
			logger.Error("http api failed", "error", err.Error())
			fmt.Fprintf(os.Stderr, "http api failed: %v\n", err)
		}

		cleanup()

		logger.Info("feedmailer stopped")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Open the database and apply any pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := store.Open(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer s.Close()

		fmt.Println("Migrations completed successfully")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("feedmailer v0.1.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func logOrStderr(logger *logging.Logger, msg string, err error) {
	if logger != nil {
		logger.Error(msg, "error", err.Error())
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
}
