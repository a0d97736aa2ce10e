package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/utimer/internal/audit"
	"github.com/fentz26/utimer/internal/clock"
	"github.com/fentz26/utimer/internal/config"
	"github.com/fentz26/utimer/internal/controlplane"
	"github.com/fentz26/utimer/internal/log"
	"github.com/fentz26/utimer/internal/maintenance"
	"github.com/fentz26/utimer/internal/notify"
	"github.com/fentz26/utimer/internal/scheduler"
	"github.com/fentz26/utimer/internal/store"
	"github.com/fentz26/utimer/internal/timers"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the utimer daemon",
	Long:  `Starts the utimer daemon, which stores timers, fires them and serves the HTTP API.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
}

// backend bundles what the daemon needs from whichever store is configured.
type backend interface {
	store.Backend
	audit.Recorder
	controlplane.Pinger
}

func openBackend(cfg *config.Config) (backend, func() error, error) {
	switch cfg.Store.Backend {
	case config.BackendFile:
		f, err := store.NewFile(afero.NewOsFs(), cfg.Store.FileDir)
		if err != nil {
			return nil, nil, err
		}
		return f, func() error { return nil }, nil
	default:
		s, err := store.New(cfg.Daemon.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

func buildNotifier(cfg *config.Config, hub *notify.Hub, logger logrus.FieldLogger) notify.Dispatcher {
	sinks := notify.Multi{notify.NewLogSink(logger), hub}
	if cfg.Notify.Command == "" {
		return sinks
	}
	sink, err := notify.NewCommandSink(cfg.Notify.Command, cfg.Notify.Args, cfg.Notify.AllowedCommands)
	if err != nil {
		logger.WithError(err).Warn("Command notifier disabled")
		return sinks
	}
	return append(sinks, sink)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Daemon.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.Daemon.DBPath = dbPath
	}

	log.SetLevel(cfg.Log.Level)
	logger := log.GetLogger()
	logger.WithField("backend", cfg.Store.Backend).Info("Starting utimer daemon...")

	// Initialize store
	db, closeStore, err := openBackend(cfg)
	if err != nil {
		return err
	}

	// Initialize components
	ts := store.NewTaskStore(db)
	pdr := audit.NewPDRWriter(db)
	mgr := timers.NewManager(ts, clock.New(), logger)
	hub := notify.NewHub(logger)

	sched := scheduler.New(mgr, buildNotifier(cfg, hub, logger), pdr, &cfg.Scheduler, logger)
	sweeper := maintenance.New(mgr, ts, pdr, &cfg.Maintenance, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		closeStore()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		sched.Stop()
		closeStore()
		return fmt.Errorf("start maintenance: %w", err)
	}

	// Create service and server
	service := controlplane.NewService(mgr, sched, sweeper, pdr)
	server := controlplane.NewServer(service, db, hub, cfg.Daemon.Listen, logger)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Received signal, initiating graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("Server error")
			runErr = err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	hub.Close()
	logger.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown error")
	}

	cancel()
	sweeper.Stop()
	sched.Stop()

	logger.Info("Closing store...")
	if err := closeStore(); err != nil {
		logger.WithError(err).Warn("Store close error")
	}

	logger.Info("Shutdown complete")
	return runErr
}
