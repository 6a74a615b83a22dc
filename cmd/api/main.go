package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/simpleLoan/pkg/config"
	"github.com/mcclellann/simpleLoan/pkg/events"
	"github.com/mcclellann/simpleLoan/pkg/logging"
	"github.com/mcclellann/simpleLoan/pkg/metrics"
	"github.com/mcclellann/simpleLoan/pkg/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	storage, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize store", "driver", cfg.DB.Driver, "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.EventsEnabled() {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		logger.Info("publishing loan events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	defer publisher.Close()

	server := NewServer(storage, metrics.New(), publisher, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.HTTPAddr(), "driver", cfg.DB.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg config.Config) (store.Storage, error) {
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		if err := store.RunPostgresMigrations(cfg.DB.URL); err != nil {
			return nil, err
		}
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return store.NewPostgresStore(dbCtx, cfg.DB.URL)
	default:
		slog.Info("using sqlite store", "path", cfg.DB.SQLitePath)
		return store.NewSQLiteStore(cfg.DB.SQLitePath)
	}
}
