package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"adengine/internal/delivery"
	"adengine/internal/domain"
	"adengine/internal/infrastructure"
	"adengine/internal/usecase"
	"adengine/pkg/config"
	"adengine/pkg/logger"
	"adengine/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// store is what both storage backends provide.
type store interface {
	domain.AdRepository
	domain.StatsProvider
	domain.EventRepository
	domain.BillingStore
	infrastructure.Seeder
	Accounts() domain.AccountRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)
	log.Info("Starting ad engine")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx := context.Background()
	m := metrics.New()

	st, closeStore, err := openStore(cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Store.SeedFile != "" {
		data, err := infrastructure.LoadSeedFile(cfg.Store.SeedFile)
		if err != nil {
			return err
		}
		if err := infrastructure.Seed(ctx, st, data); err != nil {
			return err
		}
		log.WithFields(map[string]any{
			"accounts": len(data.Accounts),
			"ads":      len(data.Ads),
		}).Info("Seed data loaded")
	}

	var clickLock domain.ClickLock
	if cfg.Redis.Addr != "" {
		client, err := infrastructure.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		clickLock = infrastructure.NewRedisClickLock(client)
		log.WithField("addr", cfg.Redis.Addr).Info("Redis click lock enabled")
	}

	publisher, closePublisher, err := infrastructure.NewEventPublisher(cfg.EventHub, log, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePublisher(); err != nil {
			log.WithError(err).Warn("Failed to close event publisher")
		}
	}()

	// Initialize services
	billing := usecase.NewClickBillingEngine(st, clickLock, cfg.Billing, log, m)
	deliveryService := usecase.NewDeliveryService(st, st, usecase.NewAuctionRanker(cfg.Auction), billing, publisher, log, m)
	reportService := usecase.NewReportService(st, st.Accounts(), st, log, m)

	// Initialize HTTP layer
	handlers := delivery.NewHTTPHandlers(deliveryService, reportService, log)
	router := delivery.NewHTTPRouter(handlers, cfg.Server, log, m, prometheus.DefaultGatherer)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Info("Server exited")
	return nil
}

func openStore(cfg config.StoreConfig, log *logger.Logger) (store, func(), error) {
	if cfg.Driver == "" || cfg.Driver == "memory" {
		log.Warn("Using in-memory store; data is lost on restart")
		return infrastructure.NewMemoryStore(log), func() {}, nil
	}

	db, err := infrastructure.OpenDatabase(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return infrastructure.NewGormStore(db, log), closeDB, nil
}
