package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autotrader/config"
	"autotrader/internal/adapters/binanceclient"
	"autotrader/internal/adapters/httpapi"
	"autotrader/internal/adapters/logger"
	"autotrader/internal/adapters/sqlite"
	"autotrader/internal/app"
	"autotrader/internal/locker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath:     cfg.DBPath,
		Logger:     log,
		MaxRetries: cfg.StoreMaxRetries,
	})
	if err != nil {
		log.Error(ctx, err, "failed to open trade store", nil)
		os.Exit(1)
	}
	defer repo.Close()

	gateway, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               log,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		log.Error(ctx, err, "failed to create exchange gateway", nil)
		os.Exit(1)
	}

	locks := locker.New()

	svc, err := app.NewService(app.Config{
		Logger:         log,
		Gateway:        gateway,
		Trades:         repo,
		Updates:        repo,
		Locker:         locks,
		TP1Notional:    cfg.TP1Notional,
		TP2Notional:    cfg.TP2Notional,
		GatewayTimeout: cfg.GatewayTimeout,
	})
	if err != nil {
		log.Error(ctx, err, "failed to create lifecycle service", nil)
		os.Exit(1)
	}

	intake, err := app.NewIntake(cfg.EntryNotional, cfg.DefaultLeverage)
	if err != nil {
		log.Error(ctx, err, "failed to create signal intake", nil)
		os.Exit(1)
	}

	reconciler, err := app.NewReconciler(app.ReconcilerConfig{
		Logger:  log,
		Gateway: gateway,
		Trades:  repo,
		Service: svc,
	})
	if err != nil {
		log.Error(ctx, err, "failed to create reconciler", nil)
		os.Exit(1)
	}
	if err := reconciler.Start(ctx); err != nil {
		log.Error(ctx, err, "failed to start reconciler", nil)
		os.Exit(1)
	}
	defer reconciler.Stop()

	sweeper, err := app.NewSweeper(app.SweeperConfig{
		Logger:   log,
		Gateway:  gateway,
		Trades:   repo,
		Service:  svc,
		Interval: cfg.SweepInterval,
		MaxAge:   cfg.StaleOrderAge,
	})
	if err != nil {
		log.Error(ctx, err, "failed to create sweeper", nil)
		os.Exit(1)
	}
	sweeper.Start(ctx)

	server, err := httpapi.New(httpapi.Config{
		Addr:    cfg.HTTPAddr,
		Service: svc,
		Intake:  intake,
		Gateway: gateway,
		Logger:  log,
	})
	if err != nil {
		log.Error(ctx, err, "failed to create HTTP server", nil)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info(ctx, "shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil {
			log.Error(ctx, err, "HTTP server failed", nil)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, err, "HTTP server shutdown failed", nil)
	}

	log.Info(context.Background(), "shutdown complete", nil)
}
