package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vaultsync/internal/bootstrap"
	"vaultsync/internal/infrastructure/configloader"
	"vaultsync/internal/infrastructure/restapi"
	"vaultsync/internal/pkg/logger"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "config/config.yml"
	startupTimeout    = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	flag.Parse()

	tempZapLogger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to initialize temporary zapLogger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := configloader.Load(*configPath)
	if err != nil {
		tempZapLogger.Fatal("Failed to load configuration", zap.String("file", *configPath), zap.Error(err))
	}

	zapLogger, err := newZapLogger(cfg.Logging)
	if err != nil {
		tempZapLogger.Fatal("Failed to initialize zapLogger", zap.Error(err))
	}
	defer zapLogger.Sync()

	slogLevel, _ := logger.ParseLevel(cfg.Logging.Level)
	slogHandler := slogzap.Option{Level: slogLevel, Logger: zapLogger}.NewZapHandler()
	logger.SetLogger(slog.New(slogHandler))

	logger.Info("Vault session service starting", "config", *configPath)

	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	container, err := bootstrap.Build(startCtx, cfg, zapLogger, bootstrap.Options{Events: true, RuntimeCollectors: true})
	cancelStart()
	if err != nil {
		logger.Fatal("Failed to build application", "error", err)
	}
	container.Start()

	appLogger := logger.With("component", "restapi")
	vaultHandler := restapi.NewVaultHandler(
		container.Session,
		container.Wallet,
		container.Prices,
		container.Network,
		cfg.TransactionTimeout(),
		appLogger,
	)
	eventsHandler := restapi.NewEventsHandler(
		container.Hub,
		container.Session,
		container.Prices,
		container.Network,
		cfg.Server.CORSAllowedOrigins,
		appLogger,
	)
	router := restapi.SetupRouter(vaultHandler, eventsHandler, restapi.RouterConfig{
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Gatherer:       container.Registry,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", "error", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	<-signalChan

	logger.Info("Shutdown signal received, stopping HTTP server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	// Closing the session first ends websocket streams, which Shutdown does not wait for.
	container.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	} else {
		logger.Info("HTTP server stopped")
	}
	logger.Info("Vault session service stopped")
}

func newZapLogger(cfg configloader.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
