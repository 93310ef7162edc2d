package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/openbmap/radiobeacon-core/internal/api"
	"github.com/openbmap/radiobeacon-core/internal/app"
	"github.com/openbmap/radiobeacon-core/internal/catalog"
	"github.com/openbmap/radiobeacon-core/internal/config"
	"github.com/openbmap/radiobeacon-core/internal/mqtt"
	"github.com/openbmap/radiobeacon-core/internal/observability"
	"github.com/openbmap/radiobeacon-core/internal/pipeline"
	"github.com/openbmap/radiobeacon-core/internal/session"
	"github.com/openbmap/radiobeacon-core/internal/storage"
	"github.com/openbmap/radiobeacon-core/internal/tracker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.New("")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	logger := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	metrics := observability.NewMetrics()

	client, err := mqtt.NewClient(app.BuildMQTTConfig(cfg),
		mqtt.WithLogger(observability.Component(logger, "mqtt")),
		mqtt.WithMetrics(metrics),
	)
	if err != nil {
		logger.Error("failed to initialise MQTT client", slog.Any("error", err))
		return
	}

	store, err := storage.New(
		storage.Config{
			Path:                cfg.DatabaseFile,
			MaintenanceInterval: time.Duration(cfg.MaintenanceInterval) * time.Minute,
		},
		storage.WithLogger(observability.Component(logger, "storage")),
		storage.WithMetrics(metrics),
	)
	if err != nil {
		logger.Error("failed to initialise storage", slog.Any("error", err))
		return
	}

	if err := store.Start(ctx); err != nil {
		logger.Error("failed to start storage", slog.Any("error", err))
		return
	}
	defer func() {
		if err := store.Stop(); err != nil {
			logger.Error("storage stop error", slog.Any("error", err))
		}
	}()

	cat, err := catalog.Open(cfg.CatalogFile,
		catalog.WithLogger(observability.Component(logger, "catalog")),
		catalog.WithMetrics(metrics),
	)
	if err != nil {
		logger.Error("failed to open wifi catalog", slog.Any("error", err))
		return
	}
	defer func() {
		if err := cat.Close(); err != nil {
			logger.Error("catalog close error", slog.Any("error", err))
		}
	}()

	manager := session.NewManager(store, session.DeviceIdentity{
		Manufacturer: cfg.DeviceManufacturer,
		Model:        cfg.DeviceModel,
		Revision:     cfg.DeviceRevision,
		SoftwareID:   cfg.SoftwareID,
		SoftwareVer:  cfg.SoftwareVersion,
	}, session.WithLogger(observability.Component(logger, "session")))

	aggregator := tracker.New(store,
		tracker.WithCatalog(cat),
		tracker.WithLogger(observability.Component(logger, "tracker")),
		tracker.WithMetrics(metrics),
	)

	pipe := pipeline.New(
		client,
		manager,
		aggregator,
		pipeline.WithLogger(observability.Component(logger, "pipeline")),
		pipeline.WithMetrics(metrics),
	)

	obsServer := observability.NewServer(observability.ServerConfig{
		Address: cfg.ObservabilityAddress,
		Logger:  observability.Component(logger, "observability"),
		Metrics: metrics,
		Version: cfg.SoftwareVersion,
	})
	go obsServer.Run(ctx)

	if cfg.APIAddress != "" {
		apiServer := api.NewServer(cfg.APIAddress, api.Dependencies{
			Sessions: store,
			Catalog:  cat,
			Logger:   observability.Component(logger, "api"),
		})
		go func() {
			if err := apiServer.Run(ctx); err != nil {
				logger.Error("api server error", slog.Any("error", err))
			}
		}()
	}

	go func() {
		for err := range pipe.Errors() {
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			logger.Error("pipeline error", slog.Any("error", err))
		}
	}()

	if _, err := manager.Start(ctx); err != nil {
		logger.Error("failed to open tracking session", slog.Any("error", err))
		return
	}
	defer func() {
		if err := manager.Close(context.Background()); err != nil {
			logger.Error("session close error", slog.Any("error", err))
		}
	}()

	logger.Info("radiobeacon starting",
		slog.String("broker_host", cfg.MQTTBrokerAddress),
		slog.Int("broker_port", cfg.MQTTPort),
		slog.String("observability_address", cfg.ObservabilityAddress),
	)

	if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pipeline stopped with error", slog.Any("error", err))
	}

	logger.Info("radiobeacon stopped")
}
