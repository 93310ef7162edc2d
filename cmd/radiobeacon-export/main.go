package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/openbmap/radiobeacon-core/internal/catalog"
	"github.com/openbmap/radiobeacon-core/internal/config"
	"github.com/openbmap/radiobeacon-core/internal/export"
	"github.com/openbmap/radiobeacon-core/internal/observability"
	"github.com/openbmap/radiobeacon-core/internal/session"
	"github.com/openbmap/radiobeacon-core/internal/storage"
	"github.com/openbmap/radiobeacon-core/internal/upload"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config.yaml (defaults to config.yaml in cwd)")
		sessionID   = flag.Int64("session", 0, "Session to export (0 = currently active session)")
		formats     = flag.String("formats", "wifi,cells,gpx", "Comma-separated export formats: wifi, cells, gpx")
		doUpload    = flag.Bool("upload", false, "Upload produced XML files after export")
		syncCatalog = flag.Bool("sync-catalog", false, "Append the session's new wifis to the local catalog afterwards")
		rebuild     = flag.Bool("rebuild", false, "Catalog sync considers all wifis, not only uncatalogued ones")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.New(*configPath)
	if err != nil {
		log.Fatalf("radiobeacon-export: load config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel)
	metrics := observability.NewMetrics(observability.WithNamespace("radiobeacon_export"))

	store, err := storage.New(
		storage.Config{Path: cfg.DatabaseFile},
		storage.WithLogger(logger),
		storage.WithMetrics(metrics),
	)
	if err != nil {
		log.Fatalf("radiobeacon-export: init storage: %v", err)
	}
	if err := store.Start(ctx); err != nil {
		log.Fatalf("radiobeacon-export: start storage: %v", err)
	}
	defer func() {
		if err := store.Stop(); err != nil {
			logger.Error("storage stop error", "error", err)
		}
	}()

	id := *sessionID
	if id == 0 {
		id, err = store.ActiveSessionID(ctx)
		if err != nil {
			log.Fatalf("radiobeacon-export: resolve active session: %v", err)
		}
		if id == 0 {
			log.Fatal("radiobeacon-export: no active session and no --session given")
		}
	}

	exporter := export.New(store, cfg.ExportDirectory, cfg.SoftwareVersion,
		export.WithLogger(logger),
		export.WithMetrics(metrics),
	)

	var uploadable []string
	for _, format := range strings.Split(*formats, ",") {
		switch strings.TrimSpace(format) {
		case "wifi":
			files, err := exporter.ExportWifis(ctx, id, cfg.AnonymizeSSID)
			if err != nil {
				log.Fatalf("radiobeacon-export: wifi export: %v", err)
			}
			uploadable = append(uploadable, files...)
		case "cells":
			files, err := exporter.ExportCells(ctx, id)
			if err != nil {
				log.Fatalf("radiobeacon-export: cell export: %v", err)
			}
			uploadable = append(uploadable, files...)
		case "gpx":
			if _, err := exporter.ExportGPX(ctx, id, cfg.GPXVerbosity); err != nil {
				log.Fatalf("radiobeacon-export: gpx export: %v", err)
			}
		case "":
		default:
			log.Fatalf("radiobeacon-export: unknown format %q", format)
		}
	}

	if *doUpload && len(uploadable) > 0 {
		opts := []upload.Option{
			upload.WithLogger(logger),
			upload.WithMetrics(metrics),
			upload.WithKeepFiles(cfg.KeepExportFiles),
		}
		if cfg.VersionCheckURL != "" {
			opts = append(opts, upload.WithVersionCheck(cfg.VersionCheckURL))
		}
		if cfg.AnonymousUpload {
			opts = append(opts, upload.WithAnonymousToken(cfg.TokenURL))
		} else {
			opts = append(opts, upload.WithCredentials(upload.Credentials{
				User:     cfg.UploadUser,
				Password: cfg.UploadPassword,
			}))
		}

		uploader := upload.New(cfg.UploadURL, cfg.SoftwareVersion, opts...)
		report, err := uploader.UploadAll(ctx, uploadable)
		if err != nil {
			logger.Error("upload incomplete",
				"uploaded", len(report.Uploaded), "failed", len(report.Failed), "error", err)
		} else {
			logger.Info("upload completed", "uploaded", len(report.Uploaded))
		}

		if len(report.Uploaded) > 0 {
			manager := session.NewManager(store, session.DeviceIdentity{
				Manufacturer: cfg.DeviceManufacturer,
				Model:        cfg.DeviceModel,
				Revision:     cfg.DeviceRevision,
				SoftwareID:   cfg.SoftwareID,
			}, session.WithLogger(logger))
			if err := manager.MarkExported(ctx, id); err != nil {
				logger.Error("could not mark session exported", "error", err)
			}
		}
	}

	if *syncCatalog {
		cat, err := catalog.Open(cfg.CatalogFile,
			catalog.WithLogger(logger),
			catalog.WithMetrics(metrics),
		)
		if err != nil {
			log.Fatalf("radiobeacon-export: open catalog: %v", err)
		}
		defer func() {
			if err := cat.Close(); err != nil {
				logger.Error("catalog close error", "error", err)
			}
		}()

		added, err := cat.Sync(ctx, store, id, *rebuild)
		if err != nil {
			log.Fatalf("radiobeacon-export: catalog sync: %v", err)
		}
		logger.Info("catalog sync completed", "session_id", id, "added", added)
	}
}
