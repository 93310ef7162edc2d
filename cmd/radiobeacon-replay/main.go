package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/openbmap/radiobeacon-core/internal/config"
	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/observability"
	"github.com/openbmap/radiobeacon-core/internal/replay"
	"github.com/openbmap/radiobeacon-core/internal/storage"
	"github.com/openbmap/radiobeacon-core/internal/tracker"
)

func main() {
	var (
		source      = flag.String("source", "", "Path to JSONL capture log with one scan report per line")
		output      = flag.String("output", "radiobeacon_replay.db", "Path to SQLite database to write")
		configPath  = flag.String("config", "", "Path to config.yaml (defaults to config.yaml in cwd)")
		force       = flag.Bool("force", false, "Overwrite output database if it exists")
		description = flag.String("description", "replayed capture", "Description for the session holding replayed data")
		startLine   = flag.Int("start-line", 0, "Replay starting from this line (inclusive, 1-based)")
		endLine     = flag.Int("end-line", 0, "Replay up to this line (inclusive)")
		limit       = flag.Int("limit", 0, "Limit the number of reports to replay (0 = all)")
	)
	flag.Parse()

	if *source == "" {
		log.Fatal("radiobeacon-replay: --source is required")
	}

	if err := ensureOutput(*output, *force); err != nil {
		log.Fatalf("radiobeacon-replay: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.New(*configPath)
	if err != nil {
		log.Fatalf("radiobeacon-replay: load config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel)
	metrics := observability.NewMetrics(observability.WithNamespace("radiobeacon_replay"))

	store, err := storage.New(
		storage.Config{Path: *output},
		storage.WithLogger(observability.Component(logger, "storage")),
		storage.WithMetrics(metrics),
	)
	if err != nil {
		log.Fatalf("radiobeacon-replay: init store: %v", err)
	}

	if err := store.Start(ctx); err != nil {
		log.Fatalf("radiobeacon-replay: start store: %v", err)
	}
	defer func() {
		if err := store.Stop(); err != nil {
			log.Printf("radiobeacon-replay: warning: stop store: %v", err)
		}
	}()

	now := time.Now().UTC()
	sessionID, err := store.InsertSession(ctx, model.Session{
		CreatedAt:   now,
		LastUpdated: now,
		Description: *description,
	})
	if err != nil {
		log.Fatalf("radiobeacon-replay: create session: %v", err)
	}

	agg := tracker.New(store,
		tracker.WithLogger(observability.Component(logger, "tracker")),
		tracker.WithMetrics(metrics),
	)

	result, err := replay.ReplayFile(ctx, *source, sessionID, agg, replay.Options{
		StartLine: *startLine,
		EndLine:   *endLine,
		Limit:     *limit,
		Logger:    observability.Component(logger, "replay"),
	})
	if err != nil {
		log.Fatalf("radiobeacon-replay: %v", err)
	}

	logger.Info("replay completed",
		"source", *source,
		"output", *output,
		"session_id", sessionID,
		"stored", result.Stored,
		"skipped", result.Skipped,
	)
}

func ensureOutput(path string, force bool) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("output path cannot be empty")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	if _, err := os.Stat(abs); err == nil {
		if !force {
			return fmt.Errorf("output file %s already exists (use --force to overwrite)", abs)
		}
		if err := os.Remove(abs); err != nil {
			return fmt.Errorf("remove existing output %s: %w", abs, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("ensure output directory: %w", err)
	}

	return nil
}
