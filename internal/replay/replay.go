// Package replay feeds scan reports captured to a JSONL log file back
// through the decoder and aggregator, so surveys recorded while the
// collector was offline still end up in the database.
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/report"
	"github.com/openbmap/radiobeacon-core/internal/tracker"
)

// Aggregator persists decoded scan batches.
type Aggregator interface {
	StoreWifiScan(ctx context.Context, begin, end model.Position, sightings []tracker.WifiSighting) error
	StoreCellScan(ctx context.Context, sightings []tracker.CellSighting, begin, end model.Position) error
}

// Options selects which lines of the source log to replay.
type Options struct {
	StartLine    int
	EndLine      int
	Limit        int
	MaxLineBytes int

	Logger *slog.Logger
}

const defaultMaxLineBytes = 1 << 20

// Result summarizes a replay run.
type Result struct {
	Stored  int
	Skipped int
}

// ReplayFile reads one JSON scan report per line from sourcePath and
// stores each against sessionID. Malformed lines are counted and skipped
// rather than aborting the run; store failures abort, since they indicate
// a broken target rather than a broken log.
func ReplayFile(ctx context.Context, sourcePath string, sessionID int64, agg Aggregator, opts Options) (Result, error) {
	if sourcePath == "" {
		return Result{}, errors.New("replay: source path must be provided")
	}
	if sessionID <= 0 {
		return Result{}, errors.New("replay: session id must be positive")
	}
	if agg == nil {
		return Result{}, errors.New("replay: aggregator must not be nil")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxLine := opts.MaxLineBytes
	if maxLine <= 0 {
		maxLine = defaultMaxLineBytes
	}

	file, err := os.Open(sourcePath)
	if err != nil {
		return Result{}, fmt.Errorf("replay: open source: %w", err)
	}
	defer file.Close()

	initial := 64 * 1024
	if maxLine < initial {
		initial = maxLine
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, initial), maxLine)

	var result Result
	line := 0
	for scanner.Scan() {
		line++
		if opts.StartLine > 0 && line < opts.StartLine {
			continue
		}
		if opts.EndLine > 0 && line > opts.EndLine {
			break
		}
		if opts.Limit > 0 && result.Stored >= opts.Limit {
			break
		}

		payload := scanner.Bytes()
		if len(payload) == 0 {
			continue
		}

		rep, err := report.Decode(payload)
		if err != nil {
			result.Skipped++
			logger.Warn("skipping malformed report", "line", line, "error", err)
			continue
		}

		begin, end := rep.Positions(sessionID)
		switch rep.Kind {
		case report.KindWifi:
			err = agg.StoreWifiScan(ctx, begin, end, rep.WifiSightings())
		case report.KindCell:
			err = agg.StoreCellScan(ctx, rep.CellSightings(), begin, end)
		}
		if err != nil {
			return result, fmt.Errorf("replay: store report at line %d: %w", line, err)
		}
		result.Stored++

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}
	}

	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("replay: read source: %w", err)
	}
	return result, nil
}
