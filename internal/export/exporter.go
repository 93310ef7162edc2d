// Package export streams session data from the persistence layer into the
// upload XML formats and GPX 1.1, reading in fixed-size windows so memory
// stays bounded regardless of session size.
package export

import (
	"context"
	"log/slog"
	"time"

	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/observability"
	"github.com/openbmap/radiobeacon-core/internal/storage"
)

// DefaultWindowSize is the number of rows fetched per query cycle.
const DefaultWindowSize = 1000

// DefaultRecordsPerFile is the chunking bound for upload XML files.
const DefaultRecordsPerFile = 1000

// Reader is the slice of the persistence layer the exporters consume. All
// reads are windowed and read-only so ongoing scanning is never stalled.
type Reader interface {
	SessionByID(ctx context.Context, id int64) (model.Session, error)
	LogFileMetaBySession(ctx context.Context, sessionID int64) (model.LogFileMeta, error)
	PositionsBySession(ctx context.Context, sessionID int64, source model.PositionSource, offset, limit int) ([]model.Position, error)
	WifisBySession(ctx context.Context, sessionID int64, offset, limit int) ([]storage.WifiRecord, error)
	CellsBySession(ctx context.Context, sessionID int64, offset, limit int) ([]storage.CellRecord, error)
}

// Exporter writes session data to files in a target directory.
type Exporter struct {
	reader  Reader
	dir     string
	version string

	windowSize     int
	recordsPerFile int

	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures the exporter.
type Option func(*Exporter)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Exporter) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithWindowSize overrides the query window size.
func WithWindowSize(size int) Option {
	return func(e *Exporter) {
		if size > 0 {
			e.windowSize = size
		}
	}
}

// WithRecordsPerFile overrides the per-file chunking bound.
func WithRecordsPerFile(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.recordsPerFile = n
		}
	}
}

// New creates an exporter writing into dir. version is the software version
// string stamped into every produced file.
func New(reader Reader, dir, version string, opts ...Option) *Exporter {
	e := &Exporter{
		reader:         reader,
		dir:            dir,
		version:        version,
		windowSize:     DefaultWindowSize,
		recordsPerFile: DefaultRecordsPerFile,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
