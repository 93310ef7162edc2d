package observability

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles Prometheus metrics used across the capture and upload
// stages.
type Metrics struct {
	namespace string

	scansReceived    prometheus.Counter
	decodeErrors     prometheus.Counter
	storeErrors      prometheus.Counter
	scansStored      *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	positionsStored  prometheus.Counter
	wifisStored      prometheus.Counter
	cellsStored      prometheus.Counter
	catalogHits      prometheus.Counter
	catalogAppends   prometheus.Counter
	exportFiles      prometheus.Counter
	uploadsSucceeded prometheus.Counter
	uploadsFailed    prometheus.Counter
	uploadRetries    prometheus.Counter
	activeUploads    prometheus.Gauge
	pipelineErrors   prometheus.Counter
	droppedReports   prometheus.Counter

	healthy atomic.Bool
}

// MetricsOption customises metrics creation.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	namespace string
	registry  prometheus.Registerer
}

// WithNamespace overrides the metric namespace (default: radiobeacon).
func WithNamespace(ns string) MetricsOption {
	return func(cfg *metricsConfig) {
		if ns != "" {
			cfg.namespace = ns
		}
	}
}

// WithRegistry overrides the Prometheus registerer (useful for tests).
func WithRegistry(reg prometheus.Registerer) MetricsOption {
	return func(cfg *metricsConfig) {
		if reg != nil {
			cfg.registry = reg
		}
	}
}

// NewMetrics initialises and registers pipeline metrics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := metricsConfig{
		namespace: "radiobeacon",
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Metrics{
		namespace: cfg.namespace,
		scansReceived: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "scans_received_total",
			Help:      "Total number of scan reports received from the feed.",
		}),
		decodeErrors: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of scan report decoding failures.",
		}),
		storeErrors: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "store_errors_total",
			Help:      "Total number of storage errors.",
		}),
		scansStored: promauto.With(cfg.registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "scans_stored_total",
			Help:      "Total number of scan batches persisted, partitioned by kind.",
		}, []string{"kind"}),
		queueDepth: promauto.With(cfg.registry).NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "storage_queue_depth",
			Help:      "Current number of scan batches waiting in the storage queue.",
		}),
		positionsStored: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "positions_stored_total",
			Help:      "Total number of position rows written.",
		}),
		wifisStored: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "wifis_stored_total",
			Help:      "Total number of wifi observation rows written.",
		}),
		cellsStored: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "cells_stored_total",
			Help:      "Total number of cell observation rows written.",
		}),
		catalogHits: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "catalog_hits_total",
			Help:      "Total number of observed BSSIDs already present in the catalog.",
		}),
		catalogAppends: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "catalog_appends_total",
			Help:      "Total number of BSSIDs appended to the reference catalog.",
		}),
		exportFiles: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "export_files_total",
			Help:      "Total number of export files completed.",
		}),
		uploadsSucceeded: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "uploads_succeeded_total",
			Help:      "Total number of files uploaded successfully.",
		}),
		uploadsFailed: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "uploads_failed_total",
			Help:      "Total number of files that exhausted their upload attempts.",
		}),
		uploadRetries: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "upload_retries_total",
			Help:      "Total number of upload retry attempts.",
		}),
		activeUploads: promauto.With(cfg.registry).NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "active_uploads",
			Help:      "Number of uploads currently in flight.",
		}),
		pipelineErrors: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "pipeline_errors_total",
			Help:      "Total number of pipeline errors forwarded to the supervisor.",
		}),
		droppedReports: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "reports_dropped_total",
			Help:      "Total number of scan reports dropped before decode.",
		}),
	}

	m.healthy.Store(true)
	return m
}

// IncScansReceived increments the raw scan report counter.
func (m *Metrics) IncScansReceived() {
	if m == nil {
		return
	}
	m.scansReceived.Inc()
}

// IncDecodeErrors increments decode error counter and marks service unhealthy.
func (m *Metrics) IncDecodeErrors() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
	m.healthy.Store(false)
}

// IncStoreErrors increments store error counter and marks service unhealthy.
func (m *Metrics) IncStoreErrors() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
	m.healthy.Store(false)
}

// ObserveScanStored records a persisted scan batch of the given kind
// ("wifi" or "cell").
func (m *Metrics) ObserveScanStored(kind string) {
	if m == nil {
		return
	}
	m.scansStored.WithLabelValues(kind).Inc()
}

// ObserveQueueDepth tracks the storage queue depth.
func (m *Metrics) ObserveQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// AddPositionsStored notes persisted position rows.
func (m *Metrics) AddPositionsStored(n int) {
	if m == nil {
		return
	}
	m.positionsStored.Add(float64(n))
}

// AddWifisStored notes persisted wifi observation rows.
func (m *Metrics) AddWifisStored(n int) {
	if m == nil {
		return
	}
	m.wifisStored.Add(float64(n))
}

// AddCellsStored notes persisted cell observation rows.
func (m *Metrics) AddCellsStored(n int) {
	if m == nil {
		return
	}
	m.cellsStored.Add(float64(n))
}

// IncCatalogHits notes a BSSID found in the reference catalog.
func (m *Metrics) IncCatalogHits() {
	if m == nil {
		return
	}
	m.catalogHits.Inc()
}

// AddCatalogAppends notes rows appended to the reference catalog.
func (m *Metrics) AddCatalogAppends(n int) {
	if m == nil {
		return
	}
	m.catalogAppends.Add(float64(n))
}

// IncExportFiles notes a completed export file.
func (m *Metrics) IncExportFiles() {
	if m == nil {
		return
	}
	m.exportFiles.Inc()
}

// IncUploadsSucceeded notes a successful file upload.
func (m *Metrics) IncUploadsSucceeded() {
	if m == nil {
		return
	}
	m.uploadsSucceeded.Inc()
}

// IncUploadsFailed notes a file that exhausted its attempts.
func (m *Metrics) IncUploadsFailed() {
	if m == nil {
		return
	}
	m.uploadsFailed.Inc()
}

// IncUploadRetries notes a retried upload attempt.
func (m *Metrics) IncUploadRetries() {
	if m == nil {
		return
	}
	m.uploadRetries.Inc()
}

// SetActiveUploads tracks in-flight uploads.
func (m *Metrics) SetActiveUploads(n int) {
	if m == nil {
		return
	}
	m.activeUploads.Set(float64(n))
}

// IncPipelineErrors increments general pipeline error counter.
func (m *Metrics) IncPipelineErrors() {
	if m == nil {
		return
	}
	m.pipelineErrors.Inc()
	m.healthy.Store(false)
}

// IncDroppedReports notes a scan report dropped before decode.
func (m *Metrics) IncDroppedReports() {
	if m == nil {
		return
	}
	m.droppedReports.Inc()
}

// Healthy reports the current liveness flag.
func (m *Metrics) Healthy() bool {
	if m == nil {
		return true
	}
	return m.healthy.Load()
}

// MarkHealthy resets the liveness flag.
func (m *Metrics) MarkHealthy() {
	if m == nil {
		return
	}
	m.healthy.Store(true)
}
