// Package pipeline wires the broker feed to the scan aggregator: raw
// payloads are decoded into scan reports and stored against the active
// session.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/mqtt"
	"github.com/openbmap/radiobeacon-core/internal/observability"
	"github.com/openbmap/radiobeacon-core/internal/report"
	"github.com/openbmap/radiobeacon-core/internal/tracker"
)

// Client abstracts the MQTT client behaviour required by the pipeline.
type Client interface {
	Start(ctx context.Context) error
	Stop()
	Messages() <-chan mqtt.Message
	Errors() <-chan error
}

// SessionProvider resolves the session scan batches belong to. A zero id
// means no session is active and the report is dropped.
type SessionProvider interface {
	ActiveID(ctx context.Context) (int64, error)
}

// Aggregator persists decoded scan batches.
type Aggregator interface {
	StoreWifiScan(ctx context.Context, begin, end model.Position, sightings []tracker.WifiSighting) error
	StoreCellScan(ctx context.Context, sightings []tracker.CellSighting, begin, end model.Position) error
}

// Pipeline connects the MQTT client, report decoder, and aggregator.
type Pipeline struct {
	client     Client
	sessions   SessionProvider
	aggregator Aggregator
	logger     *slog.Logger
	metrics    *observability.Metrics
	errCh      chan error
	wg         sync.WaitGroup
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Pipeline) {
		if metrics != nil {
			p.metrics = metrics
		}
	}
}

// New creates a pipeline instance.
func New(client Client, sessions SessionProvider, aggregator Aggregator, opts ...Option) *Pipeline {
	p := &Pipeline{
		client:     client,
		sessions:   sessions,
		aggregator: aggregator,
		logger:     slog.Default(),
		errCh:      make(chan error, 32),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Errors exposes asynchronous processing errors.
func (p *Pipeline) Errors() <-chan error {
	return p.errCh
}

// Run starts the pipeline and blocks until the context is cancelled or the
// client stops.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.client == nil {
		return fmt.Errorf("pipeline: client is nil")
	}
	if p.sessions == nil {
		return fmt.Errorf("pipeline: session provider is nil")
	}
	if p.aggregator == nil {
		return fmt.Errorf("pipeline: aggregator is nil")
	}

	if err := p.client.Start(ctx); err != nil {
		return fmt.Errorf("pipeline: start client: %w", err)
	}

	p.wg.Add(2)
	go p.consume(ctx)
	go p.forwardClientErrors(ctx)

	<-ctx.Done()
	p.client.Stop()
	p.wg.Wait()
	close(p.errCh)

	return nil
}

func (p *Pipeline) consume(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.client.Messages():
			if !ok {
				return
			}
			p.handle(ctx, msg)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, msg mqtt.Message) {
	p.metrics.IncScansReceived()

	rep, err := report.Decode(msg.Payload)
	if err != nil {
		p.metrics.IncDecodeErrors()
		p.publishErr(fmt.Errorf("pipeline: decode: %w", err))
		return
	}

	sessionID, err := p.sessions.ActiveID(ctx)
	if err != nil {
		p.publishErr(fmt.Errorf("pipeline: resolve session: %w", err))
		return
	}
	if sessionID == 0 {
		p.metrics.IncDroppedReports()
		p.logger.Debug("no active session, dropping report", "topic", msg.Topic)
		return
	}

	begin, end := rep.Positions(sessionID)
	switch rep.Kind {
	case report.KindWifi:
		err = p.aggregator.StoreWifiScan(ctx, begin, end, rep.WifiSightings())
	case report.KindCell:
		err = p.aggregator.StoreCellScan(ctx, rep.CellSightings(), begin, end)
	}
	if err != nil {
		p.publishErr(fmt.Errorf("pipeline: store: %w", err))
	}
}

func (p *Pipeline) forwardClientErrors(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-p.client.Errors():
			if !ok {
				return
			}
			p.publishErr(fmt.Errorf("pipeline: mqtt: %w", err))
		}
	}
}

func (p *Pipeline) publishErr(err error) {
	if err == nil {
		return
	}
	p.metrics.IncPipelineErrors()
	select {
	case p.errCh <- err:
	default:
	}
}
