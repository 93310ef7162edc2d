package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/mqtt"
	"github.com/openbmap/radiobeacon-core/internal/pipeline"
	"github.com/openbmap/radiobeacon-core/internal/tracker"
)

const wifiReportJSON = `{
	"type": "wifi",
	"position": {"lat": 48.137, "lon": 11.575, "time": 1755165600000},
	"wifis": [{"bssid": "aa:bb:cc:dd:ee:ff", "ssid": "net", "time": 1755165601000}]
}`

func TestPipelineStoresWifiReport(t *testing.T) {
	client := newStubClient()
	agg := newStubAggregator()
	p := pipeline.New(client, stubSessions{id: 42}, agg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := p.Run(ctx); err != nil {
			t.Errorf("pipeline run error: %v", err)
		}
		close(done)
	}()

	<-client.started

	client.messages <- mqtt.Message{Topic: "radiobeacon/dev1/scan", Payload: []byte(wifiReportJSON)}

	select {
	case batch := <-agg.wifiBatches:
		if batch.begin.SessionID != 42 {
			t.Fatalf("expected session 42, got %d", batch.begin.SessionID)
		}
		if len(batch.sightings) != 1 || batch.sightings[0].BSSID != "aa:bb:cc:dd:ee:ff" {
			t.Fatalf("unexpected sightings: %+v", batch.sightings)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected wifi batch to be stored")
	}

	cancel()
	client.closeChannels()
	<-done
}

func TestPipelineDropsReportWithoutActiveSession(t *testing.T) {
	client := newStubClient()
	agg := newStubAggregator()
	p := pipeline.New(client, stubSessions{id: 0}, agg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := p.Run(ctx); err != nil {
			t.Errorf("pipeline run error: %v", err)
		}
		close(done)
	}()

	<-client.started

	client.messages <- mqtt.Message{Topic: "radiobeacon/dev1/scan", Payload: []byte(wifiReportJSON)}

	select {
	case <-agg.wifiBatches:
		t.Fatal("report must be dropped when no session is active")
	case <-time.After(150 * time.Millisecond):
	}

	cancel()
	client.closeChannels()
	<-done
}

func TestPipelineReportsDecodeFailures(t *testing.T) {
	client := newStubClient()
	agg := newStubAggregator()
	p := pipeline.New(client, stubSessions{id: 42}, agg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := p.Run(ctx); err != nil {
			t.Errorf("pipeline run error: %v", err)
		}
		close(done)
	}()

	<-client.started

	client.messages <- mqtt.Message{Topic: "radiobeacon/dev1/scan", Payload: []byte("not json")}

	select {
	case err := <-p.Errors():
		if err == nil {
			t.Fatal("expected decode error")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected decode error to surface")
	}

	cancel()
	client.closeChannels()
	<-done
}

func TestPipelineForwardsClientErrors(t *testing.T) {
	client := newStubClient()
	agg := newStubAggregator()
	p := pipeline.New(client, stubSessions{id: 42}, agg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := p.Run(ctx); err != nil {
			t.Errorf("pipeline run error: %v", err)
		}
		close(done)
	}()

	<-client.started

	client.errs <- errors.New("mqtt failure")

	select {
	case err := <-p.Errors():
		if err == nil || err.Error() == "" {
			t.Fatalf("expected forwarded error, got %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected error to be forwarded")
	}

	cancel()
	client.closeChannels()
	<-done
}

// --- test doubles ---

type stubClient struct {
	messages chan mqtt.Message
	errs     chan error
	started  chan struct{}
	stopOnce sync.Once
}

func newStubClient() *stubClient {
	return &stubClient{
		messages: make(chan mqtt.Message, 1),
		errs:     make(chan error, 1),
		started:  make(chan struct{}),
	}
}

func (s *stubClient) Start(context.Context) error {
	s.stopOnce = sync.Once{}
	closeChan(s.started)
	return nil
}

func (s *stubClient) Stop() {
	s.closeChannels()
}

func (s *stubClient) closeChannels() {
	s.stopOnce.Do(func() {
		closeChan(s.messages)
		closeChan(s.errs)
	})
}

func (s *stubClient) Messages() <-chan mqtt.Message { return s.messages }
func (s *stubClient) Errors() <-chan error          { return s.errs }

type stubSessions struct {
	id int64
}

func (s stubSessions) ActiveID(context.Context) (int64, error) { return s.id, nil }

type wifiBatch struct {
	begin, end model.Position
	sightings  []tracker.WifiSighting
}

type cellBatch struct {
	begin, end model.Position
	sightings  []tracker.CellSighting
}

type stubAggregator struct {
	wifiBatches chan wifiBatch
	cellBatches chan cellBatch
}

func newStubAggregator() *stubAggregator {
	return &stubAggregator{
		wifiBatches: make(chan wifiBatch, 1),
		cellBatches: make(chan cellBatch, 1),
	}
}

func (s *stubAggregator) StoreWifiScan(_ context.Context, begin, end model.Position, sightings []tracker.WifiSighting) error {
	s.wifiBatches <- wifiBatch{begin: begin, end: end, sightings: sightings}
	return nil
}

func (s *stubAggregator) StoreCellScan(_ context.Context, sightings []tracker.CellSighting, begin, end model.Position) error {
	s.cellBatches <- cellBatch{begin: begin, end: end, sightings: sightings}
	return nil
}

func closeChan[T any](ch chan T) {
	defer func() { _ = recover() }()
	close(ch)
}
