package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"weather-archive-server/internal/modules/weather/ingest"
	"weather-archive-server/internal/modules/weather/types"
	"weather-archive-server/internal/mqtt"
)

type fakeSubscriber struct {
	handler mqtt.MessageHandler
}

func (f *fakeSubscriber) SetMessageHandler(h mqtt.MessageHandler) { f.handler = h }

type fakeIngestor struct {
	got []types.Observation
	err error
}

func (f *fakeIngestor) IngestObservation(_ context.Context, o types.Observation) (ingest.RowOutcome, error) {
	f.got = append(f.got, o)
	return ingest.RowInserted, f.err
}

func TestRegister_ForwardsObservations(t *testing.T) {
	ing := &fakeIngestor{}
	sub := &fakeSubscriber{}
	NewService(ing, nil).Register(sub)

	if sub.handler == nil {
		t.Fatal("Register did not set a handler")
	}
	o := types.Observation{Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	if err := sub.handler(context.Background(), o); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(ing.got) != 1 || !ing.got[0].Timestamp.Equal(o.Timestamp) {
		t.Errorf("ingestor got %v", ing.got)
	}
}

func TestRegister_PropagatesErrors(t *testing.T) {
	ing := &fakeIngestor{err: errors.New("rolled back")}
	sub := &fakeSubscriber{}
	NewService(ing, nil).Register(sub)

	if err := sub.handler(context.Background(), types.Observation{}); !errors.Is(err, ing.err) {
		t.Errorf("handler err = %v; want %v", err, ing.err)
	}
}
