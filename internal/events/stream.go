package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/maraichr/eomat/internal/queue"
)

// Stream is the Valkey stream carrying ledger events between processes.
var Stream = queue.Stream{Key: "eomat:events", Group: "eomat-engine"}

// StreamPublisher appends events to the Valkey event stream.
type StreamPublisher struct {
	producer *queue.Producer
}

func NewStreamPublisher(p *queue.Producer) *StreamPublisher {
	return &StreamPublisher{producer: p}
}

func (s *StreamPublisher) Publish(ctx context.Context, evs ...Event) error {
	for _, ev := range evs {
		if _, err := s.producer.Enqueue(ctx, Stream.Key, ev); err != nil {
			return fmt.Errorf("publish %s: %w", ev, err)
		}
	}
	return nil
}

// Relay decodes stream entries and republishes them on an in-process bus.
func Relay(bus *Bus, logger *slog.Logger) queue.Handler {
	return func(ctx context.Context, data []byte) error {
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Error("dropping undecodable event", slog.String("error", err.Error()))
			return nil
		}
		return bus.Publish(ctx, ev)
	}
}
