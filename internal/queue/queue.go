// Package queue wraps Valkey streams as a durable at-least-once work queue.
// Messages carry a single JSON "data" field.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/valkey-io/valkey-go"
)

// Stream names a Valkey stream and the consumer group reading it.
type Stream struct {
	Key   string
	Group string
}

// Producer appends messages to Valkey streams.
type Producer struct {
	client valkey.Client
}

func NewProducer(client valkey.Client) *Producer {
	return &Producer{client: client}
}

// Enqueue marshals msg and appends it to the stream, returning the entry id.
func (p *Producer) Enqueue(ctx context.Context, stream string, msg any) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	return p.EnqueueRaw(ctx, stream, data)
}

func (p *Producer) EnqueueRaw(ctx context.Context, stream string, data []byte) (string, error) {
	resp := p.client.Do(ctx, p.client.B().Xadd().
		Key(stream).Id("*").
		FieldValue().FieldValue("data", string(data)).
		Build())
	if err := resp.Error(); err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}

	id, err := resp.ToString()
	if err != nil {
		return "", fmt.Errorf("parse xadd response: %w", err)
	}
	return id, nil
}

// Handler processes one message payload. A returned error leaves the entry
// pending so it is redelivered when the consumer restarts.
type Handler func(ctx context.Context, data []byte) error

// Consumer reads a stream through its consumer group.
type Consumer struct {
	client     valkey.Client
	stream     Stream
	consumerID string
	batch      int64
	logger     *slog.Logger
}

func NewConsumer(client valkey.Client, stream Stream, consumerID string, logger *slog.Logger) *Consumer {
	return &Consumer{client: client, stream: stream, consumerID: consumerID, batch: 1, logger: logger}
}

// EnsureGroup creates the consumer group if it doesn't exist.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	resp := c.client.Do(ctx, c.client.B().XgroupCreate().
		Key(c.stream.Key).Group(c.stream.Group).Id("0").Mkstream().Build())
	if err := resp.Error(); err != nil {
		if !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("xgroup create %s: %w", c.stream.Key, err)
		}
	}
	return nil
}

// Consume blocks reading new entries until ctx is cancelled. Entries left
// pending by a previous run of this consumer are processed first.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	c.drainPending(ctx, handler)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp := c.client.Do(ctx, c.client.B().Xreadgroup().
			Group(c.stream.Group, c.consumerID).
			Count(c.batch).Block(5000).
			Streams().Key(c.stream.Key).Id(">").
			Build())

		if err := resp.Error(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Timeout is normal for BLOCK reads
			continue
		}

		results, err := resp.AsXRead()
		if err != nil {
			continue
		}

		for _, messages := range results {
			for _, msg := range messages {
				c.process(ctx, msg, handler)
			}
		}
	}
}

func (c *Consumer) drainPending(ctx context.Context, handler Handler) {
	resp := c.client.Do(ctx, c.client.B().Xreadgroup().
		Group(c.stream.Group, c.consumerID).
		Count(100).
		Streams().Key(c.stream.Key).Id("0").
		Build())

	if err := resp.Error(); err != nil {
		c.logger.Warn("drain pending failed", slog.String("stream", c.stream.Key), slog.String("error", err.Error()))
		return
	}

	results, err := resp.AsXRead()
	if err != nil {
		return
	}

	for _, messages := range results {
		for _, msg := range messages {
			c.logger.Info("recovering pending message", slog.String("stream", c.stream.Key), slog.String("id", msg.ID))
			c.process(ctx, msg, handler)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg valkey.XRangeEntry, handler Handler) {
	data, ok := msg.FieldValues["data"]
	if !ok {
		c.logger.Warn("message missing data field", slog.String("stream", c.stream.Key), slog.String("id", msg.ID))
		c.ack(ctx, msg.ID)
		return
	}

	if err := handler(ctx, []byte(data)); err != nil {
		c.logger.Error("handle message", slog.String("error", err.Error()),
			slog.String("stream", c.stream.Key),
			slog.String("id", msg.ID))
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, msgID string) {
	resp := c.client.Do(ctx, c.client.B().Xack().
		Key(c.stream.Key).Group(c.stream.Group).Id(msgID).Build())
	if err := resp.Error(); err != nil {
		c.logger.Error("xack failed", slog.String("error", err.Error()), slog.String("id", msgID))
	}
}
