// Package events carries store events (orders, logins) through a Redis stream
// to the subscribers registered at startup.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/salesboost/exitintent/internal/metrics"
	"github.com/salesboost/exitintent/internal/model"
)

const (
	// StreamKey is the Redis stream for store events.
	StreamKey = "stream:store_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:store_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// MaxDeadLetterLen is the approximate max length of the dead-letter stream.
	MaxDeadLetterLen = 10000
)

// Publisher enqueues store events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "events.publisher"),
		metrics: recorder,
	}
}

// Publish validates and appends an event to the stream. Missing ids and
// timestamps are filled in.
func (p *Publisher) Publish(ctx context.Context, event *model.StoreEvent) (string, error) {
	if err := event.Validate(); err != nil {
		return "", fmt.Errorf("invalid event: %w", err)
	}
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	streamID, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"type":    string(event.Type),
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		p.metrics.IncEventPublished(metrics.StatusFailed)
		return "", fmt.Errorf("xadd: %w", err)
	}

	p.metrics.IncEventPublished(metrics.StatusSuccess)
	p.logger.Debug("store event published",
		"event_id", event.ID,
		"type", event.Type,
		"stream_id", streamID,
	)
	return streamID, nil
}
