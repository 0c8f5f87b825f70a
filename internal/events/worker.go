package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/salesboost/exitintent/internal/metrics"
	"github.com/salesboost/exitintent/internal/model"
)

const (
	// ConsumerGroup is the Redis consumer group name.
	ConsumerGroup = "exit_intent_workers"

	// DefaultBatchSize is the max events per read.
	DefaultBatchSize = 50

	// DefaultBlockTimeout is how long to block waiting for messages.
	DefaultBlockTimeout = 2 * time.Second

	// DefaultMaxRetries is the max handler attempts per event.
	DefaultMaxRetries = 5

	// DefaultRetryBackoff is the first retry delay; later ones double.
	DefaultRetryBackoff = 500 * time.Millisecond

	// DefaultClaimInterval is how often to scan pending messages.
	DefaultClaimInterval = 10 * time.Second

	// DefaultClaimIdle is the idle time before reclaiming pending messages.
	DefaultClaimIdle = 30 * time.Second

	// DefaultMetricsInterval is how often to refresh queue depth metrics.
	DefaultMetricsInterval = 5 * time.Second
)

// Worker consumes store events from the Redis stream and dispatches them.
type Worker struct {
	redis           *redis.Client
	bus             *Bus
	logger          *slog.Logger
	metrics         metrics.Recorder
	consumerID      string
	batchSize       int64
	blockTimeout    time.Duration
	maxRetries      int
	retryBackoff    time.Duration
	claimInterval   time.Duration
	claimIdle       time.Duration
	metricsInterval time.Duration
	claimStartID    string
	lastClaim       time.Time
	lastMetrics     time.Time

	started  bool
	draining bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewWorker creates a new event worker.
func NewWorker(client *redis.Client, bus *Bus, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		redis:           client,
		bus:             bus,
		logger:          logger.With("component", "events.worker", "consumer_id", consumerID),
		metrics:         recorder,
		consumerID:      consumerID,
		batchSize:       DefaultBatchSize,
		blockTimeout:    DefaultBlockTimeout,
		maxRetries:      DefaultMaxRetries,
		retryBackoff:    DefaultRetryBackoff,
		claimInterval:   DefaultClaimInterval,
		claimIdle:       DefaultClaimIdle,
		metricsInterval: DefaultMetricsInterval,
		claimStartID:    "0-0",
	}
}

// Run starts the worker loop. Blocks until context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("worker already started")
	}
	w.started = true
	w.done = make(chan struct{})
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	defer close(w.done)

	if err := w.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	w.logger.Info("event worker started")

	for {
		w.mu.Lock()
		draining := w.draining
		w.mu.Unlock()

		if draining {
			w.logger.Info("event worker draining, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			w.logger.Info("event worker stopping")
			return nil
		default:
			if err := w.processOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
				sleep(ctx, time.Second)
			}
		}
	}
}

// Shutdown stops the worker after the in-flight event.
// It implements server.ShutdownFunc for integration with graceful shutdown.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.draining = true
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	w.logger.Info("event worker shutdown initiated")

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
		w.logger.Info("event worker shutdown complete")
		return nil
	case <-ctx.Done():
		w.logger.Warn("event worker shutdown timed out")
		return ctx.Err()
	}
}

// EnsureGroup creates the consumer group (and stream) if missing.
func (w *Worker) EnsureGroup(ctx context.Context) error {
	err := w.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !isConsumerGroupExistsError(err) {
		return err
	}
	return nil
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int64) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetBlockTimeout overrides the default blocking timeout.
func (w *Worker) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		w.blockTimeout = timeout
	}
}

// SetMaxRetries overrides the default handler attempts per event.
func (w *Worker) SetMaxRetries(n int) {
	if n > 0 {
		w.maxRetries = n
	}
}

// SetRetryBackoff overrides the first retry delay.
func (w *Worker) SetRetryBackoff(d time.Duration) {
	if d > 0 {
		w.retryBackoff = d
	}
}

// SetClaimInterval overrides the pending-claim interval. Zero disables claiming.
func (w *Worker) SetClaimInterval(interval time.Duration) {
	if interval >= 0 {
		w.claimInterval = interval
	}
}

// SetClaimIdle overrides the default pending idle threshold.
func (w *Worker) SetClaimIdle(idle time.Duration) {
	if idle > 0 {
		w.claimIdle = idle
	}
}

// SetMetricsInterval overrides the queue depth refresh interval. Zero disables it.
func (w *Worker) SetMetricsInterval(interval time.Duration) {
	if interval >= 0 {
		w.metricsInterval = interval
	}
}

// processOnce reads and handles a single batch.
func (w *Worker) processOnce(ctx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	messages, err := w.maybeClaimPending(ctx)
	if err != nil {
		w.logger.Warn("failed to claim pending messages", "error", err)
	}

	if len(messages) == 0 {
		messages, err = w.readBatch(ctx)
		if err != nil {
			return err
		}
	}

	for _, msg := range messages {
		if err := w.handleMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// handleMessage dispatches one message and ACKs it unless the context ended
// mid-retry, in which case it stays pending for reclaim.
func (w *Worker) handleMessage(ctx context.Context, msg redis.XMessage) error {
	event, reason, detail := parseMessage(msg)
	if event == nil {
		w.deadLetter(ctx, msg, reason, detail)
		return w.ack(ctx, msg.ID)
	}

	err := w.dispatchWithRetry(ctx, event)
	switch {
	case err == nil:
		w.metrics.IncEventProcessed(metrics.StatusSuccess)
		w.metrics.ObserveEventLag(time.Since(event.OccurredAt))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrPermanent):
		w.deadLetter(ctx, msg, "permanent_error", err.Error())
	default:
		w.metrics.IncEventProcessed(metrics.StatusFailed)
		w.deadLetter(ctx, msg, "retries_exhausted", err.Error())
	}
	return w.ack(ctx, msg.ID)
}

// dispatchWithRetry runs the subscribers with exponential backoff.
func (w *Worker) dispatchWithRetry(ctx context.Context, event *model.StoreEvent) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		err := w.bus.Dispatch(ctx, event)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			return err
		}
		lastErr = err

		if attempt == w.maxRetries {
			break
		}
		backoff := w.retryBackoff << (attempt - 1)
		w.logger.Warn("event handling failed, retrying",
			"event_id", event.ID,
			"type", event.Type,
			"attempt", attempt,
			"backoff_ms", backoff.Milliseconds(),
			"error", err,
		)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
	}

	return lastErr
}

// maybeClaimPending reclaims messages left pending by a crashed consumer.
func (w *Worker) maybeClaimPending(ctx context.Context) ([]redis.XMessage, error) {
	if w.claimInterval <= 0 || w.claimIdle <= 0 {
		return nil, nil
	}
	if !w.lastClaim.IsZero() && time.Since(w.lastClaim) < w.claimInterval {
		return nil, nil
	}

	w.lastClaim = time.Now()
	messages, start, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		MinIdle:  w.claimIdle,
		Start:    w.claimStartID,
		Count:    w.batchSize,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		w.claimStartID = start
	}
	return messages, nil
}

func (w *Worker) maybeUpdateQueueDepth(ctx context.Context) {
	if w.metricsInterval <= 0 {
		return
	}
	if !w.lastMetrics.IsZero() && time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	groups, err := w.redis.XInfoGroups(ctx, StreamKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		w.logger.Warn("failed to read stream group info", "error", err)
		return
	}
	for _, group := range groups {
		if group.Name == ConsumerGroup {
			w.metrics.SetEventQueueDepth(group.Pending + group.Lag)
			return
		}
	}
}

// readBatch reads new messages using XREADGROUP.
func (w *Worker) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    w.batchSize,
		Block:    w.blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(streams) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	return streams[0].Messages, nil
}

// parseMessage decodes a stream message. On failure the event is nil and
// reason/detail describe the problem.
func parseMessage(msg redis.XMessage) (event *model.StoreEvent, reason, detail string) {
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return nil, "invalid_format", "payload field missing or not a string"
	}

	var ev model.StoreEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, "unmarshal_error", err.Error()
	}
	if err := ev.Validate(); err != nil {
		return nil, "validation_error", err.Error()
	}
	return &ev, "", ""
}

// deadLetter moves a poison message to the dead-letter stream.
func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, reason, detail string) {
	w.logger.Warn("dead-lettering store event",
		"message_id", msg.ID,
		"reason", reason,
		"detail", detail,
	)

	_, err := w.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: MaxDeadLetterLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"original_id":      msg.ID,
			"original_stream":  StreamKey,
			"reason":           reason,
			"detail":           detail,
			"payload":          msg.Values["payload"],
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		w.logger.Error("failed to write to dead-letter stream",
			"message_id", msg.ID,
			"error", err,
		)
	}

	w.metrics.IncEventProcessed(metrics.StatusDeadLettered)
}

func (w *Worker) ack(ctx context.Context, id string) error {
	if err := w.redis.XAck(ctx, StreamKey, ConsumerGroup, id).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// isConsumerGroupExistsError checks if the error is "BUSYGROUP" (group exists).
func isConsumerGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
