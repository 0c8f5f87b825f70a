package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/salesboost/exitintent/internal/events"
	"github.com/salesboost/exitintent/internal/handler/dto"
	"github.com/salesboost/exitintent/internal/middleware"
	"github.com/salesboost/exitintent/internal/model"
)

// EventPublisher appends store events to the event bus.
type EventPublisher interface {
	Publish(ctx context.Context, event *model.StoreEvent) (string, error)
}

// StoreWebhookHandler receives signed order and customer events from the store.
type StoreWebhookHandler struct {
	publisher EventPublisher
	secret    string
	window    time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewStoreWebhookHandler creates a new StoreWebhookHandler.
// A zero window means events.DefaultReplayWindow.
func NewStoreWebhookHandler(publisher EventPublisher, secret string, window time.Duration, logger *slog.Logger) *StoreWebhookHandler {
	if window <= 0 {
		window = events.DefaultReplayWindow
	}
	return &StoreWebhookHandler{
		publisher: publisher,
		secret:    secret,
		window:    window,
		logger:    logger.With("component", "handler.store_webhook"),
		now:       time.Now,
	}
}

// Receive handles POST /api/v1/webhooks/store-events.
// The signature covers the raw body; the event is queued and handled by
// the worker, so the store gets 202 once it is durable in the stream.
func (h *StoreWebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody+1))
	if err != nil || len(body) > maxJSONBody {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read request body")
		return
	}

	ts, err := events.ParseTimestamp(r.Header.Get(events.TimestampHeader))
	if err == nil {
		err = events.ValidateSignature(h.secret, r.Header.Get(events.SignatureHeader), ts, body, h.window, h.now())
	}
	if err != nil {
		h.logger.Warn("store webhook rejected",
			"reason", err.Error(),
			"ip", middleware.ClientIP(r),
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid webhook signature")
		return
	}

	var event model.StoreEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if err := event.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_EVENT", err.Error())
		return
	}

	streamID, err := h.publisher.Publish(r.Context(), &event)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.Error("failed to publish store event",
			"error", err,
			"type", event.Type,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Event could not be queued")
		return
	}

	h.logger.Info("store event accepted",
		"event_id", event.ID,
		"type", event.Type,
		"order_id", event.OrderID,
	)
	writeJSON(w, http.StatusAccepted, dto.EventAcceptedResponse{
		EventID:    event.ID,
		StreamID:   streamID,
		AcceptedAt: h.now().UTC(),
	})
}
