package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/salesboost/exitintent/internal/events"
	"github.com/salesboost/exitintent/internal/metrics"
	"github.com/salesboost/exitintent/internal/model"
	"github.com/salesboost/exitintent/internal/state"
)

// usageDedupeTTL bounds how long an order is remembered by the usage recorder.
const usageDedupeTTL = 7 * 24 * time.Hour

// GuestCookieDecoder extracts the guest token from a signed cookie value.
type GuestCookieDecoder interface {
	DecodeGuestCookie(value string) (string, error)
}

// ConversionTracker marks visitors as converted when an order uses their
// exit-intent coupon, and moves guest state to customers on login.
type ConversionTracker struct {
	store    state.Store
	settings SettingsProvider
	cookies  GuestCookieDecoder
	metrics  metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewConversionTracker creates a new ConversionTracker.
func NewConversionTracker(store state.Store, settings SettingsProvider, cookies GuestCookieDecoder, recorder metrics.Recorder, logger *slog.Logger) *ConversionTracker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &ConversionTracker{
		store:    store,
		settings: settings,
		cookies:  cookies,
		metrics:  recorder,
		logger:   logger.With("component", "conversion"),
		now:      time.Now,
	}
}

// Register subscribes the tracker to order and login events.
func (t *ConversionTracker) Register(bus *events.Bus) {
	bus.Subscribe(model.EventOrderCompleted, "conversion", t.HandleOrder)
	bus.Subscribe(model.EventOrderPaymentComplete, "conversion", t.HandleOrder)
	bus.Subscribe(model.EventCustomerLoggedIn, "state_migration", t.HandleLogin)
}

// HandleLogin adopts the guest state of a customer who just signed in.
func (t *ConversionTracker) HandleLogin(ctx context.Context, ev *model.StoreEvent) error {
	return t.migrate(ctx, ev)
}

// HandleOrder marks the buyer converted when the order used their coupon.
// Redelivery of the same event is a no-op.
func (t *ConversionTracker) HandleOrder(ctx context.Context, ev *model.StoreEvent) error {
	buyer, err := t.resolveBuyer(ev)
	if err != nil {
		return events.Permanent(err)
	}

	if err := t.migrate(ctx, ev); err != nil {
		return err
	}

	settings, err := t.settings.Current(ctx)
	if err != nil {
		return err
	}

	st, err := t.store.Get(ctx, buyer, settings.Version)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if st == nil || st.IsConverted() || !st.HasCoupon() {
		return nil
	}
	if !model.ContainsCode(ev.CouponCodes, st.CouponCode) {
		return nil
	}

	st.MarkConverted(ev.OrderID, t.now().UTC(), settings.Cooldown())
	if err := t.store.Set(ctx, buyer, st); err != nil {
		return fmt.Errorf("save conversion: %w", err)
	}

	t.metrics.IncConversion()
	t.logger.Info("visitor converted",
		"identity", buyer.LogValue(),
		"order_id", ev.OrderID,
		"code", st.CouponCode,
		"cooldown_until", st.ExpiresAt,
	)
	return nil
}

// resolveBuyer prefers the customer id; guests are identified by their
// signed cookie.
func (t *ConversionTracker) resolveBuyer(ev *model.StoreEvent) (model.Identity, error) {
	if ev.CustomerID != "" {
		return model.UserIdentity(ev.CustomerID), nil
	}
	token, err := t.cookies.DecodeGuestCookie(ev.GuestToken)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %w", ErrInvalidClientIdentity, err)
	}
	return model.GuestIdentity(token), nil
}

// migrate moves guest state to the customer when the event carries both.
// An unreadable guest cookie only skips the migration.
func (t *ConversionTracker) migrate(ctx context.Context, ev *model.StoreEvent) error {
	if ev.CustomerID == "" || ev.GuestToken == "" {
		return nil
	}

	token, err := t.cookies.DecodeGuestCookie(ev.GuestToken)
	if err != nil {
		t.logger.Warn("skipping state migration, bad guest cookie",
			"event_id", ev.ID,
			"customer_id", ev.CustomerID,
		)
		return nil
	}

	adopted, err := t.store.Adopt(ctx, token, ev.CustomerID)
	if err != nil {
		return fmt.Errorf("migrate guest state: %w", err)
	}
	if adopted {
		t.metrics.IncStateMigrated()
	}
	return nil
}

// UsageStore increments coupon usage counts.
type UsageStore interface {
	IncrementCouponUsage(ctx context.Context, codes []string) (int64, error)
}

// OnceMarker remembers keys that have been processed.
type OnceMarker interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ForgetOnce(ctx context.Context, key string) error
}

// CouponUsageRecorder counts order redemptions against the coupon index so
// reuse checks see used-up coupons.
type CouponUsageRecorder struct {
	usage  UsageStore
	once   OnceMarker
	logger *slog.Logger
}

// NewCouponUsageRecorder creates a new CouponUsageRecorder.
func NewCouponUsageRecorder(usage UsageStore, once OnceMarker, logger *slog.Logger) *CouponUsageRecorder {
	return &CouponUsageRecorder{
		usage:  usage,
		once:   once,
		logger: logger.With("component", "coupon_usage"),
	}
}

// Register subscribes the recorder to order events.
func (r *CouponUsageRecorder) Register(bus *events.Bus) {
	bus.Subscribe(model.EventOrderCompleted, "coupon_usage", r.HandleOrder)
	bus.Subscribe(model.EventOrderPaymentComplete, "coupon_usage", r.HandleOrder)
}

// HandleOrder increments usage once per order, even though an order may
// produce both a completed and a payment-complete event.
func (r *CouponUsageRecorder) HandleOrder(ctx context.Context, ev *model.StoreEvent) error {
	if len(ev.CouponCodes) == 0 {
		return nil
	}

	key := "coupon_usage:" + ev.OrderID
	first, err := r.once.MarkOnce(ctx, key, usageDedupeTTL)
	if err != nil {
		return fmt.Errorf("dedupe order: %w", err)
	}
	if !first {
		return nil
	}

	codes := make([]string, 0, len(ev.CouponCodes))
	for _, c := range ev.CouponCodes {
		if n := model.NormalizeCode(c); n != "" {
			codes = append(codes, n)
		}
	}

	n, err := r.usage.IncrementCouponUsage(ctx, codes)
	if err != nil {
		if ferr := r.once.ForgetOnce(ctx, key); ferr != nil {
			r.logger.Warn("failed to reset order marker", "order_id", ev.OrderID, "error", ferr)
		}
		return fmt.Errorf("record coupon usage: %w", err)
	}

	if n > 0 {
		r.logger.Info("coupon usage recorded", "order_id", ev.OrderID, "coupons", n)
	}
	return nil
}
