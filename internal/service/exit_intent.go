package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/salesboost/exitintent/internal/cache"
	"github.com/salesboost/exitintent/internal/coupon"
	"github.com/salesboost/exitintent/internal/identity"
	"github.com/salesboost/exitintent/internal/metrics"
	"github.com/salesboost/exitintent/internal/model"
	"github.com/salesboost/exitintent/internal/policy"
	"github.com/salesboost/exitintent/internal/repository"
	"github.com/salesboost/exitintent/internal/state"
)

// ReasonDisabled is reported by Eligibility when the feature is switched off.
const ReasonDisabled policy.Reason = "disabled"

// maxCreateAttempts bounds retries when a generated code loses an insert race.
const maxCreateAttempts = 2

// defaultIssueTimeout bounds one shared issuance, lock wait included.
const defaultIssueTimeout = 10 * time.Second

// CartStore reads carts and applies coupons to them.
type CartStore interface {
	GetCart(ctx context.Context, identityKey string) (*model.Cart, error)
	ApplyCartCoupon(ctx context.Context, identityKey, code string) (bool, error)
}

// CouponIndex is the store-level coupon table.
type CouponIndex interface {
	CreateCoupon(ctx context.Context, c *model.Coupon) error
	GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error)
	CouponCodeExists(ctx context.Context, code string) (bool, error)
}

// IssueLock serializes issuance for one identity across instances.
// The returned release func must be called once the work is done.
type IssueLock func(ctx context.Context, name string) (release func(), err error)

// ExitIntentDeps are the collaborators of ExitIntentService.
type ExitIntentDeps struct {
	Store    state.Store
	Settings SettingsProvider
	Carts    CartStore
	Coupons  CouponIndex
	Lock     IssueLock
	Metrics  metrics.Recorder
	Logger   *slog.Logger
}

// ExitIntentService implements the storefront side of the exit-intent offer.
type ExitIntentService struct {
	store    state.Store
	settings SettingsProvider
	carts    CartStore
	coupons  CouponIndex
	lock     IssueLock
	metrics  metrics.Recorder
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time

	issueTimeout time.Duration
}

// NewExitIntentService creates a new ExitIntentService.
func NewExitIntentService(deps ExitIntentDeps) *ExitIntentService {
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	lock := deps.Lock
	if lock == nil {
		lock = func(context.Context, string) (func(), error) { return func() {}, nil }
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExitIntentService{
		store:    deps.Store,
		settings: deps.Settings,
		carts:    deps.Carts,
		coupons:  deps.Coupons,
		lock:     lock,
		metrics:  recorder,
		logger:   logger.With("component", "exit_intent"),
		now:      time.Now,

		issueTimeout: defaultIssueTimeout,
	}
}

// EligibilityResult is the outcome of an eligibility check.
type EligibilityResult struct {
	Enabled  bool
	Eligible bool
	Reason   policy.Reason
	Settings *model.Settings
}

// Eligibility reports whether the popup may be shown. Timed-out state is
// cleared as a side effect.
func (s *ExitIntentService) Eligibility(ctx context.Context, rc model.RequestContext) (*EligibilityResult, error) {
	if rc.Identity.IsZero() {
		return nil, ErrInvalidClientIdentity
	}

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		return &EligibilityResult{Reason: ReasonDisabled, Settings: settings}, nil
	}

	decision, err := s.evaluate(ctx, rc.Identity, settings)
	if err != nil {
		return nil, err
	}

	s.metrics.IncEligibilityCheck(decision.Eligible)
	return &EligibilityResult{
		Enabled:  true,
		Eligible: decision.Eligible,
		Reason:   decision.Reason,
		Settings: settings,
	}, nil
}

func (s *ExitIntentService) evaluate(ctx context.Context, id model.Identity, settings *model.Settings) (policy.Decision, error) {
	st, err := s.store.Get(ctx, id, settings.Version)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("load state: %w", err)
	}

	decision := policy.Evaluate(st, s.now().UTC(), settings.Cooldown())
	if decision.ClearState {
		if err := s.store.Clear(ctx, id); err != nil {
			s.logger.Warn("failed to clear stale state",
				"identity", id.LogValue(),
				"reason", decision.Reason,
				"error", err,
			)
		}
	}
	return decision, nil
}

// CartHasItems reports whether the visitor's cart holds anything.
func (s *ExitIntentService) CartHasItems(ctx context.Context, rc model.RequestContext) (bool, error) {
	if rc.Identity.IsZero() {
		return false, ErrInvalidClientIdentity
	}

	cart, err := s.carts.GetCart(ctx, rc.Identity.Key())
	if errors.Is(err, cache.ErrCartNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load cart: %w", err)
	}
	return cart.HasItems(), nil
}

// MarkShown records that the popup was displayed. The offer window starts now
// and lasts offer.expires hours.
func (s *ExitIntentService) MarkShown(ctx context.Context, rc model.RequestContext) error {
	if rc.Identity.IsZero() {
		return ErrInvalidClientIdentity
	}

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return err
	}
	if !settings.Enabled {
		return ErrFeatureDisabled
	}

	decision, err := s.evaluate(ctx, rc.Identity, settings)
	if err != nil {
		return err
	}
	s.metrics.IncEligibilityCheck(decision.Eligible)
	if !decision.Eligible {
		return fmt.Errorf("%w: %s", ErrNotEligible, decision.Reason)
	}

	now := s.now().UTC()
	expires := now.Add(settings.OfferWindow())
	st := &model.VisitorState{
		ShownAt:       &now,
		ExpiresAt:     &expires,
		SchemaVersion: settings.Version,
	}
	if err := s.store.Set(ctx, rc.Identity, st); err != nil {
		return fmt.Errorf("mark shown: %w", err)
	}

	s.metrics.IncPopupShown()
	s.logger.Debug("popup marked shown",
		"identity", rc.Identity.LogValue(),
		"ip", rc.ClientIP,
		"expires_at", expires,
	)
	return nil
}

// IssueResult is returned by IssueCoupon.
type IssueResult struct {
	Code     string
	Existing bool
}

// IssueCoupon returns the visitor's coupon, creating it on first call.
// Concurrent calls for the same identity share one issuance.
func (s *ExitIntentService) IssueCoupon(ctx context.Context, rc model.RequestContext) (*IssueResult, error) {
	if rc.Identity.IsZero() {
		return nil, ErrInvalidClientIdentity
	}

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		return nil, ErrFeatureDisabled
	}

	key := rc.Identity.Key()
	if _, err := s.carts.GetCart(ctx, key); err != nil {
		if errors.Is(err, cache.ErrCartNotFound) {
			return nil, ErrCartUnavailable
		}
		return nil, fmt.Errorf("load cart: %w", err)
	}

	// The flight is shared, so it must not end with whichever caller started it.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.issueTimeout)
		defer cancel()
		// The starting caller's response may be gone before the flight ends.
		flightCtx = identity.WithCookieRefresher(flightCtx, nil)

		release, err := s.lock(flightCtx, "issue:"+key)
		if err != nil {
			s.logger.Warn("issuance lock unavailable",
				"identity", rc.Identity.LogValue(),
				"ip", rc.ClientIP,
				"error", err,
			)
			return nil, fmt.Errorf("%w: %w", ErrCouponCreationFailed, err)
		}
		defer release()
		return s.issue(flightCtx, rc, settings)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*IssueResult), nil
	}
}

func (s *ExitIntentService) issue(ctx context.Context, rc model.RequestContext, settings *model.Settings) (*IssueResult, error) {
	id := rc.Identity
	start := time.Now()
	now := s.now().UTC()

	st, err := s.store.Get(ctx, id, settings.Version)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: popup not shown", ErrNotEligible)
	}
	if st.IsConverted() {
		return nil, fmt.Errorf("%w: %s", ErrNotEligible, policy.ReasonCooldown)
	}

	if st.HasCoupon() {
		usable, err := s.couponUsable(ctx, st.CouponCode, now)
		if err != nil {
			return nil, err
		}
		if usable {
			if err := s.applyToCart(ctx, id, st.CouponCode); err != nil {
				return nil, err
			}
			s.metrics.IncCouponIssued(true)
			return &IssueResult{Code: st.CouponCode, Existing: true}, nil
		}

		s.logger.Info("discarding unusable coupon",
			"identity", id.LogValue(),
			"code", st.CouponCode,
		)
		st.ClearCoupon()
		if err := s.store.Set(ctx, id, st); err != nil {
			return nil, fmt.Errorf("clear coupon: %w", err)
		}
	}

	if st.ShownAt == nil {
		return nil, fmt.Errorf("%w: popup not shown", ErrNotEligible)
	}
	if st.IsShownExpired(now) {
		return nil, fmt.Errorf("%w: %s", ErrNotEligible, policy.ReasonShownExpired)
	}
	if settings.Offer.Type == model.OfferNone {
		return nil, ErrNoDiscountConfigured
	}

	c, err := s.createCoupon(ctx, id, settings.Offer, now)
	if err != nil {
		return nil, err
	}

	st.CouponCode = c.Code
	st.UsedAt = &now
	if err := s.store.Set(ctx, id, st); err != nil {
		s.logger.Error("failed to record issued coupon",
			"identity", id.LogValue(),
			"code", c.Code,
			"error", err,
		)
		s.metrics.IncCouponIssueFailed()
		return nil, ErrCouponCreationFailed
	}

	if err := s.applyToCart(ctx, id, c.Code); err != nil {
		return nil, err
	}

	s.metrics.IncCouponIssued(false)
	s.metrics.ObserveCouponIssueDuration(time.Since(start))
	s.logger.Info("coupon issued",
		"identity", id.LogValue(),
		"ip", rc.ClientIP,
		"code", c.Code,
		"discount_type", c.DiscountType,
		"amount", c.Amount.String(),
		"expires_at", c.ExpiresAt,
	)
	return &IssueResult{Code: c.Code}, nil
}

func (s *ExitIntentService) couponUsable(ctx context.Context, code string, now time.Time) (bool, error) {
	c, err := s.coupons.GetCouponByCode(ctx, code)
	if errors.Is(err, repository.ErrCouponNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate coupon: %w", err)
	}
	return c.IsUsable(now), nil
}

func (s *ExitIntentService) createCoupon(ctx context.Context, id model.Identity, offer model.OfferConfig, now time.Time) (*model.Coupon, error) {
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		code, err := coupon.GenerateUniqueCode(ctx, offer.Prefix, s.coupons.CouponCodeExists, now)
		if err != nil {
			s.logger.Error("coupon code generation failed", "identity", id.LogValue(), "error", err)
			s.metrics.IncCouponIssueFailed()
			return nil, ErrCouponCreationFailed
		}

		c, err := coupon.Build(offer, code, id, now)
		if errors.Is(err, coupon.ErrNoDiscount) {
			return nil, ErrNoDiscountConfigured
		}
		if err != nil {
			return nil, fmt.Errorf("build coupon: %w", err)
		}

		err = s.coupons.CreateCoupon(ctx, c)
		if errors.Is(err, repository.ErrCouponCodeExists) {
			s.logger.Warn("generated code taken, retrying", "code", c.Code, "attempt", attempt)
			continue
		}
		if err != nil {
			s.logger.Error("failed to save coupon",
				"identity", id.LogValue(),
				"code", c.Code,
				"error", err,
			)
			s.metrics.IncCouponIssueFailed()
			return nil, ErrCouponCreationFailed
		}
		return c, nil
	}

	s.metrics.IncCouponIssueFailed()
	return nil, ErrCouponCreationFailed
}

func (s *ExitIntentService) applyToCart(ctx context.Context, id model.Identity, code string) error {
	_, err := s.carts.ApplyCartCoupon(ctx, id.Key(), code)
	if errors.Is(err, cache.ErrCartNotFound) {
		return ErrCartUnavailable
	}
	if err != nil {
		return fmt.Errorf("apply coupon to cart: %w", err)
	}
	return nil
}
