package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/salesboost/exitintent/internal/metrics"
	"github.com/salesboost/exitintent/internal/model"
	"github.com/salesboost/exitintent/internal/policy"
)

type harness struct {
	svc      *ExitIntentService
	settings *fakeSettings
	store    *memStore
	carts    *fakeCarts
	coupons  *fakeCoupons
	clock    *clock
	recorder *metrics.InMemoryRecorder
}

func newHarness(t *testing.T, mutate func(s *model.Settings)) *harness {
	t.Helper()
	h := &harness{
		settings: newFakeSettings(mutate),
		store:    newMemStore(),
		carts:    newFakeCarts(),
		coupons:  newFakeCoupons(),
		clock:    &clock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
		recorder: metrics.NewInMemory(),
	}
	h.svc = NewExitIntentService(ExitIntentDeps{
		Store:    h.store,
		Settings: h.settings,
		Carts:    h.carts,
		Coupons:  h.coupons,
		Metrics:  h.recorder,
		Logger:   testLogger(),
	})
	h.svc.now = h.clock.Now
	return h
}

func rcFor(id model.Identity) model.RequestContext {
	return model.RequestContext{Identity: id, ClientIP: "203.0.113.7"}
}

func fullCart() *model.Cart {
	return &model.Cart{Items: []model.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(40)}}}
}

func TestEligibility_FreshVisitor(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.svc.Eligibility(context.Background(), rcFor(model.GuestIdentity("g1")))
	if err != nil {
		t.Fatalf("Eligibility() error = %v", err)
	}
	if !res.Enabled || !res.Eligible || res.Reason != policy.ReasonFresh {
		t.Errorf("Eligibility() = %+v, want eligible/fresh", res)
	}
}

func TestEligibility_Disabled(t *testing.T) {
	h := newHarness(t, func(s *model.Settings) { s.Enabled = false })

	res, err := h.svc.Eligibility(context.Background(), rcFor(model.GuestIdentity("g1")))
	if err != nil {
		t.Fatalf("Eligibility() error = %v", err)
	}
	if res.Enabled || res.Eligible || res.Reason != ReasonDisabled {
		t.Errorf("Eligibility() = %+v, want disabled", res)
	}
}

func TestMarkShown_BlocksUntilWindowExpires(t *testing.T) {
	h := newHarness(t, func(s *model.Settings) { s.Offer.Expires = 1 })
	ctx := context.Background()
	id := model.GuestIdentity("g1")

	if err := h.svc.MarkShown(ctx, rcFor(id)); err != nil {
		t.Fatalf("MarkShown() error = %v", err)
	}

	st, ok := h.store.peek(id)
	if !ok || st.ShownAt == nil || !st.ExpiresAt.Equal(h.clock.Now().Add(time.Hour)) {
		t.Fatalf("stored state = %+v", st)
	}

	if err := h.svc.MarkShown(ctx, rcFor(id)); !errors.Is(err, ErrNotEligible) {
		t.Errorf("second MarkShown() error = %v, want ErrNotEligible", err)
	}

	res, _ := h.svc.Eligibility(ctx, rcFor(id))
	if res.Eligible || res.Reason != policy.ReasonShown {
		t.Errorf("Eligibility() during window = %+v", res)
	}

	h.clock.Advance(time.Hour + time.Second)

	res, err := h.svc.Eligibility(ctx, rcFor(id))
	if err != nil {
		t.Fatalf("Eligibility() error = %v", err)
	}
	if !res.Eligible || res.Reason != policy.ReasonShownExpired {
		t.Errorf("Eligibility() after window = %+v", res)
	}
	if _, ok := h.store.peek(id); ok {
		t.Error("expired state should have been cleared")
	}

	if h.recorder.Snapshot().PopupsShown != 1 {
		t.Errorf("PopupsShown = %d, want 1", h.recorder.Snapshot().PopupsShown)
	}
}

func TestMarkShown_Errors(t *testing.T) {
	h := newHarness(t, func(s *model.Settings) { s.Enabled = false })
	ctx := context.Background()

	if err := h.svc.MarkShown(ctx, rcFor(model.GuestIdentity("g1"))); !errors.Is(err, ErrFeatureDisabled) {
		t.Errorf("MarkShown() disabled error = %v", err)
	}
	if err := h.svc.MarkShown(ctx, model.RequestContext{}); !errors.Is(err, ErrInvalidClientIdentity) {
		t.Errorf("MarkShown() no identity error = %v", err)
	}

	h.settings.set(func(s *model.Settings) { s.Enabled = true })
	h.store.setErr = errBoom
	if err := h.svc.MarkShown(ctx, rcFor(model.GuestIdentity("g1"))); !errors.Is(err, errBoom) {
		t.Errorf("MarkShown() store error = %v", err)
	}
}

func TestEligibility_SettingsVersionBump(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := model.UserIdentity("42")

	if err := h.svc.MarkShown(ctx, rcFor(id)); err != nil {
		t.Fatalf("MarkShown() error = %v", err)
	}
	res, _ := h.svc.Eligibility(ctx, rcFor(id))
	if res.Eligible {
		t.Fatal("expected not eligible right after shown")
	}

	// Saving a new offer value bumps the version.
	h.settings.set(func(s *model.Settings) {
		s.Offer.Value = decimal.NewFromInt(15)
		s.Version++
	})

	res, err := h.svc.Eligibility(ctx, rcFor(id))
	if err != nil {
		t.Fatalf("Eligibility() error = %v", err)
	}
	if !res.Eligible || res.Reason != policy.ReasonFresh {
		t.Errorf("Eligibility() after version bump = %+v, want fresh", res)
	}
	if _, ok := h.store.peek(id); !ok {
		t.Error("stale state should be left in storage")
	}
}

func TestCartHasItems(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := model.GuestIdentity("g1")

	if has, err := h.svc.CartHasItems(ctx, rcFor(id)); err != nil || has {
		t.Errorf("CartHasItems() without cart = %v, %v", has, err)
	}

	h.carts.put(id, &model.Cart{})
	if has, _ := h.svc.CartHasItems(ctx, rcFor(id)); has {
		t.Error("empty cart reported items")
	}

	h.carts.put(id, fullCart())
	if has, _ := h.svc.CartHasItems(ctx, rcFor(id)); !has {
		t.Error("full cart reported no items")
	}

	h.carts.err = errBoom
	if _, err := h.svc.CartHasItems(ctx, rcFor(id)); !errors.Is(err, errBoom) {
		t.Errorf("CartHasItems() error = %v, want wrapped errBoom", err)
	}
}

func TestIssueCoupon_PercentScenario(t *testing.T) {
	h := newHarness(t, func(s *model.Settings) {
		s.Offer = model.OfferConfig{Type: model.OfferPercent, Value: decimal.NewFromInt(20), Prefix: "GO-", Expires: 1}
	})
	ctx := context.Background()
	id := model.GuestIdentity("0123456789abcdef0123456789abcdef")
	h.carts.put(id, fullCart())

	if err := h.svc.MarkShown(ctx, rcFor(id)); err != nil {
		t.Fatalf("MarkShown() error = %v", err)
	}

	res, err := h.svc.IssueCoupon(ctx, rcFor(id))
	if err != nil {
		t.Fatalf("IssueCoupon() error = %v", err)
	}
	if !strings.HasPrefix(res.Code, "GO-") || res.Existing {
		t.Fatalf("IssueCoupon() = %+v", res)
	}

	c, err := h.coupons.GetCouponByCode(ctx, res.Code)
	if err != nil {
		t.Fatalf("coupon not in index: %v", err)
	}
	if c.DiscountType != model.DiscountPercent || !c.Amount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("coupon discount = %s %s", c.DiscountType, c.Amount)
	}
	if c.UsageLimit != 1 || c.UsageLimitPerUser != 1 {
		t.Errorf("usage limits = %d/%d", c.UsageLimit, c.UsageLimitPerUser)
	}
	if !c.ExpiresAt.Equal(h.clock.Now().Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", c.ExpiresAt)
	}

	if !h.carts.get(id).HasCoupon(res.Code) {
		t.Error("coupon not applied to cart")
	}

	st, _ := h.store.peek(id)
	if st.CouponCode != res.Code || st.UsedAt == nil || st.ShownAt == nil {
		t.Errorf("state after issue = %+v", st)
	}
}

func TestIssueCoupon_SecondCallReusesCode(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := model.UserIdentity("42")
	h.carts.put(id, fullCart())
	if err := h.svc.MarkShown(ctx, rcFor(id)); err != nil {
		t.Fatalf("MarkShown() error = %v", err)
	}

	first, err := h.svc.IssueCoupon(ctx, rcFor(id))
	if err != nil {
		t.Fatalf("first IssueCoupon() error = %v", err)
	}
	second, err := h.svc.IssueCoupon(ctx, rcFor(id))
	if err != nil {
		t.Fatalf("second IssueCoupon() error = %v", err)
	}

	if first.Code != second.Code || !second.Existing {
		t.Errorf("second = %+v, want existing %s", second, first.Code)
	}
	if h.coupons.count() != 1 {
		t.Errorf("coupons created = %d, want 1", h.coupons.count())
	}
	if got := len(h.carts.get(id).AppliedCoupons); got != 1 {
		t.Errorf("cart has %d coupons, want 1", got)
	}

	snap := h.recorder.Snapshot()
	if snap.CouponsCreated != 1 || snap.CouponsReused != 1 {
		t.Errorf("metrics created/reused = %d/%d", snap.CouponsCreated, snap.CouponsReused)
	}
}

func TestIssueCoupon_ConcurrentCallsCreateOneCoupon(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := model.GuestIdentity("g-double-click")
	h.carts.put(id, fullCart())
	if err := h.svc.MarkShown(ctx, rcFor(id)); err != nil {
		t.Fatalf("MarkShown() error = %v", err)
	}

	const callers = 8
	codes := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.IssueCoupon(ctx, rcFor(id))
			errs[i] = err
			if res != nil {
				codes[i] = res.Code
			}
		}(i)
	}
	wg.Wait()

	for i := range codes {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if codes[i] != codes[0] {
			t.Errorf("caller %d got %s, want %s", i, codes[i], codes[0])
		}
	}
	if h.coupons.count() != 1 {
		t.Errorf("coupons created = %d, want 1", h.coupons.count())
	}
}

func TestIssueCoupon_SharedIssuanceOutlivesFirstCaller(t *testing.T) {
	h := newHarness(t, nil)
	id := model.GuestIdentity("g-leaves-early")
	h.carts.put(id, fullCart())
	if err := h.svc.MarkShown(context.Background(), rcFor(id)); err != nil {
		t.Fatalf("MarkShown() error = %v", err)
	}

	var (
		lockCalls atomic.Int32
		entered   = make(chan struct{})
		proceed   = make(chan struct{})
	)
	h.svc.lock = func(ctx context.Context, name string) (func(), error) {
		if lockCalls.Add(1) == 1 {
			close(entered)
		}
		<-proceed
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return func() {}, nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := h.svc.IssueCoupon(firstCtx, rcFor(id))
		firstErr <- err
	}()
	<-entered

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first IssueCoupon() error = %v, want context.Canceled", err)
	}

	type outcome struct {
		res *IssueResult
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := h.svc.IssueCoupon(context.Background(), rcFor(id))
		second <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)
	close(proceed)

	got := <-second
	if got.err != nil {
		t.Fatalf("second IssueCoupon() error = %v", got.err)
	}
	if got.res.Code == "" {
		t.Error("second caller got no code")
	}
	if n := lockCalls.Load(); n != 1 {
		t.Errorf("lock calls = %d, want 1 shared issuance", n)
	}
	if h.coupons.count() != 1 {
		t.Errorf("coupons created = %d, want 1", h.coupons.count())
	}
}

func TestIssueCoupon_LogsClientIP(t *testing.T) {
	h := newHarness(t, nil)
	var buf bytes.Buffer
	h.svc.logger = slog.New(slog.NewTextHandler(&buf, nil))

	id := model.UserIdentity("55")
	h.carts.put(id, fullCart())
	if err := h.svc.MarkShown(context.Background(), rcFor(id)); err != nil {
		t.Fatalf("MarkShown() error = %v", err)
	}
	if _, err := h.svc.IssueCoupon(context.Background(), rcFor(id)); err != nil {
		t.Fatalf("IssueCoupon() error = %v", err)
	}

	if !strings.Contains(buf.String(), "msg=\"coupon issued\"") || !strings.Contains(buf.String(), "ip=203.0.113.7") {
		t.Errorf("issuance log = %q, want client ip", buf.String())
	}
}

func TestIssueCoupon_ReplacesUnusableCoupon(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := model.UserIdentity("42")
	h.carts.put(id, fullCart())
	if err := h.svc.MarkShown(ctx, rcFor(id)); err != nil {
		t.Fatalf("MarkShown() error = %v", err)
	}

	first, err := h.svc.IssueCoupon(ctx, rcFor(id))
	if err != nil {
		t.Fatalf("IssueCoupon() error = %v", err)
	}
	if _, err := h.coupons.IncrementCouponUsage(ctx, []string{first.Code}); err != nil {
		t.Fatal(err)
	}

	second, err := h.svc.IssueCoupon(ctx, rcFor(id))
	if err != nil {
		t.Fatalf("IssueCoupon() after use error = %v", err)
	}
	if second.Code == first.Code || second.Existing {
		t.Errorf("second = %+v, want a fresh code", second)
	}
	if h.coupons.count() != 2 {
		t.Errorf("coupons created = %d, want 2", h.coupons.count())
	}
}

func TestIssueCoupon_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *model.Settings)
		setup   func(h *harness, id model.Identity)
		id      model.Identity
		wantErr error
	}{
		{
			name:    "no identity",
			wantErr: ErrInvalidClientIdentity,
		},
		{
			name:    "disabled",
			mutate:  func(s *model.Settings) { s.Enabled = false },
			id:      model.GuestIdentity("g"),
			wantErr: ErrFeatureDisabled,
		},
		{
			name:    "no cart",
			id:      model.GuestIdentity("g"),
			wantErr: ErrCartUnavailable,
		},
		{
			name:    "popup never shown",
			id:      model.GuestIdentity("g"),
			setup:   func(h *harness, id model.Identity) { h.carts.put(id, fullCart()) },
			wantErr: ErrNotEligible,
		},
		{
			name:   "no discount configured",
			mutate: func(s *model.Settings) { s.Offer.Type = model.OfferNone },
			id:     model.GuestIdentity("g"),
			setup: func(h *harness, id model.Identity) {
				h.carts.put(id, fullCart())
				_ = h.svc.MarkShown(context.Background(), rcFor(id))
			},
			wantErr: ErrNoDiscountConfigured,
		},
		{
			name: "coupon save fails",
			id:   model.GuestIdentity("g"),
			setup: func(h *harness, id model.Identity) {
				h.carts.put(id, fullCart())
				_ = h.svc.MarkShown(context.Background(), rcFor(id))
				h.coupons.createErr = errBoom
			},
			wantErr: ErrCouponCreationFailed,
		},
		{
			name: "shown window expired",
			id:   model.GuestIdentity("g"),
			setup: func(h *harness, id model.Identity) {
				h.carts.put(id, fullCart())
				_ = h.svc.MarkShown(context.Background(), rcFor(id))
				h.clock.Advance(48 * time.Hour)
			},
			wantErr: ErrNotEligible,
		},
		{
			name: "converted visitor",
			id:   model.UserIdentity("7"),
			setup: func(h *harness, id model.Identity) {
				h.carts.put(id, fullCart())
				now := h.clock.Now()
				st := model.VisitorState{ShownAt: &now, SchemaVersion: 1}
				st.MarkConverted("1001", now, 30*24*time.Hour)
				_ = h.store.Set(context.Background(), id, &st)
			},
			wantErr: ErrNotEligible,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.mutate)
			if tt.setup != nil {
				tt.setup(h, tt.id)
			}

			_, err := h.svc.IssueCoupon(context.Background(), rcFor(tt.id))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("IssueCoupon() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIssueCoupon_LockFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.lock = func(ctx context.Context, name string) (func(), error) {
		if !strings.HasPrefix(name, "issue:guest:") {
			t.Errorf("lock name = %q", name)
		}
		return nil, errBoom
	}
	id := model.GuestIdentity("g")
	h.carts.put(id, fullCart())

	if _, err := h.svc.IssueCoupon(context.Background(), rcFor(id)); !errors.Is(err, ErrCouponCreationFailed) {
		t.Errorf("IssueCoupon() error = %v, want ErrCouponCreationFailed", err)
	}
}

func TestIssueCoupon_FreeShipping(t *testing.T) {
	h := newHarness(t, func(s *model.Settings) {
		s.Offer = model.OfferConfig{Type: model.OfferFreeShipping, Prefix: "SHIP", Expires: 2}
	})
	ctx := context.Background()
	id := model.GuestIdentity("g")
	h.carts.put(id, fullCart())
	if err := h.svc.MarkShown(ctx, rcFor(id)); err != nil {
		t.Fatal(err)
	}

	res, err := h.svc.IssueCoupon(ctx, rcFor(id))
	if err != nil {
		t.Fatalf("IssueCoupon() error = %v", err)
	}
	c, _ := h.coupons.GetCouponByCode(ctx, res.Code)
	if !c.FreeShipping || !c.Amount.IsZero() || c.DiscountType != model.DiscountFixedCart {
		t.Errorf("coupon = %+v", c)
	}
}
