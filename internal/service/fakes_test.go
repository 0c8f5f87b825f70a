package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/salesboost/exitintent/internal/cache"
	"github.com/salesboost/exitintent/internal/model"
	"github.com/salesboost/exitintent/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSettings struct {
	mu  sync.Mutex
	s   model.Settings
	err error
}

func newFakeSettings(mutate func(s *model.Settings)) *fakeSettings {
	s := model.DefaultSettings()
	s.Enabled = true
	if mutate != nil {
		mutate(&s)
	}
	return &fakeSettings{s: s}
}

func (f *fakeSettings) Current(ctx context.Context) (*model.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := f.s
	return &out, nil
}

func (f *fakeSettings) set(mutate func(s *model.Settings)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(&f.s)
}

// memStore is a state.Store kept in memory.
type memStore struct {
	mu     sync.Mutex
	states map[string]model.VisitorState
	setErr error
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]model.VisitorState)}
}

func (m *memStore) Get(ctx context.Context, id model.Identity, version int64) (*model.VisitorState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id.Key()]
	if !ok || st.SchemaVersion != version {
		return nil, nil
	}
	return &st, nil
}

func (m *memStore) Set(ctx context.Context, id model.Identity, s *model.VisitorState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.states[id.Key()] = *s
	return nil
}

func (m *memStore) Clear(ctx context.Context, id model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id.Key())
	return nil
}

func (m *memStore) Adopt(ctx context.Context, guestToken, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	guestKey := model.GuestIdentity(guestToken).Key()
	st, ok := m.states[guestKey]
	if !ok {
		return false, nil
	}
	delete(m.states, guestKey)
	userKey := model.UserIdentity(userID).Key()
	if _, exists := m.states[userKey]; exists {
		return false, nil
	}
	m.states[userKey] = st
	return true, nil
}

func (m *memStore) peek(id model.Identity) (model.VisitorState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id.Key()]
	return st, ok
}

type fakeCarts struct {
	mu    sync.Mutex
	carts map[string]*model.Cart
	err   error
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{carts: make(map[string]*model.Cart)}
}

func (f *fakeCarts) put(id model.Identity, cart *model.Cart) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carts[id.Key()] = cart
}

func (f *fakeCarts) get(id model.Identity) *model.Cart {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.carts[id.Key()]
}

func (f *fakeCarts) GetCart(ctx context.Context, identityKey string) (*model.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	cart, ok := f.carts[identityKey]
	if !ok {
		return nil, cache.ErrCartNotFound
	}
	out := *cart
	out.AppliedCoupons = append([]string(nil), cart.AppliedCoupons...)
	return &out, nil
}

func (f *fakeCarts) ApplyCartCoupon(ctx context.Context, identityKey, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart, ok := f.carts[identityKey]
	if !ok {
		return false, cache.ErrCartNotFound
	}
	return cart.ApplyCoupon(code), nil
}

type fakeCoupons struct {
	mu        sync.Mutex
	coupons   map[string]*model.Coupon
	creates   int
	createErr error
}

func newFakeCoupons() *fakeCoupons {
	return &fakeCoupons{coupons: make(map[string]*model.Coupon)}
}

func (f *fakeCoupons) CreateCoupon(ctx context.Context, c *model.Coupon) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	code := model.NormalizeCode(c.Code)
	if _, ok := f.coupons[code]; ok {
		return repository.ErrCouponCodeExists
	}
	stored := *c
	f.coupons[code] = &stored
	f.creates++
	return nil
}

func (f *fakeCoupons) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[model.NormalizeCode(code)]
	if !ok {
		return nil, repository.ErrCouponNotFound
	}
	out := *c
	return &out, nil
}

func (f *fakeCoupons) CouponCodeExists(ctx context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.coupons[model.NormalizeCode(code)]
	return ok, nil
}

func (f *fakeCoupons) IncrementCouponUsage(ctx context.Context, codes []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, code := range codes {
		if c, ok := f.coupons[model.NormalizeCode(code)]; ok {
			c.UsageCount++
			n++
		}
	}
	return n, nil
}

func (f *fakeCoupons) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func (f *fakeCoupons) usageOf(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.coupons[model.NormalizeCode(code)]; ok {
		return c.UsageCount
	}
	return -1
}

type memOnce struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memOnce) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memOnce) ForgetOnce(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")
