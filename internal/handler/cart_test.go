package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/salesboost/exitintent/internal/cache"
	"github.com/salesboost/exitintent/internal/handler/dto"
	"github.com/salesboost/exitintent/internal/model"
)

type memCarts struct {
	mu      sync.Mutex
	carts   map[string]*model.Cart
	saveErr error
}

func newMemCarts() *memCarts {
	return &memCarts{carts: make(map[string]*model.Cart)}
}

func (m *memCarts) GetCart(ctx context.Context, identityKey string) (*model.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[identityKey]
	if !ok {
		return nil, cache.ErrCartNotFound
	}
	out := *c
	return &out, nil
}

func (m *memCarts) ReplaceCartItems(ctx context.Context, identityKey string, items []model.CartItem) (*model.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	cart := &model.Cart{}
	if c, ok := m.carts[identityKey]; ok {
		cart.AppliedCoupons = c.AppliedCoupons
	}
	cart.Items = items
	cart.UpdatedAt = time.Now().UTC()
	m.carts[identityKey] = cart
	out := *cart
	return &out, nil
}

func TestCartHandler_GetMissingCartIsEmpty(t *testing.T) {
	h := NewCartHandler(newMemCarts(), testLogger())

	rec := httptest.NewRecorder()
	h.Get(rec, withVisitor(httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil), model.UserIdentity("1")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp dto.CartResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.HasItems || len(resp.Items) != 0 || !resp.Subtotal.IsZero() {
		t.Errorf("resp = %+v, want empty cart", resp)
	}
}

func TestCartHandler_ReplaceItemsKeepsCoupons(t *testing.T) {
	carts := newMemCarts()
	id := model.UserIdentity("1")
	carts.carts[id.Key()] = &model.Cart{
		Items:          []model.CartItem{{ProductID: "old", Quantity: 1, UnitPrice: decimal.NewFromInt(5)}},
		AppliedCoupons: []string{"EXIT-AAAA1111"},
	}
	h := NewCartHandler(carts, testLogger())

	body := `{"items":[{"product_id":"sku-1","quantity":2,"unit_price":"12.50"},{"product_id":"sku-2","quantity":0,"unit_price":"3"}]}`
	rec := httptest.NewRecorder()
	h.ReplaceItems(rec, withVisitor(httptest.NewRequest(http.MethodPut, "/api/v1/cart/items", strings.NewReader(body)), id))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp dto.CartResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.HasItems || len(resp.Items) != 2 {
		t.Errorf("resp = %+v", resp)
	}
	if !resp.Subtotal.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Subtotal = %s, want 25", resp.Subtotal)
	}
	if len(resp.AppliedCoupons) != 1 || resp.AppliedCoupons[0] != "EXIT-AAAA1111" {
		t.Errorf("AppliedCoupons = %v, want kept", resp.AppliedCoupons)
	}

	stored, _ := carts.GetCart(context.Background(), id.Key())
	if stored.Items[0].ProductID != "sku-1" || stored.UpdatedAt.IsZero() {
		t.Errorf("stored cart = %+v", stored)
	}
}

func TestCartHandler_ReplaceItemsValidation(t *testing.T) {
	tooMany := `{"items":[` + strings.TrimSuffix(strings.Repeat(`{"product_id":"p","quantity":1,"unit_price":"1"},`, maxCartItems+1), ",") + `]}`

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"malformed json", `{"items":`, "INVALID_JSON"},
		{"unknown field", `{"items":[],"total":3}`, "INVALID_JSON"},
		{"missing product", `{"items":[{"quantity":1,"unit_price":"1"}]}`, "INVALID_CART"},
		{"negative quantity", `{"items":[{"product_id":"p","quantity":-1,"unit_price":"1"}]}`, "INVALID_CART"},
		{"quantity too large", `{"items":[{"product_id":"p","quantity":1000,"unit_price":"1"}]}`, "INVALID_CART"},
		{"negative price", `{"items":[{"product_id":"p","quantity":1,"unit_price":"-0.01"}]}`, "INVALID_CART"},
		{"too many items", tooMany, "INVALID_CART"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			carts := newMemCarts()
			h := NewCartHandler(carts, testLogger())
			rec := httptest.NewRecorder()
			req := withVisitor(httptest.NewRequest(http.MethodPut, "/api/v1/cart/items", strings.NewReader(tt.body)), model.UserIdentity("1"))
			h.ReplaceItems(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if body := decodeError(t, rec); body.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", body.Code, tt.wantCode)
			}
			if len(carts.carts) != 0 {
				t.Error("invalid request must not save a cart")
			}
		})
	}
}

func TestCartHandler_SaveFailure(t *testing.T) {
	carts := newMemCarts()
	carts.saveErr = errors.New("redis down")
	h := NewCartHandler(carts, testLogger())

	rec := httptest.NewRecorder()
	req := withVisitor(httptest.NewRequest(http.MethodPut, "/api/v1/cart/items", strings.NewReader(`{"items":[]}`)), model.UserIdentity("1"))
	h.ReplaceItems(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestCartHandler_RequiresIdentity(t *testing.T) {
	h := NewCartHandler(newMemCarts(), testLogger())

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
