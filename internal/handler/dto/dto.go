// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/salesboost/exitintent/internal/model"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// BootstrapResponse carries everything the storefront script needs on page load.
type BootstrapResponse struct {
	Enabled  bool                  `json:"enabled"`
	Nonce    string                `json:"nonce"`
	Eligible bool                  `json:"eligible"`
	Trigger  *model.TriggerConfig  `json:"trigger,omitempty"`
	Content  *model.ContentConfig  `json:"content,omitempty"`
	Behavior *model.BehaviorConfig `json:"behavior,omitempty"`
}

// EligibilityResponse answers GET /api/v1/exit-intent/eligibility.
type EligibilityResponse struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason"`
}

// CartCheckResponse answers POST /api/v1/exit-intent/cart-check.
type CartCheckResponse struct {
	HasItems bool `json:"has_items"`
}

// ShownResponse answers POST /api/v1/exit-intent/shown.
type ShownResponse struct {
	Marked bool `json:"marked"`
}

// CouponResponse answers POST /api/v1/exit-intent/coupon.
type CouponResponse struct {
	Code     string `json:"code"`
	Existing bool   `json:"existing"`
}

// CartItem is one line of a cart request or response.
type CartItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ReplaceCartItemsRequest is the body of PUT /api/v1/cart/items.
type ReplaceCartItemsRequest struct {
	Items []CartItem `json:"items"`
}

// CartResponse is the storefront view of a cart.
type CartResponse struct {
	Items          []CartItem      `json:"items"`
	AppliedCoupons []string        `json:"applied_coupons"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	HasItems       bool            `json:"has_items"`
}

// ToCartResponse converts a cart. A nil cart renders as empty.
func ToCartResponse(cart *model.Cart) CartResponse {
	resp := CartResponse{
		Items:          []CartItem{},
		AppliedCoupons: []string{},
		Subtotal:       decimal.Zero,
	}
	if cart == nil {
		return resp
	}
	for _, it := range cart.Items {
		resp.Items = append(resp.Items, CartItem(it))
	}
	resp.AppliedCoupons = append(resp.AppliedCoupons, cart.AppliedCoupons...)
	resp.Subtotal = cart.Subtotal()
	resp.HasItems = cart.HasItems()
	return resp
}

// SettingsResponse wraps settings returned by the admin API.
type SettingsResponse struct {
	Settings model.Settings `json:"settings"`
	Version  int64          `json:"version"`
}

// VisitorStateResponse shows stored visitor state to support staff.
type VisitorStateResponse struct {
	Identity string              `json:"identity"`
	Found    bool                `json:"found"`
	State    *model.VisitorState `json:"state,omitempty"`
	Stale    bool                `json:"stale"`
}

// EventAcceptedResponse answers an accepted store webhook.
type EventAcceptedResponse struct {
	EventID    string    `json:"event_id"`
	StreamID   string    `json:"stream_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}
