package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem is a single cart line.
type CartItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Cart is the visitor's session cart.
type Cart struct {
	Items          []CartItem `json:"items"`
	AppliedCoupons []string   `json:"applied_coupons,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HasItems returns true if any line has a positive quantity.
func (c *Cart) HasItems() bool {
	for _, item := range c.Items {
		if item.Quantity > 0 {
			return true
		}
	}
	return false
}

// Subtotal sums line totals.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// HasCoupon checks applied codes case-insensitively.
func (c *Cart) HasCoupon(code string) bool {
	return ContainsCode(c.AppliedCoupons, code)
}

// ApplyCoupon adds the code unless it is already applied. Returns false when it was.
func (c *Cart) ApplyCoupon(code string) bool {
	if c.HasCoupon(code) {
		return false
	}
	c.AppliedCoupons = append(c.AppliedCoupons, NormalizeCode(code))
	return true
}
