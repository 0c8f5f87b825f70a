package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType is the store-level discount kind of a coupon.
type DiscountType string

const (
	DiscountPercent   DiscountType = "percent"
	DiscountFixedCart DiscountType = "fixed_cart"
)

// CouponSourceExitIntent tags coupons created by the popup.
const CouponSourceExitIntent = "exit_intent"

// Coupon is an entry in the coupon index.
type Coupon struct {
	ID                string          `json:"id"`
	Code              string          `json:"code"`
	DiscountType      DiscountType    `json:"discount_type"`
	Amount            decimal.Decimal `json:"amount"`
	FreeShipping      bool            `json:"free_shipping"`
	UsageLimit        int             `json:"usage_limit"`
	UsageLimitPerUser int             `json:"usage_limit_per_user"`
	UsageCount        int             `json:"usage_count"`
	IssuedTo          string          `json:"issued_to"`
	Source            string          `json:"source"`
	ExpiresAt         time.Time       `json:"expires_at"`
	CreatedAt         time.Time       `json:"created_at"`
}

// IsExpired returns true if the coupon's expiry passed.
func (c *Coupon) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// RemainingUses returns how many redemptions are left. A zero limit is unlimited.
func (c *Coupon) RemainingUses() int {
	if c.UsageLimit <= 0 {
		return 1
	}
	return c.UsageLimit - c.UsageCount
}

// IsUsable reports whether the coupon can still be redeemed.
func (c *Coupon) IsUsable(now time.Time) bool {
	return !c.IsExpired(now) && c.RemainingUses() > 0
}

// NormalizeCode returns the canonical, case-insensitive form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ContainsCode checks codes case-insensitively.
func ContainsCode(codes []string, code string) bool {
	target := NormalizeCode(code)
	if target == "" {
		return false
	}
	for _, c := range codes {
		if NormalizeCode(c) == target {
			return true
		}
	}
	return false
}
