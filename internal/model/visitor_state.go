package model

import "time"

// VisitorState is the per-identity exit-intent popup state.
type VisitorState struct {
	ShownAt       *time.Time `json:"shown_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CouponCode    string     `json:"coupon_code,omitempty"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
	ConvertedAt   *time.Time `json:"converted_at,omitempty"`
	OrderID       string     `json:"order_id,omitempty"`
	SchemaVersion int64      `json:"schema_version"`
}

// IsConverted returns true once an order using the issued coupon completed.
func (s *VisitorState) IsConverted() bool {
	return s.ConvertedAt != nil
}

// HasCoupon returns true if a coupon code has been issued.
func (s *VisitorState) HasCoupon() bool {
	return s.CouponCode != ""
}

// IsShownExpired reports whether the shown window closed before now.
func (s *VisitorState) IsShownExpired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// ClearCoupon drops the coupon fields and keeps shown_at for audit.
func (s *VisitorState) ClearCoupon() {
	s.CouponCode = ""
	s.UsedAt = nil
}

// MarkConverted records a conversion and moves expires_at to the end of the cooldown.
func (s *VisitorState) MarkConverted(orderID string, now time.Time, cooldown time.Duration) {
	converted := now
	until := now.Add(cooldown)
	s.ConvertedAt = &converted
	s.OrderID = orderID
	s.ExpiresAt = &until
}
