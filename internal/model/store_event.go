package model

import (
	"errors"
	"time"
)

// StoreEventType names events the store sends to the service.
type StoreEventType string

const (
	EventOrderCompleted       StoreEventType = "order.completed"
	EventOrderPaymentComplete StoreEventType = "order.payment_complete"
	EventCustomerLoggedIn     StoreEventType = "customer.logged_in"
)

// ValidStoreEventTypes lists accepted event types.
var ValidStoreEventTypes = []StoreEventType{
	EventOrderCompleted,
	EventOrderPaymentComplete,
	EventCustomerLoggedIn,
}

// IsValid checks if the event type is known.
func (t StoreEventType) IsValid() bool {
	for _, v := range ValidStoreEventTypes {
		if t == v {
			return true
		}
	}
	return false
}

// IsOrderEvent reports whether the event carries an order.
func (t StoreEventType) IsOrderEvent() bool {
	return t == EventOrderCompleted || t == EventOrderPaymentComplete
}

// Store event validation errors.
var (
	ErrEventTypeInvalid   = errors.New("unknown event type")
	ErrEventOrderMissing  = errors.New("order_id is required for order events")
	ErrEventBuyerMissing  = errors.New("customer_id or guest_token is required")
	ErrEventCustomerLogin = errors.New("customer_id is required for login events")
)

// StoreEvent is an order or customer lifecycle event emitted by the store.
type StoreEvent struct {
	ID          string         `json:"id"`
	Type        StoreEventType `json:"type"`
	OrderID     string         `json:"order_id,omitempty"`
	CustomerID  string         `json:"customer_id,omitempty"`
	GuestToken  string         `json:"guest_token,omitempty"` // signed cookie value
	CouponCodes []string       `json:"coupon_codes,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// Validate checks required fields per event type.
func (e *StoreEvent) Validate() error {
	if !e.Type.IsValid() {
		return ErrEventTypeInvalid
	}
	if e.Type.IsOrderEvent() {
		if e.OrderID == "" {
			return ErrEventOrderMissing
		}
		if e.CustomerID == "" && e.GuestToken == "" {
			return ErrEventBuyerMissing
		}
	}
	if e.Type == EventCustomerLoggedIn && e.CustomerID == "" {
		return ErrEventCustomerLogin
	}
	return nil
}
