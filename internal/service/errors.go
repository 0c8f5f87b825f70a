// Package service provides business logic for the exit-intent offer.
package service

import "errors"

// Service errors. Handlers map these to HTTP status codes.
var (
	ErrFeatureDisabled       = errors.New("exit intent offer is disabled")
	ErrNotEligible           = errors.New("visitor is not eligible")
	ErrNoDiscountConfigured  = errors.New("no discount configured")
	ErrCartUnavailable       = errors.New("cart is unavailable")
	ErrCouponCreationFailed  = errors.New("coupon could not be created")
	ErrInvalidClientIdentity = errors.New("invalid client identity")
	ErrInvalidSettings       = errors.New("invalid settings")
)
