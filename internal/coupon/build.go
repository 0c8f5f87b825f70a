package coupon

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/salesboost/exitintent/internal/model"
)

// ErrNoDiscount is returned when the offer is configured as "none".
var ErrNoDiscount = errors.New("offer has no discount")

// Build creates a single-use coupon for the given offer.
//
//	percent       -> percent discount of offer.Value
//	fixed_amount  -> fixed cart discount of offer.Value
//	free_shipping -> zero-amount fixed cart discount with free shipping
func Build(offer model.OfferConfig, code string, issuedTo model.Identity, now time.Time) (*model.Coupon, error) {
	c := &model.Coupon{
		ID:                ulid.Make().String(),
		Code:              model.NormalizeCode(code),
		UsageLimit:        1,
		UsageLimitPerUser: 1,
		IssuedTo:          issuedTo.Key(),
		Source:            model.CouponSourceExitIntent,
		ExpiresAt:         now.Add(time.Duration(offer.Expires) * time.Hour).UTC(),
		CreatedAt:         now.UTC(),
	}

	switch offer.Type {
	case model.OfferPercent:
		c.DiscountType = model.DiscountPercent
		c.Amount = offer.Value
	case model.OfferFixedAmount:
		c.DiscountType = model.DiscountFixedCart
		c.Amount = offer.Value
	case model.OfferFreeShipping:
		c.DiscountType = model.DiscountFixedCart
		c.Amount = decimal.Zero
		c.FreeShipping = true
	default:
		return nil, ErrNoDiscount
	}

	return c, nil
}
