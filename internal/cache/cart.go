package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/salesboost/exitintent/internal/model"
)

const (
	// cartPrefix is the Redis key prefix for carts keyed by identity.
	cartPrefix = "cart:"
	// CartTTL is the lifetime of an untouched cart.
	CartTTL = 7 * 24 * time.Hour
	// maxCartTxRetries bounds optimistic transaction retries.
	maxCartTxRetries = 5
)

// ErrCartNotFound is returned when no cart exists for an identity.
var ErrCartNotFound = errors.New("cart not found")

// GetCart loads the cart stored for an identity key.
func (c *Cache) GetCart(ctx context.Context, identityKey string) (*model.Cart, error) {
	data, err := c.client.Get(ctx, cartPrefix+identityKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart model.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return &cart, nil
}

// ReplaceCartItems swaps the cart's items and keeps its applied coupons.
// A missing cart is created.
func (c *Cache) ReplaceCartItems(ctx context.Context, identityKey string, items []model.CartItem) (*model.Cart, error) {
	cart, err := c.updateCart(ctx, identityKey, true, func(cart *model.Cart) bool {
		cart.Items = items
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("replace cart items: %w", err)
	}
	return cart, nil
}

// ApplyCartCoupon adds code to the cart's applied coupons.
// Returns false if the code was already applied.
func (c *Cache) ApplyCartCoupon(ctx context.Context, identityKey, code string) (bool, error) {
	var applied bool
	_, err := c.updateCart(ctx, identityKey, false, func(cart *model.Cart) bool {
		applied = cart.ApplyCoupon(code)
		return applied
	})
	if errors.Is(err, ErrCartNotFound) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("apply cart coupon: %w", err)
	}
	return applied, nil
}

// updateCart runs mutate on the stored cart under WATCH so concurrent cart
// writes are never lost. mutate reports whether the cart changed.
func (c *Cache) updateCart(ctx context.Context, identityKey string, create bool, mutate func(*model.Cart) bool) (*model.Cart, error) {
	key := cartPrefix + identityKey
	var cart model.Cart

	txf := func(tx *redis.Tx) error {
		cart = model.Cart{}
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if !create {
				return ErrCartNotFound
			}
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &cart); err != nil {
				return fmt.Errorf("decode cart: %w", err)
			}
		}

		if !mutate(&cart) {
			return nil
		}
		cart.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(&cart)
		if err != nil {
			return fmt.Errorf("encode cart: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, CartTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxCartTxRetries; i++ {
		err := c.client.Watch(ctx, txf, key)
		if err == nil {
			return &cart, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}

	return nil, errors.New("too many concurrent updates")
}
