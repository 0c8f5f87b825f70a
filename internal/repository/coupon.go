package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/salesboost/exitintent/internal/model"
)

// Common errors for coupon repository operations.
var (
	ErrCouponNotFound   = errors.New("coupon not found")
	ErrCouponCodeExists = errors.New("coupon code already exists")
)

const couponColumns = `id, code, discount_type, amount, free_shipping, usage_limit, usage_limit_per_user,
		usage_count, issued_to, source, expires_at, created_at`

// CreateCoupon inserts a coupon into the coupon index.
func (r *Repository) CreateCoupon(ctx context.Context, c *model.Coupon) error {
	query := `
		INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.pool.Exec(ctx, query,
		c.ID,
		model.NormalizeCode(c.Code),
		c.DiscountType,
		c.Amount,
		c.FreeShipping,
		c.UsageLimit,
		c.UsageLimitPerUser,
		c.UsageCount,
		c.IssuedTo,
		c.Source,
		c.ExpiresAt,
		c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCouponCodeExists
		}
		return fmt.Errorf("failed to create coupon: %w", err)
	}

	return nil
}

// GetCouponByCode looks a coupon up case-insensitively.
func (r *Repository) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = $1`

	var c model.Coupon
	err := r.pool.QueryRow(ctx, query, model.NormalizeCode(code)).Scan(
		&c.ID,
		&c.Code,
		&c.DiscountType,
		&c.Amount,
		&c.FreeShipping,
		&c.UsageLimit,
		&c.UsageLimitPerUser,
		&c.UsageCount,
		&c.IssuedTo,
		&c.Source,
		&c.ExpiresAt,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}

	return &c, nil
}

// CouponCodeExists reports whether a code is taken.
func (r *Repository) CouponCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM coupons WHERE UPPER(code) = $1)`,
		model.NormalizeCode(code),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check coupon code: %w", err)
	}
	return exists, nil
}

// IncrementCouponUsage bumps usage_count for every known code in codes.
// Returns the number of coupons updated.
func (r *Repository) IncrementCouponUsage(ctx context.Context, codes []string) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}

	normalized := make([]string, 0, len(codes))
	for _, code := range codes {
		if n := model.NormalizeCode(code); n != "" {
			normalized = append(normalized, n)
		}
	}

	query := `
		UPDATE coupons
		SET usage_count = usage_count + 1
		WHERE UPPER(code) = ANY($1)
	`
	result, err := r.pool.Exec(ctx, query, pq.Array(normalized))
	if err != nil {
		return 0, fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	return result.RowsAffected(), nil
}
