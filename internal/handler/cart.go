package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/salesboost/exitintent/internal/cache"
	"github.com/salesboost/exitintent/internal/handler/dto"
	"github.com/salesboost/exitintent/internal/identity"
	"github.com/salesboost/exitintent/internal/model"
)

const (
	maxCartItems    = 100
	maxCartQuantity = 999
)

// CartRepository reads and writes session carts.
type CartRepository interface {
	GetCart(ctx context.Context, identityKey string) (*model.Cart, error)
	ReplaceCartItems(ctx context.Context, identityKey string, items []model.CartItem) (*model.Cart, error)
}

// CartHandler serves the minimal storefront cart API.
type CartHandler struct {
	carts  CartRepository
	logger *slog.Logger
}

// NewCartHandler creates a new CartHandler.
func NewCartHandler(carts CartRepository, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		carts:  carts,
		logger: logger.With("component", "handler.cart"),
	}
}

// Get handles GET /api/v1/cart.
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	rc, ok := identity.FromContext(r.Context())
	if !ok || rc.Identity.IsZero() {
		writeError(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Client identity required")
		return
	}

	cart, err := h.carts.GetCart(r.Context(), rc.Identity.Key())
	if err != nil && !errors.Is(err, cache.ErrCartNotFound) {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToCartResponse(cart))
}

// ReplaceItems handles PUT /api/v1/cart/items. Applied coupons are kept.
func (h *CartHandler) ReplaceItems(w http.ResponseWriter, r *http.Request) {
	rc, ok := identity.FromContext(r.Context())
	if !ok || rc.Identity.IsZero() {
		writeError(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Client identity required")
		return
	}

	var req dto.ReplaceCartItemsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if err := validateCartItems(req.Items); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CART", err.Error())
		return
	}

	items := make([]model.CartItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, model.CartItem(it))
	}

	cart, err := h.carts.ReplaceCartItems(r.Context(), rc.Identity.Key(), items)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToCartResponse(cart))
}

func validateCartItems(items []dto.CartItem) error {
	if len(items) > maxCartItems {
		return fmt.Errorf("at most %d items allowed", maxCartItems)
	}
	for i, it := range items {
		switch {
		case it.ProductID == "":
			return fmt.Errorf("items[%d]: product_id is required", i)
		case it.Quantity < 0 || it.Quantity > maxCartQuantity:
			return fmt.Errorf("items[%d]: quantity must be between 0 and %d", i, maxCartQuantity)
		case it.UnitPrice.IsNegative():
			return fmt.Errorf("items[%d]: unit_price must not be negative", i)
		}
	}
	return nil
}
