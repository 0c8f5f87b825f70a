package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/salesboost/exitintent/internal/middleware"
	"github.com/salesboost/exitintent/internal/service"
)

// handleServiceError maps service errors to HTTP responses.
// Policy outcomes are 400s the storefront script expects; everything
// unexpected is logged and returned as a 500.
func handleServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrFeatureDisabled):
		writeError(w, http.StatusBadRequest, "FEATURE_DISABLED", "Exit-intent offer is disabled")
	case errors.Is(err, service.ErrNotEligible):
		writeError(w, http.StatusBadRequest, "NOT_ELIGIBLE", "Visitor is not eligible for the offer")
	case errors.Is(err, service.ErrNoDiscountConfigured):
		writeError(w, http.StatusBadRequest, "NO_DISCOUNT_CONFIGURED", "No discount is configured")
	case errors.Is(err, service.ErrCartUnavailable):
		writeError(w, http.StatusBadRequest, "CART_UNAVAILABLE", "Cart is not available")
	case errors.Is(err, service.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, "INVALID_SETTINGS", err.Error())
	case errors.Is(err, service.ErrInvalidClientIdentity):
		writeError(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Client identity required")
	case errors.Is(err, service.ErrCouponCreationFailed):
		logger.Error("coupon creation failed",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "COUPON_CREATION_FAILED", "Could not create coupon")
	default:
		logger.Error("internal_error",
			"error", err,
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
