package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/salesboost/exitintent/internal/handler/dto"
	"github.com/salesboost/exitintent/internal/identity"
	"github.com/salesboost/exitintent/internal/model"
	"github.com/salesboost/exitintent/internal/service"
)

// ExitIntentService is the part of the service layer the storefront uses.
type ExitIntentService interface {
	Eligibility(ctx context.Context, rc model.RequestContext) (*service.EligibilityResult, error)
	CartHasItems(ctx context.Context, rc model.RequestContext) (bool, error)
	MarkShown(ctx context.Context, rc model.RequestContext) error
	IssueCoupon(ctx context.Context, rc model.RequestContext) (*service.IssueResult, error)
}

// NonceIssuer mints CSRF nonces for an identity.
type NonceIssuer interface {
	Nonce(id model.Identity, now time.Time) string
}

// ExitIntentHandler serves the storefront popup endpoints.
type ExitIntentHandler struct {
	svc    ExitIntentService
	nonces NonceIssuer
	logger *slog.Logger
	now    func() time.Time
}

// NewExitIntentHandler creates a new ExitIntentHandler.
func NewExitIntentHandler(svc ExitIntentService, nonces NonceIssuer, logger *slog.Logger) *ExitIntentHandler {
	return &ExitIntentHandler{
		svc:    svc,
		nonces: nonces,
		logger: logger.With("component", "handler.exit_intent"),
		now:    time.Now,
	}
}

// Bootstrap handles GET /api/v1/exit-intent/bootstrap.
// The identity middleware has already set the guest cookie if needed.
func (h *ExitIntentHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.requestContext(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Eligibility(r.Context(), rc)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	resp := dto.BootstrapResponse{
		Enabled:  res.Enabled,
		Nonce:    h.nonces.Nonce(rc.Identity, h.now()),
		Eligible: res.Eligible,
	}
	if res.Enabled {
		resp.Trigger = &res.Settings.Trigger
		resp.Content = &res.Settings.Content
		resp.Behavior = &res.Settings.Behavior
	}
	writeJSON(w, http.StatusOK, resp)
}

// Eligibility handles GET /api/v1/exit-intent/eligibility.
func (h *ExitIntentHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.requestContext(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Eligibility(r.Context(), rc)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.EligibilityResponse{Eligible: res.Eligible, Reason: string(res.Reason)})
}

// CartCheck handles POST /api/v1/exit-intent/cart-check.
func (h *ExitIntentHandler) CartCheck(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.requestContext(w, r)
	if !ok {
		return
	}

	hasItems, err := h.svc.CartHasItems(r.Context(), rc)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.CartCheckResponse{HasItems: hasItems})
}

// Shown handles POST /api/v1/exit-intent/shown.
func (h *ExitIntentHandler) Shown(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.requestContext(w, r)
	if !ok {
		return
	}

	if err := h.svc.MarkShown(r.Context(), rc); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ShownResponse{Marked: true})
}

// Coupon handles POST /api/v1/exit-intent/coupon.
func (h *ExitIntentHandler) Coupon(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.requestContext(w, r)
	if !ok {
		return
	}

	res, err := h.svc.IssueCoupon(r.Context(), rc)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.CouponResponse{Code: res.Code, Existing: res.Existing})
}

func (h *ExitIntentHandler) requestContext(w http.ResponseWriter, r *http.Request) (model.RequestContext, bool) {
	rc, ok := identity.FromContext(r.Context())
	if !ok || rc.Identity.IsZero() {
		writeError(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Client identity required")
		return rc, false
	}
	return rc, true
}
