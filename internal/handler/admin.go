package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/salesboost/exitintent/internal/auth"
	"github.com/salesboost/exitintent/internal/handler/dto"
	"github.com/salesboost/exitintent/internal/model"
)

// adminTimeout bounds each admin request's storage work.
const adminTimeout = 5 * time.Second

// SettingsManager reads and updates exit-intent settings.
type SettingsManager interface {
	Current(ctx context.Context) (*model.Settings, error)
	Update(ctx context.Context, next model.Settings) (*model.Settings, error)
}

// VisitorInspector reads and clears raw visitor state.
type VisitorInspector interface {
	Peek(ctx context.Context, id model.Identity) (*model.VisitorState, error)
	Clear(ctx context.Context, id model.Identity) error
}

// AdminHandler provides the admin console endpoints.
type AdminHandler struct {
	settings SettingsManager
	visitors VisitorInspector
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(settings SettingsManager, visitors VisitorInspector, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		settings: settings,
		visitors: visitors,
		logger:   logger.With("component", "handler.admin"),
	}
}

// GetSettings handles GET /api/v1/admin/exit-intent/settings.
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()

	s, err := h.settings.Current(ctx)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SettingsResponse{Settings: *s, Version: s.Version})
}

// PutSettings handles PUT /api/v1/admin/exit-intent/settings.
// The version in the body is ignored; the store decides whether to bump it.
func (h *AdminHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var next model.Settings
	if err := decodeJSON(r, &next); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()

	saved, err := h.settings.Update(ctx, next)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Info("settings_updated",
		"key_id", auth.KeyIDFromContext(r.Context()),
		"enabled", saved.Enabled,
		"version", saved.Version,
	)
	writeJSON(w, http.StatusOK, dto.SettingsResponse{Settings: *saved, Version: saved.Version})
}

// GetVisitor handles GET /api/v1/admin/exit-intent/visitors/{identity}.
// Identity is "user:<id>" or "guest:<token>".
func (h *AdminHandler) GetVisitor(w http.ResponseWriter, r *http.Request) {
	id, ok := visitorParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()

	st, err := h.visitors.Peek(ctx, id)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	resp := dto.VisitorStateResponse{Identity: id.Key(), Found: st != nil, State: st}
	if st != nil {
		s, err := h.settings.Current(ctx)
		if err != nil {
			handleServiceError(w, r, h.logger, err)
			return
		}
		resp.Stale = st.SchemaVersion != s.Version
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteVisitor handles DELETE /api/v1/admin/exit-intent/visitors/{identity}.
func (h *AdminHandler) DeleteVisitor(w http.ResponseWriter, r *http.Request) {
	id, ok := visitorParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()

	if err := h.visitors.Clear(ctx, id); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Info("visitor_state_cleared",
		"key_id", auth.KeyIDFromContext(r.Context()),
		"identity", id.LogValue(),
	)
	w.WriteHeader(http.StatusNoContent)
}

func visitorParam(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, err := model.ParseIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_IDENTITY", "identity must be user:<id> or guest:<token>")
		return model.Identity{}, false
	}
	return id, true
}
