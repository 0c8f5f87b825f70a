package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/salesboost/exitintent/internal/cache"
	"github.com/salesboost/exitintent/internal/model"
	"github.com/salesboost/exitintent/internal/repository"
)

// SettingsRepository persists feature settings.
type SettingsRepository interface {
	GetSettings(ctx context.Context, feature string) (*model.Settings, error)
	SaveSettings(ctx context.Context, feature string, next *model.Settings) (*model.Settings, error)
}

// SettingsCache is the read-through cache in front of SettingsRepository.
type SettingsCache interface {
	GetSettings(ctx context.Context, feature string) (*model.Settings, error)
	SetSettings(ctx context.Context, feature string, s *model.Settings, ttl time.Duration) error
	DeleteSettings(ctx context.Context, feature string) error
}

// SettingsProvider returns the settings currently in effect.
type SettingsProvider interface {
	Current(ctx context.Context) (*model.Settings, error)
}

// SettingsService reads and updates the exit-intent settings.
type SettingsService struct {
	repo   SettingsRepository
	cache  SettingsCache
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(repo SettingsRepository, c SettingsCache, ttl time.Duration, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		cache:  c,
		ttl:    ttl,
		logger: logger.With("component", "settings"),
	}
}

// Current returns the cached settings, loading them from the database on a
// miss. Defaults are returned when nothing has been saved yet.
func (s *SettingsService) Current(ctx context.Context) (*model.Settings, error) {
	cached, err := s.cache.GetSettings(ctx, model.FeatureExitIntent)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("settings cache read failed", "error", err)
	}

	v, err, _ := s.group.Do(model.FeatureExitIntent, func() (interface{}, error) {
		loaded, err := s.repo.GetSettings(ctx, model.FeatureExitIntent)
		if errors.Is(err, repository.ErrSettingsNotFound) {
			defaults := model.DefaultSettings()
			loaded = &defaults
		} else if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}

		if err := s.cache.SetSettings(ctx, model.FeatureExitIntent, loaded, s.ttl); err != nil {
			s.logger.Warn("settings cache write failed", "error", err)
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}

	// Callers sharing a flight must not see each other's mutations.
	out := *v.(*model.Settings)
	return &out, nil
}

// Update validates and saves next. The stored version is bumped by the
// repository when a coupon-relevant field changed.
func (s *SettingsService) Update(ctx context.Context, next model.Settings) (*model.Settings, error) {
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	saved, err := s.repo.SaveSettings(ctx, model.FeatureExitIntent, &next)
	if err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}

	if err := s.cache.DeleteSettings(ctx, model.FeatureExitIntent); err != nil {
		s.logger.Warn("settings cache invalidation failed", "error", err)
	}

	s.logger.Info("settings updated",
		"enabled", saved.Enabled,
		"offer_type", saved.Offer.Type,
		"version", saved.Version,
	)
	return saved, nil
}

// GuestTTL returns the lifetime of guest state and guest cookies.
func (s *SettingsService) GuestTTL(ctx context.Context) time.Duration {
	current, err := s.Current(ctx)
	if err != nil {
		s.logger.Warn("falling back to default guest ttl", "error", err)
		defaults := model.DefaultSettings()
		return defaults.GuestTTL()
	}
	return current.GuestTTL()
}
