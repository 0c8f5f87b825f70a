package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/salesboost/exitintent/internal/model"
)

// ErrSettingsNotFound is returned when a feature has never been configured.
var ErrSettingsNotFound = errors.New("settings not found")

// GetSettings loads the stored settings of a feature.
func (r *Repository) GetSettings(ctx context.Context, feature string) (*model.Settings, error) {
	return scanSettings(r.pool.QueryRow(ctx,
		`SELECT settings, version, updated_at FROM feature_settings WHERE feature = $1`,
		feature,
	))
}

// SaveSettings persists next for a feature. The stored version is carried
// over and bumped when a coupon-relevant field differs from the previous
// settings (or the defaults when none were stored). Returns the saved row.
func (r *Repository) SaveSettings(ctx context.Context, feature string, next *model.Settings) (*model.Settings, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	prev, err := scanSettings(tx.QueryRow(ctx,
		`SELECT settings, version, updated_at FROM feature_settings WHERE feature = $1 FOR UPDATE`,
		feature,
	))
	if errors.Is(err, ErrSettingsNotFound) {
		defaults := model.DefaultSettings()
		prev = &defaults
	} else if err != nil {
		return nil, err
	}

	saved := *next
	saved.Version = prev.Version
	if model.CouponRelevantChanged(prev, next) {
		saved.Version++
	}
	saved.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(&saved)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}

	query := `
		INSERT INTO feature_settings (feature, settings, version, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (feature) DO UPDATE
		SET settings = EXCLUDED.settings, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.Exec(ctx, query, feature, data, saved.Version, saved.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit settings: %w", err)
	}

	return &saved, nil
}

func scanSettings(row pgx.Row) (*model.Settings, error) {
	var (
		data      []byte
		version   int64
		updatedAt time.Time
	)
	if err := row.Scan(&data, &version, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	var s model.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	// Columns are authoritative over the JSON copy.
	s.Version = version
	s.UpdatedAt = updatedAt
	return &s, nil
}
