package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/salesboost/exitintent/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 731505

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// Migration file stems in apply order.
const (
	MigrationInit            = "000001_init"
	MigrationVisitorStates   = "000002_visitor_states"
	MigrationCoupons         = "000003_coupons"
	MigrationFeatureSettings = "000004_feature_settings"
	MigrationAPIKeys         = "000005_api_keys"
)

// ApplyMigration runs the up (or down) file of a migration.
func ApplyMigration(ctx context.Context, pool *pgxpool.Pool, name string, up bool) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	suffix := ".down.sql"
	if up {
		suffix = ".up.sql"
	}

	sql, err := os.ReadFile(filepath.Join(root, "migrations", name+suffix))
	if err != nil {
		return fmt.Errorf("read %s%s: %w", name, suffix, err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply %s%s: %w", name, suffix, err)
	}
	return nil
}

// ResetSchema drops and recreates the tables of the named migrations.
// The init migration is always applied first.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool, names ...string) error {
	if err := ApplyMigration(ctx, pool, MigrationInit, true); err != nil {
		return err
	}
	for _, name := range names {
		if err := ApplyMigration(ctx, pool, name, false); err != nil {
			return err
		}
		if err := ApplyMigration(ctx, pool, name, true); err != nil {
			return err
		}
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestAPIKey creates a test API key with sensible defaults.
func NewTestAPIKey(t testing.TB, name string) *model.APIKey {
	t.Helper()
	now := time.Now().UTC()
	return &model.APIKey{
		ID:        fmt.Sprintf("key-%d", now.UnixNano()),
		Name:      name,
		KeyHash:   fmt.Sprintf("hash-%d", now.UnixNano()),
		KeyPrefix: "a1b2c3",
		Scopes:    []string{model.ScopeSettingsRead},
		CreatedAt: now,
	}
}

// NewShownState returns a state as written by mark-shown at now.
func NewShownState(now time.Time, window time.Duration, version int64) *model.VisitorState {
	shown := now.UTC()
	expires := shown.Add(window)
	return &model.VisitorState{
		ShownAt:       &shown,
		ExpiresAt:     &expires,
		SchemaVersion: version,
	}
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
