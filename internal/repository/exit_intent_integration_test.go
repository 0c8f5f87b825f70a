//go:build integration

package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/salesboost/exitintent/internal/model"
	"github.com/salesboost/exitintent/internal/testutil"
)

// ============================================================================
// Visitor State
// ============================================================================

func TestIntegrationVisitorState_UpsertGetDelete(t *testing.T) {
	ctx, repo := newTestEnv(t, testutil.MigrationVisitorStates)

	if _, err := repo.GetVisitorState(ctx, "42"); !errors.Is(err, ErrVisitorStateNotFound) {
		t.Fatalf("Expected ErrVisitorStateNotFound, got: %v", err)
	}

	state := testutil.NewShownState(time.Now(), 24*time.Hour, 2)
	if err := repo.UpsertVisitorState(ctx, "42", state); err != nil {
		t.Fatalf("UpsertVisitorState failed: %v", err)
	}

	state.CouponCode = "EXIT-ABCDEFGH"
	if err := repo.UpsertVisitorState(ctx, "42", state); err != nil {
		t.Fatalf("second UpsertVisitorState failed: %v", err)
	}

	got, err := repo.GetVisitorState(ctx, "42")
	if err != nil {
		t.Fatalf("GetVisitorState failed: %v", err)
	}
	if got.CouponCode != "EXIT-ABCDEFGH" || got.SchemaVersion != 2 {
		t.Errorf("unexpected state: %+v", got)
	}

	if err := repo.DeleteVisitorState(ctx, "42"); err != nil {
		t.Fatalf("DeleteVisitorState failed: %v", err)
	}
	if err := repo.DeleteVisitorState(ctx, "42"); err != nil {
		t.Errorf("deleting a missing row should succeed, got %v", err)
	}
}

func TestIntegrationVisitorState_InsertIfAbsentNeverOverwrites(t *testing.T) {
	ctx, repo := newTestEnv(t, testutil.MigrationVisitorStates)

	existing := &model.VisitorState{CouponCode: "USER-CODE", SchemaVersion: 1}
	if err := repo.UpsertVisitorState(ctx, "7", existing); err != nil {
		t.Fatalf("UpsertVisitorState failed: %v", err)
	}

	inserted, err := repo.InsertVisitorStateIfAbsent(ctx, "7", &model.VisitorState{CouponCode: "GUEST-CODE"})
	if err != nil {
		t.Fatalf("InsertVisitorStateIfAbsent failed: %v", err)
	}
	if inserted {
		t.Error("existing row must not be replaced")
	}

	got, _ := repo.GetVisitorState(ctx, "7")
	if got.CouponCode != "USER-CODE" {
		t.Errorf("CouponCode = %q, want USER-CODE", got.CouponCode)
	}

	inserted, err = repo.InsertVisitorStateIfAbsent(ctx, "8", &model.VisitorState{CouponCode: "GUEST-CODE"})
	if err != nil || !inserted {
		t.Errorf("insert into empty slot: inserted=%v err=%v", inserted, err)
	}
}

// ============================================================================
// Coupons
// ============================================================================

func TestIntegrationCoupon_CreateLookupAndUsage(t *testing.T) {
	ctx, repo := newTestEnv(t, testutil.MigrationCoupons)

	now := time.Now().UTC().Truncate(time.Second)
	c := &model.Coupon{
		ID:                testutil.UniqueID("cpn"),
		Code:              "go-abcdefgh",
		DiscountType:      model.DiscountPercent,
		Amount:            decimal.NewFromInt(20),
		UsageLimit:        1,
		UsageLimitPerUser: 1,
		IssuedTo:          "guest:tok",
		Source:            model.CouponSourceExitIntent,
		ExpiresAt:         now.Add(time.Hour),
		CreatedAt:         now,
	}
	if err := repo.CreateCoupon(ctx, c); err != nil {
		t.Fatalf("CreateCoupon failed: %v", err)
	}

	dup := *c
	dup.ID = testutil.UniqueID("cpn")
	dup.Code = "GO-ABCDEFGH"
	if err := repo.CreateCoupon(ctx, &dup); !errors.Is(err, ErrCouponCodeExists) {
		t.Errorf("Expected ErrCouponCodeExists, got: %v", err)
	}

	exists, err := repo.CouponCodeExists(ctx, "Go-AbCdEfGh")
	if err != nil || !exists {
		t.Errorf("CouponCodeExists = %v, %v; want true", exists, err)
	}

	got, err := repo.GetCouponByCode(ctx, "go-abcdefgh")
	if err != nil {
		t.Fatalf("GetCouponByCode failed: %v", err)
	}
	if !got.Amount.Equal(decimal.NewFromInt(20)) || got.Code != "GO-ABCDEFGH" {
		t.Errorf("unexpected coupon: %+v", got)
	}
	if !got.IsUsable(now) {
		t.Error("fresh coupon should be usable")
	}

	n, err := repo.IncrementCouponUsage(ctx, []string{"go-abcdefgh", "UNKNOWN"})
	if err != nil || n != 1 {
		t.Fatalf("IncrementCouponUsage = %d, %v; want 1", n, err)
	}

	got, _ = repo.GetCouponByCode(ctx, "GO-ABCDEFGH")
	if got.IsUsable(now) {
		t.Error("coupon should be exhausted after one use")
	}

	if _, err := repo.GetCouponByCode(ctx, "missing"); !errors.Is(err, ErrCouponNotFound) {
		t.Errorf("Expected ErrCouponNotFound, got: %v", err)
	}
}

// ============================================================================
// Settings
// ============================================================================

func TestIntegrationSettings_VersionBump(t *testing.T) {
	ctx, repo := newTestEnv(t, testutil.MigrationFeatureSettings)

	if _, err := repo.GetSettings(ctx, model.FeatureExitIntent); !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("Expected ErrSettingsNotFound, got: %v", err)
	}

	s := model.DefaultSettings()
	s.Enabled = true
	saved, err := repo.SaveSettings(ctx, model.FeatureExitIntent, &s)
	if err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	if saved.Version != 1 {
		t.Errorf("enabling only should keep version 1, got %d", saved.Version)
	}

	s.Content.Headline = "Hold on"
	saved, _ = repo.SaveSettings(ctx, model.FeatureExitIntent, &s)
	if saved.Version != 1 {
		t.Errorf("content change should keep version 1, got %d", saved.Version)
	}

	s.Offer.Value = decimal.NewFromInt(20)
	saved, _ = repo.SaveSettings(ctx, model.FeatureExitIntent, &s)
	if saved.Version != 2 {
		t.Errorf("offer change should bump to 2, got %d", saved.Version)
	}

	got, err := repo.GetSettings(ctx, model.FeatureExitIntent)
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if got.Version != 2 || !got.Enabled || got.Content.Headline != "Hold on" {
		t.Errorf("unexpected settings: %+v", got)
	}
}
