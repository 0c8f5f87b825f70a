package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/salesboost/exitintent/internal/metrics"
)

func TestMetricsHandler(t *testing.T) {
	rec := metrics.NewInMemory()
	rec.IncEligibilityCheck(true)
	rec.IncEligibilityCheck(false)
	rec.IncEligibilityCheck(false)
	rec.IncPopupShown()
	rec.IncCouponIssued(false)
	rec.IncCouponIssued(true)
	rec.ObserveCouponIssueDuration(250 * time.Millisecond)
	rec.IncEventProcessed(metrics.StatusDeadLettered)

	h := NewMetricsHandler(rec)
	w := httptest.NewRecorder()
	h.Metrics(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %s", ct)
	}

	body := w.Body.String()
	for _, want := range []string{
		`exit_intent_eligibility_checks_total{eligible="true"} 1`,
		`exit_intent_eligibility_checks_total{eligible="false"} 2`,
		`exit_intent_popups_shown_total 1`,
		`exit_intent_coupons_issued_total{result="created"} 1`,
		`exit_intent_coupons_issued_total{result="reused"} 1`,
		`exit_intent_coupon_issue_duration_seconds_sum 0.250000`,
		`exit_intent_events_processed_total{status="dead_lettered"} 1`,
	} {
		if !strings.Contains(body, want+"\n") {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetricsHandler_NoSnapshotter(t *testing.T) {
	h := NewMetricsHandler(nil)
	w := httptest.NewRecorder()
	h.Metrics(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
