package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/salesboost/exitintent/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "exit_intent_eligibility_checks_total{eligible=\"true\"} %d\n", snap.EligibilityChecksEligible)
	writeMetric(w, "exit_intent_eligibility_checks_total{eligible=\"false\"} %d\n", snap.EligibilityChecksIneligible)
	writeMetric(w, "exit_intent_popups_shown_total %d\n", snap.PopupsShown)

	writeMetric(w, "exit_intent_coupons_issued_total{result=\"created\"} %d\n", snap.CouponsCreated)
	writeMetric(w, "exit_intent_coupons_issued_total{result=\"reused\"} %d\n", snap.CouponsReused)
	writeMetric(w, "exit_intent_coupon_issue_failures_total %d\n", snap.CouponIssueFailures)
	writeMetric(w, "exit_intent_coupon_issue_duration_seconds_count %d\n", snap.CouponIssueDurationCount)
	writeMetric(w, "exit_intent_coupon_issue_duration_seconds_sum %.6f\n", float64(snap.CouponIssueDurationTotalNs)/1e9)
	writeMetric(w, "exit_intent_rate_limited_total %d\n", snap.RateLimited)

	writeMetric(w, "exit_intent_conversions_total %d\n", snap.Conversions)
	writeMetric(w, "exit_intent_states_migrated_total %d\n", snap.StatesMigrated)

	writeMetric(w, "exit_intent_events_published_total{status=\"success\"} %d\n", snap.EventsPublished)
	writeMetric(w, "exit_intent_events_published_total{status=\"failed\"} %d\n", snap.EventsPublishFailed)
	writeMetric(w, "exit_intent_events_processed_total{status=\"success\"} %d\n", snap.EventsProcessed)
	writeMetric(w, "exit_intent_events_processed_total{status=\"failed\"} %d\n", snap.EventsProcessFailed)
	writeMetric(w, "exit_intent_events_processed_total{status=\"dead_lettered\"} %d\n", snap.EventsDeadLettered)
	writeMetric(w, "exit_intent_event_queue_depth %d\n", snap.EventQueueDepth)
	writeMetric(w, "exit_intent_event_lag_seconds_count %d\n", snap.EventLagCount)
	writeMetric(w, "exit_intent_event_lag_seconds_sum %.6f\n", float64(snap.EventLagTotalNs)/1e9)
}

func writeMetric(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
