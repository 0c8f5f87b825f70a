// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Event processing outcomes.
const (
	StatusSuccess      = "success"
	StatusFailed       = "failed"
	StatusDeadLettered = "dead_lettered"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Storefront
	IncEligibilityCheck(eligible bool)
	IncPopupShown()
	IncCouponIssued(reused bool)
	IncCouponIssueFailed()
	ObserveCouponIssueDuration(duration time.Duration)
	IncRateLimited()

	// Conversion tracking
	IncConversion()
	IncStateMigrated()

	// Event pipeline
	IncEventPublished(status string) // "success" or "failed"
	IncEventProcessed(status string) // "success", "failed" or "dead_lettered"
	SetEventQueueDepth(depth int64)
	ObserveEventLag(lag time.Duration)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
