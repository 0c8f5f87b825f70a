package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncEligibilityCheck(bool)                 {}
func (n *NoopRecorder) IncPopupShown()                           {}
func (n *NoopRecorder) IncCouponIssued(bool)                     {}
func (n *NoopRecorder) IncCouponIssueFailed()                    {}
func (n *NoopRecorder) ObserveCouponIssueDuration(time.Duration) {}
func (n *NoopRecorder) IncRateLimited()                          {}
func (n *NoopRecorder) IncConversion()                           {}
func (n *NoopRecorder) IncStateMigrated()                        {}
func (n *NoopRecorder) IncEventPublished(string)                 {}
func (n *NoopRecorder) IncEventProcessed(string)                 {}
func (n *NoopRecorder) SetEventQueueDepth(int64)                 {}
func (n *NoopRecorder) ObserveEventLag(time.Duration)            {}
