package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	EligibilityChecksEligible   uint64
	EligibilityChecksIneligible uint64
	PopupsShown                 uint64
	CouponsCreated              uint64
	CouponsReused               uint64
	CouponIssueFailures         uint64
	CouponIssueDurationCount    uint64
	CouponIssueDurationTotalNs  int64
	RateLimited                 uint64

	Conversions    uint64
	StatesMigrated uint64

	EventsPublished     uint64
	EventsPublishFailed uint64
	EventsProcessed     uint64
	EventsProcessFailed uint64
	EventsDeadLettered  uint64
	EventQueueDepth     int64
	EventLagCount       uint64
	EventLagTotalNs     int64
}

// InMemoryRecorder stores metrics in memory.
type InMemoryRecorder struct {
	eligible, ineligible     atomic.Uint64
	shown                    atomic.Uint64
	created, reused          atomic.Uint64
	issueFailed              atomic.Uint64
	issueCount               atomic.Uint64
	issueTotalNs             atomic.Int64
	rateLimited              atomic.Uint64
	conversions              atomic.Uint64
	migrated                 atomic.Uint64
	published, publishFailed atomic.Uint64
	processed, processFailed atomic.Uint64
	deadLettered             atomic.Uint64
	queueDepth               atomic.Int64
	lagCount                 atomic.Uint64
	lagTotalNs               atomic.Int64
}

var _ Recorder = (*InMemoryRecorder)(nil)

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		EligibilityChecksEligible:   m.eligible.Load(),
		EligibilityChecksIneligible: m.ineligible.Load(),
		PopupsShown:                 m.shown.Load(),
		CouponsCreated:              m.created.Load(),
		CouponsReused:               m.reused.Load(),
		CouponIssueFailures:         m.issueFailed.Load(),
		CouponIssueDurationCount:    m.issueCount.Load(),
		CouponIssueDurationTotalNs:  m.issueTotalNs.Load(),
		RateLimited:                 m.rateLimited.Load(),
		Conversions:                 m.conversions.Load(),
		StatesMigrated:              m.migrated.Load(),
		EventsPublished:             m.published.Load(),
		EventsPublishFailed:         m.publishFailed.Load(),
		EventsProcessed:             m.processed.Load(),
		EventsProcessFailed:         m.processFailed.Load(),
		EventsDeadLettered:          m.deadLettered.Load(),
		EventQueueDepth:             m.queueDepth.Load(),
		EventLagCount:               m.lagCount.Load(),
		EventLagTotalNs:             m.lagTotalNs.Load(),
	}
}

func (m *InMemoryRecorder) IncEligibilityCheck(eligible bool) {
	if eligible {
		m.eligible.Add(1)
		return
	}
	m.ineligible.Add(1)
}

func (m *InMemoryRecorder) IncPopupShown() { m.shown.Add(1) }

func (m *InMemoryRecorder) IncCouponIssued(reused bool) {
	if reused {
		m.reused.Add(1)
		return
	}
	m.created.Add(1)
}

func (m *InMemoryRecorder) IncCouponIssueFailed() { m.issueFailed.Add(1) }

func (m *InMemoryRecorder) ObserveCouponIssueDuration(d time.Duration) {
	m.issueCount.Add(1)
	m.issueTotalNs.Add(d.Nanoseconds())
}

func (m *InMemoryRecorder) IncRateLimited()   { m.rateLimited.Add(1) }
func (m *InMemoryRecorder) IncConversion()    { m.conversions.Add(1) }
func (m *InMemoryRecorder) IncStateMigrated() { m.migrated.Add(1) }

func (m *InMemoryRecorder) IncEventPublished(status string) {
	if status == StatusSuccess {
		m.published.Add(1)
		return
	}
	m.publishFailed.Add(1)
}

func (m *InMemoryRecorder) IncEventProcessed(status string) {
	switch status {
	case StatusSuccess:
		m.processed.Add(1)
	case StatusDeadLettered:
		m.deadLettered.Add(1)
	default:
		m.processFailed.Add(1)
	}
}

func (m *InMemoryRecorder) SetEventQueueDepth(depth int64) { m.queueDepth.Store(depth) }

func (m *InMemoryRecorder) ObserveEventLag(lag time.Duration) {
	m.lagCount.Add(1)
	m.lagTotalNs.Add(lag.Nanoseconds())
}
