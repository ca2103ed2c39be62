package ride

import (
	"sync"
	"time"
)

// StalenessMonitor wraps a TelemetrySource and tracks the timestamp of the
// last successfully produced record. Once a record has been seen, the feed
// is reported stale when no fresh record arrives within the threshold.
type StalenessMonitor struct {
	mu        sync.Mutex
	src       TelemetrySource
	threshold time.Duration

	lastSuccess time.Time
	hasSuccess  bool

	now func() time.Time
}

// NewStalenessMonitor wraps src with staleness tracking
func NewStalenessMonitor(src TelemetrySource, threshold time.Duration) *StalenessMonitor {
	return &StalenessMonitor{
		src:       src,
		threshold: threshold,
		now:       time.Now,
	}
}

// Poll delegates to the wrapped source. A record counts as fresh only when
// its source timestamp advances; retained records passed through on
// transient failures do not reset the staleness clock.
func (m *StalenessMonitor) Poll() (TelemetryRecord, error) {
	rec, err := m.src.Poll()
	if err != nil {
		return rec, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSuccess || rec.SourceTimestamp.After(m.lastSuccess) {
		m.lastSuccess = rec.SourceTimestamp
		m.hasSuccess = true
	}
	return rec, nil
}

// Stale reports whether the last successful read is older than the
// threshold. A feed that has never produced a record is not stale, just
// absent.
func (m *StalenessMonitor) Stale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSuccess {
		return false
	}
	return m.now().Sub(m.lastSuccess) > m.threshold
}

// LastSuccess returns the timestamp of the last fresh record, and whether
// one has been seen at all
func (m *StalenessMonitor) LastSuccess() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccess, m.hasSuccess
}
