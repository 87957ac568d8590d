package recovery

import (
	"sync/atomic"
	"time"
)

// Metrics contains atomic counters of the recovery controller.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// RecoveryAttempts indicates the number of times the controller entered Recovering.
	RecoveryAttempts atomic.Uint64
	// ConnectFailures indicates the number of failed connect attempts, timeouts included.
	ConnectFailures atomic.Uint64
	// ConnectTimeouts indicates the number of connect attempts that hit the hard timeout.
	ConnectTimeouts atomic.Uint64
	// ScanMisses indicates the number of BLE preflight scans that did not see the target.
	ScanMisses atomic.Uint64
	// Reconnects indicates the number of successful recoveries.
	Reconnects atomic.Uint64
	// ReadErrors indicates the number of failed reads.
	ReadErrors atomic.Uint64

	backoffNanos  atomic.Int64
	lastSeenNanos atomic.Int64
}

// Backoff returns the current backoff interval.
func (m *Metrics) Backoff() time.Duration {
	return time.Duration(m.backoffNanos.Load())
}

// LastSeen returns the instant of the last realtime reading, zero if unset.
func (m *Metrics) LastSeen() time.Time {
	n := m.lastSeenNanos.Load()
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n)
}

func (m *Metrics) setBackoff(d time.Duration) {
	m.backoffNanos.Store(int64(d))
}

func (m *Metrics) setLastSeen(t time.Time) {
	if t.IsZero() {
		m.lastSeenNanos.Store(0)
		return
	}
	m.lastSeenNanos.Store(t.UnixNano())
}
