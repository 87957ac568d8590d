// Package cadence decides, per loop tick, which bus streams are due.
package cadence

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

// Stream names a published stream.
type Stream string

const (
	Heartbeat Stream = "heartbeat"
	State     Stream = "state"
	Status    Stream = "status"
	Spectrum  Stream = "spectrum"
)

const (
	// MinSpectrumInterval is the floor applied to the spectrum interval.
	MinSpectrumInterval = 5 * time.Second
	// FirstSpectrumDelay is the delay of the first spectrum after start.
	FirstSpectrumDelay = 3 * time.Second
	// DefaultStatusEvery is the default periodic status summary interval.
	DefaultStatusEvery = 30 * time.Second
	// DefaultSpectrumInterval is the default spectrum interval.
	DefaultSpectrumInterval = 120 * time.Second
)

// Option customizes a Manager.
type Option func(*Manager)

// WithStatusEvery sets the minimum interval between periodic status summaries.
func WithStatusEvery(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.statusEvery = d
		}
	}
}

// WithSpectrum enables spectrum publication every interval, floored at MinSpectrumInterval.
func WithSpectrum(enabled bool, interval time.Duration) Option {
	return func(m *Manager) {
		m.spectrumEnabled = enabled
		if interval > 0 {
			m.spectrumInterval = interval
		}
	}
}

// Manager tracks per-stream publication times.
//
// Due checks are called from the control loop only. LastPublished is safe to
// call from any goroutine.
type Manager struct {
	statusEvery      time.Duration
	statusLimiter    *rate.Limiter
	spectrumEnabled  bool
	spectrumInterval time.Duration
	nextSpectrumAt   time.Time

	published *xsync.MapOf[Stream, time.Time]
}

// NewManager creates a Manager whose schedule starts at start.
func NewManager(start time.Time, opts ...Option) *Manager {
	m := &Manager{
		statusEvery:      DefaultStatusEvery,
		spectrumInterval: DefaultSpectrumInterval,
		published:        xsync.NewMapOf[Stream, time.Time](),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.statusLimiter = rate.NewLimiter(rate.Every(m.statusEvery), 1)
	m.nextSpectrumAt = start.Add(FirstSpectrumDelay)

	return m
}

// HeartbeatDue is always true: heartbeats go out every tick.
func (m *Manager) HeartbeatDue(time.Time) bool { return true }

// StateDue is always true: state goes out every tick.
func (m *Manager) StateDue(time.Time) bool { return true }

// StatusDue reports whether a periodic status summary may be published at now,
// consuming the permit when it returns true. The first call is always due.
func (m *Manager) StatusDue(now time.Time) bool {
	return m.statusLimiter.AllowN(now, 1)
}

// SpectrumDue reports whether a spectrum read is due at now. When it returns
// true the next read is scheduled max(MinSpectrumInterval, interval) later,
// whether or not the read succeeds.
func (m *Manager) SpectrumDue(now time.Time) bool {
	if !m.spectrumEnabled || now.Before(m.nextSpectrumAt) {
		return false
	}
	m.nextSpectrumAt = now.Add(m.SpectrumInterval())

	return true
}

// SpectrumInterval returns the effective spectrum interval.
func (m *Manager) SpectrumInterval() time.Duration {
	return max(MinSpectrumInterval, m.spectrumInterval)
}

// MarkPublished records a publication of s at now.
func (m *Manager) MarkPublished(s Stream, now time.Time) {
	m.published.Store(s, now)
}

// LastPublished returns when s was last published.
func (m *Manager) LastPublished(s Stream) (time.Time, bool) {
	return m.published.Load(s)
}
