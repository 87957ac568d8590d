// Package watchdog decides whether the realtime telemetry stream has gone silent.
package watchdog

import (
	"time"

	"github.com/arloliu/radbridge/device"
)

// Verdict is the watchdog's assessment of the telemetry stream.
type Verdict uint8

const (
	// Fresh means no reading yet, still inside the first-data grace period.
	Fresh Verdict = iota
	// Waiting means no reading yet and the grace period has elapsed.
	Waiting
	// OK means the last reading is younger than the threshold.
	OK
	// Stale means the last reading is at least threshold old.
	Stale
)

func (v Verdict) String() string {
	switch v {
	case Fresh:
		return "fresh"
	case Waiting:
		return "waiting"
	case OK:
		return "ok"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Watchdog evaluates time since the last realtime reading.
type Watchdog struct {
	// Threshold is the maximum allowed silence.
	Threshold time.Duration
	// FirstDataTimeout is the grace period after StartedAt before the first reading.
	FirstDataTimeout time.Duration
	// StartedAt anchors the grace period.
	StartedAt time.Time
}

// Evaluate returns the verdict for lastSeen at now. A zero lastSeen means no
// reading has been seen yet.
func (w Watchdog) Evaluate(lastSeen, now time.Time) Verdict {
	if lastSeen.IsZero() {
		if now.Before(w.StartedAt.Add(w.FirstDataTimeout)) {
			return Fresh
		}

		return Waiting
	}

	if now.Sub(lastSeen) < w.Threshold {
		return OK
	}

	return Stale
}

// ShouldRecover reports whether v requires active recovery in mode.
// USB staleness is reported but never recovered in-process.
func ShouldRecover(mode device.Mode, v Verdict) bool {
	return mode == device.ModeBLE && v == Stale
}

// GraceElapsed reports whether the first-data grace period is over at now.
func (w Watchdog) GraceElapsed(now time.Time) bool {
	return !now.Before(w.StartedAt.Add(w.FirstDataTimeout))
}
