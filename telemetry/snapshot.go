package telemetry

import (
	"time"

	"github.com/arloliu/radbridge/internal/util"
)

// Snapshot is the fused per-tick view of the device.
//
// Realtime fields are non-nil only when a fresh realtime reading arrived this tick.
type Snapshot struct {
	Timestamp time.Time

	// DoseRate is scaled to the configured rate unit; RawDoseRate is as reported.
	DoseRate        *float64
	RawDoseRate     *float64
	CountsPerSecond *float64
	CountRateError  *float64
	DoseRateError   *float64
	Flags           *int64
	RealtimeFlags   *int64

	Cache CachedFields
}

// NewSnapshot fuses a realtime reading with the cached rare fields.
// rt may be nil, producing a snapshot with cached values only.
func NewSnapshot(now time.Time, rt *RealtimeData, cache CachedFields, units Units) Snapshot {
	s := Snapshot{Timestamp: now, Cache: cache}
	if rt == nil {
		return s
	}

	s.RawDoseRate = util.ClonePtr(rt.DoseRate)
	s.DoseRate = util.ScalePtr(rt.DoseRate, units.Factor())
	s.CountsPerSecond = util.ClonePtr(rt.CountRate)
	s.CountRateError = util.ClonePtr(rt.CountRateErr)
	s.DoseRateError = util.ClonePtr(rt.DoseRateErr)
	s.Flags = util.ClonePtr(rt.Flags)
	s.RealtimeFlags = util.ClonePtr(rt.RealTimeFlags)

	return s
}

// HasRealtime reports whether the snapshot carries a fresh realtime reading.
func (s Snapshot) HasRealtime() bool {
	return s.DoseRate != nil || s.CountsPerSecond != nil || s.CountRateError != nil ||
		s.DoseRateError != nil || s.Flags != nil || s.RealtimeFlags != nil
}
