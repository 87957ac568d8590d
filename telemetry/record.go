// Package telemetry defines the records produced by a Radiacode device session,
// the fused per-tick Snapshot published on the bus, and the rare-field cache
// that carries infrequent readings across ticks.
package telemetry

import (
	"time"

	"github.com/arloliu/radbridge/internal/util"
)

// Kind tags a Record with its category.
type Kind uint8

const (
	// KindOther marks records the bridge only counts.
	KindOther Kind = iota
	// KindRealtime marks high-frequency readings: dose rate, count rate, flags.
	KindRealtime
	// KindRare marks low-frequency readings: temperature, battery, cumulative dose.
	KindRare
	// KindSpectrum marks a spectrum snapshot.
	KindSpectrum
)

func (k Kind) String() string {
	switch k {
	case KindRealtime:
		return "realtime"
	case KindRare:
		return "rare"
	case KindSpectrum:
		return "spectrum"
	default:
		return "other"
	}
}

// ParseKind maps a wire type name onto a Kind. Unknown names map to KindOther.
func ParseKind(s string) Kind {
	switch s {
	case "realtime":
		return KindRealtime
	case "rare":
		return KindRare
	case "spectrum":
		return KindSpectrum
	default:
		return KindOther
	}
}

// RealtimeData is a high-frequency device reading. Nil fields were not reported.
type RealtimeData struct {
	Timestamp     time.Time `json:"-"`
	CountRate     *float64  `json:"count_rate,omitempty"`
	CountRateErr  *float64  `json:"count_rate_err,omitempty"`
	DoseRate      *float64  `json:"dose_rate,omitempty"`
	DoseRateErr   *float64  `json:"dose_rate_err,omitempty"`
	Flags         *int64    `json:"flags,omitempty"`
	RealTimeFlags *int64    `json:"real_time_flags,omitempty"`
}

// RareData is a low-frequency device reading. Nil fields were not reported.
type RareData struct {
	Timestamp time.Time `json:"-"`
	// Duration is the accumulated spectrum duration in seconds.
	Duration    *int64   `json:"duration,omitempty"`
	Dose        *float64 `json:"dose,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	ChargeLevel *float64 `json:"charge_level,omitempty"`
	Flags       *int64   `json:"flags,omitempty"`
}

// Spectrum is an energy spectrum snapshot with its calibration coefficients.
type Spectrum struct {
	Duration time.Duration
	A0       float64
	A1       float64
	A2       float64
	Counts   []int
}

// Clone returns a deep copy of s.
func (s *Spectrum) Clone() *Spectrum {
	if s == nil {
		return nil
	}
	c := *s
	c.Counts = util.CloneSlice(s.Counts, 0)

	return &c
}

// Record is one buffered item from a device session.
//
// Exactly one of Realtime, Rare or Spectrum is set, matching Kind; records of
// KindOther carry only their Type.
type Record struct {
	Kind Kind
	// Type is the driver's name for the record, used in histograms.
	Type     string
	Realtime *RealtimeData
	Rare     *RareData
	Spectrum *Spectrum
}
