package telemetry

import (
	"time"

	"github.com/arloliu/radbridge/internal/util"
)

// CachedFields are the rare readings carried forward between ticks.
type CachedFields struct {
	Temperature *float64
	BatteryPct  *float64
	// SpectrumDuration is in seconds.
	SpectrumDuration *int64
	// DoseTotal is already scaled to the configured dose unit.
	DoseTotal  *float64
	RareSeenAt time.Time
}

// RareAge returns the time since the last rare reading, or nil if none was seen.
func (c CachedFields) RareAge(now time.Time) *float64 {
	if c.RareSeenAt.IsZero() {
		return nil
	}

	return util.Ptr(max(0, now.Sub(c.RareSeenAt).Seconds()))
}

// Cache holds the last-write-wins rare fields.
//
// Fields are only replaced by a newer rare reading that reports them; a rare
// reading that omits a field leaves its cached value untouched, and nothing
// clears the cache. Cache is owned by the control loop and is not safe for
// concurrent use.
type Cache struct {
	fields CachedFields
}

// Apply merges rare into the cache. A nil rare is a no-op.
func (c *Cache) Apply(rare *RareData, now time.Time, doseFactor float64) {
	if rare == nil {
		return
	}

	if rare.Temperature != nil {
		c.fields.Temperature = util.ClonePtr(rare.Temperature)
	}
	if rare.ChargeLevel != nil {
		c.fields.BatteryPct = util.ClonePtr(rare.ChargeLevel)
	}
	if rare.Duration != nil {
		c.fields.SpectrumDuration = util.ClonePtr(rare.Duration)
	}
	if rare.Dose != nil {
		c.fields.DoseTotal = util.ScalePtr(rare.Dose, doseFactor)
	}
	c.fields.RareSeenAt = now
}

// Fields returns a copy of the cached values.
func (c *Cache) Fields() CachedFields {
	return CachedFields{
		Temperature:      util.ClonePtr(c.fields.Temperature),
		BatteryPct:       util.ClonePtr(c.fields.BatteryPct),
		SpectrumDuration: util.ClonePtr(c.fields.SpectrumDuration),
		DoseTotal:        util.ClonePtr(c.fields.DoseTotal),
		RareSeenAt:       c.fields.RareSeenAt,
	}
}
