package bridge

import (
	"time"

	"github.com/arloliu/radbridge/device"
	"github.com/arloliu/radbridge/telemetry"
)

// Device status values reported in the state payload.
const (
	DeviceOK      = "ok"
	DeviceWaiting = "waiting"
	DeviceStale   = "stale"
	DeviceError   = "error"
)

// Status summaries published by the loop itself.
const (
	StatusStarted         = "started"
	StatusWaitingForData  = "waiting_for_realtime_data"
	StatusRealtimeTimeout = "realtime_data_timeout"
	StatusError           = "error"
	StatusOK              = "ok"
)

type heartbeatPayload struct {
	TS int64 `json:"ts"`
}

type rawReadings struct {
	DoseRate  *float64 `json:"dose_rate"`
	CountRate *float64 `json:"count_rate"`
}

// statePayload is the per-tick state published with a fresh realtime reading.
type statePayload struct {
	TS            int64       `json:"ts"`
	DeviceStatus  string      `json:"device_status"`
	LastSeenTS    *int64      `json:"last_seen_ts"`
	LastSeenAgeS  *float64    `json:"last_seen_age_s"`
	MQTTConnected bool        `json:"mqtt_connected"`
	DeviceMode    device.Mode `json:"device_mode"`

	DoseRate      *float64 `json:"dose_rate"`
	CPS           *float64 `json:"cps"`
	CountRateErr  *float64 `json:"count_rate_err"`
	DoseRateErr   *float64 `json:"dose_rate_err"`
	Flags         *int64   `json:"flags"`
	RealTimeFlags *int64   `json:"real_time_flags"`

	TemperatureC      *float64 `json:"temperature_c"`
	BatteryPct        *float64 `json:"battery_pct"`
	SpectrumDurationS *int64   `json:"spectrum_duration_s"`
	DoseTotal         *float64 `json:"dose_total"`
	DoseTotalUnit     string   `json:"dose_total_unit"`
	RareLastSeenAgeS  *float64 `json:"rare_last_seen_age_s"`

	Raw rawReadings `json:"raw"`
}

// waitingPayload is the state published when no realtime reading arrived.
type waitingPayload struct {
	TS            int64       `json:"ts"`
	DeviceStatus  string      `json:"device_status"`
	LastSeenTS    *int64      `json:"last_seen_ts"`
	LastSeenAgeS  *float64    `json:"last_seen_age_s"`
	MQTTConnected bool        `json:"mqtt_connected"`
	DeviceMode    device.Mode `json:"device_mode"`
	LastError     *string     `json:"last_error"`

	TemperatureC      *float64 `json:"temperature_c"`
	BatteryPct        *float64 `json:"battery_pct"`
	SpectrumDurationS *int64   `json:"spectrum_duration_s"`
	DoseTotal         *float64 `json:"dose_total"`
	RareLastSeenAgeS  *float64 `json:"rare_last_seen_age_s"`
}

type rawFieldsPayload struct {
	TS             int64                   `json:"ts"`
	BufTypes       map[string]int          `json:"buf_types"`
	RealtimeFields *telemetry.RealtimeData `json:"realtime_fields"`
	RareFields     *telemetry.RareData     `json:"rare_fields"`
}

type spectrumPayload struct {
	TS        int64   `json:"ts"`
	DurationS float64 `json:"duration_s"`
	A0        float64 `json:"a0"`
	A1        float64 `json:"a1"`
	A2        float64 `json:"a2"`
	Counts    []int   `json:"counts"`
}

func newStatePayload(snap telemetry.Snapshot, lastSeen time.Time, connected bool, mode device.Mode, units telemetry.Units) statePayload {
	ts := snap.Timestamp.Unix()
	seen := lastSeen.Unix()
	age := 0.0

	return statePayload{
		TS:            ts,
		DeviceStatus:  DeviceOK,
		LastSeenTS:    &seen,
		LastSeenAgeS:  &age,
		MQTTConnected: connected,
		DeviceMode:    mode,

		DoseRate:      snap.DoseRate,
		CPS:           snap.CountsPerSecond,
		CountRateErr:  snap.CountRateError,
		DoseRateErr:   snap.DoseRateError,
		Flags:         snap.Flags,
		RealTimeFlags: snap.RealtimeFlags,

		TemperatureC:      snap.Cache.Temperature,
		BatteryPct:        snap.Cache.BatteryPct,
		SpectrumDurationS: snap.Cache.SpectrumDuration,
		DoseTotal:         snap.Cache.DoseTotal,
		DoseTotalUnit:     units.DoseUnit(),
		RareLastSeenAgeS:  snap.Cache.RareAge(snap.Timestamp),

		Raw: rawReadings{DoseRate: snap.RawDoseRate, CountRate: snap.CountsPerSecond},
	}
}

func newWaitingPayload(snap telemetry.Snapshot, status string, lastSeen time.Time, connected bool, mode device.Mode, lastErr string) waitingPayload {
	p := waitingPayload{
		TS:            snap.Timestamp.Unix(),
		DeviceStatus:  status,
		MQTTConnected: connected,
		DeviceMode:    mode,

		TemperatureC:      snap.Cache.Temperature,
		BatteryPct:        snap.Cache.BatteryPct,
		SpectrumDurationS: snap.Cache.SpectrumDuration,
		DoseTotal:         snap.Cache.DoseTotal,
		RareLastSeenAgeS:  snap.Cache.RareAge(snap.Timestamp),
	}
	if !lastSeen.IsZero() {
		seen := lastSeen.Unix()
		age := max(0, snap.Timestamp.Sub(lastSeen).Seconds())
		p.LastSeenTS = &seen
		p.LastSeenAgeS = &age
	}
	if lastErr != "" {
		p.LastError = &lastErr
	}

	return p
}

func newSpectrumPayload(now time.Time, spec *telemetry.Spectrum) spectrumPayload {
	return spectrumPayload{
		TS:        now.Unix(),
		DurationS: spec.Duration.Seconds(),
		A0:        spec.A0,
		A1:        spec.A1,
		A2:        spec.A2,
		Counts:    spec.Counts,
	}
}
