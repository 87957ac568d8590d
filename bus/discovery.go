package bus

import (
	"github.com/arloliu/radbridge/telemetry"
)

// DiscoveryConfig describes the Home Assistant discovery messages of a device.
type DiscoveryConfig struct {
	// Prefix is the discovery topic prefix, e.g. "homeassistant".
	Prefix   string
	DeviceID string
	Topics   Topics
	Units    telemetry.Units
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
}

type discoveryPayload struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	ValueTemplate     string          `json:"value_template"`
	AvailabilityTopic string          `json:"availability_topic"`
	Device            discoveryDevice `json:"device"`
	Unit              string          `json:"unit_of_measurement,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
}

type sensor struct {
	objectID    string
	name        string
	unit        string
	deviceClass string
}

func sensors(units telemetry.Units) []sensor {
	return []sensor{
		{objectID: "dose_rate", name: "Radiacode Dose Rate", unit: units.RateUnit()},
		{objectID: "cps", name: "Radiacode CPS", unit: "cps"},
		{objectID: "count_rate_err", name: "Radiacode CPS Error", unit: "%"},
		{objectID: "dose_rate_err", name: "Radiacode Dose Rate Error", unit: "%"},
		{objectID: "flags", name: "Radiacode Flags"},
		{objectID: "real_time_flags", name: "Radiacode Real-Time Flags"},
		{objectID: "temperature_c", name: "Radiacode Temperature", unit: "°C", deviceClass: "temperature"},
		{objectID: "battery_pct", name: "Radiacode Battery", unit: "%", deviceClass: "battery"},
		{objectID: "spectrum_duration_s", name: "Radiacode Spectrum Duration", unit: "s", deviceClass: "duration"},
		{objectID: "dose_total", name: "Radiacode Total Dose", unit: units.DoseUnit()},
		{objectID: "last_seen_age_s", name: "Radiacode Last Seen Age", unit: "s", deviceClass: "duration"},
		{objectID: "device_status", name: "Radiacode Device Status"},
		{objectID: "mqtt_connected", name: "Radiacode MQTT Connected"},
	}
}

// DiscoveryMessages returns the retained sensor config messages.
func DiscoveryMessages(cfg DiscoveryConfig) ([]Message, error) {
	dev := discoveryDevice{
		Identifiers:  []string{cfg.DeviceID},
		Name:         "Radiacode",
		Manufacturer: "Radiacode",
	}

	list := sensors(cfg.Units)
	msgs := make([]Message, 0, len(list))
	for _, s := range list {
		payload, err := EncodeJSON(discoveryPayload{
			Name:              s.name,
			UniqueID:          cfg.DeviceID + "_" + s.objectID,
			StateTopic:        cfg.Topics.State,
			ValueTemplate:     "{{ value_json." + s.objectID + " }}",
			AvailabilityTopic: cfg.Topics.Availability,
			Device:            dev,
			Unit:              s.unit,
			DeviceClass:       s.deviceClass,
		})
		if err != nil {
			return nil, err
		}

		msgs = append(msgs, Message{
			Topic:    cfg.Prefix + "/sensor/" + cfg.DeviceID + "/" + s.objectID + "/config",
			Payload:  payload,
			Retained: true,
		})
	}

	return msgs, nil
}
