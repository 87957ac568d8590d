// Package bus publishes bridge messages on MQTT or NATS.
//
// Topics are laid out under <topic_prefix>/<device_id>. The NATS client maps
// the slash-separated topics onto dot-separated subjects.
package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Availability payloads.
const (
	Online  = "online"
	Offline = "offline"
)

var (
	// ErrNotConnected indicates a publish while the client is disconnected.
	ErrNotConnected = errors.New("bus: not connected")

	// ErrPublishTimeout indicates a publish that was not handed to the network in time.
	ErrPublishTimeout = errors.New("bus: publish timeout")
)

// Publisher is a message-bus client. Reconnection is the client's own job.
type Publisher interface {
	// Publish sends payload to topic. retained is ignored by buses without retention.
	Publish(topic string, payload []byte, retained bool) error
	// Connected reports whether the client currently has a live connection.
	Connected() bool
	// Close disconnects the client.
	Close(ctx context.Context) error
}

// Message is a single publication.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Topics is the topic layout of one device.
type Topics struct {
	Base         string
	State        string
	Availability string
	Status       string
	Heartbeat    string
	RawFields    string
	Spectrum     string
}

// NewTopics builds the topic layout under prefix/deviceID.
func NewTopics(prefix, deviceID string) Topics {
	base := strings.TrimSuffix(prefix, "/") + "/" + deviceID

	return Topics{
		Base:         base,
		State:        base + "/state",
		Availability: base + "/availability",
		Status:       base + "/status",
		Heartbeat:    base + "/heartbeat",
		RawFields:    base + "/raw_fields",
		Spectrum:     base + "/spectrum",
	}
}

// EncodeJSON marshals v compactly without HTML escaping, so unit symbols such
// as "µSv/h" and "°C" stay readable on the wire.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
