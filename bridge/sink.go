package bridge

import (
	"errors"
	"sync/atomic"

	"github.com/arloliu/radbridge/bus"
	"github.com/arloliu/radbridge/logger"
)

// Metrics counts bus publications made by the bridge.
type Metrics struct {
	Published     atomic.Uint64
	PublishErrors atomic.Uint64
}

// sink publishes on a bus without ever failing the caller. Delivery is best
// effort; failures are logged and counted.
type sink struct {
	pub     bus.Publisher
	logger  logger.Logger
	metrics *Metrics
}

func (s *sink) publishJSON(topic string, v any, retained bool) bool {
	payload, err := bus.EncodeJSON(v)
	if err != nil {
		s.metrics.PublishErrors.Add(1)
		s.logger.Error("failed to encode payload", "topic", topic, "error", err)

		return false
	}

	return s.publishRaw(topic, payload, retained)
}

func (s *sink) publishRaw(topic string, payload []byte, retained bool) bool {
	if err := s.pub.Publish(topic, payload, retained); err != nil {
		s.metrics.PublishErrors.Add(1)
		// the bus client already logs connection loss
		if errors.Is(err, bus.ErrNotConnected) {
			s.logger.Debug("publish skipped", "topic", topic, "error", err)
		} else {
			s.logger.Warn("publish failed", "topic", topic, "error", err)
		}

		return false
	}
	s.metrics.Published.Add(1)

	return true
}
