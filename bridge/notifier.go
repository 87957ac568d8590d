package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/radbridge/internal/clock"
	"github.com/arloliu/radbridge/recovery"
)

// StatusPublisher publishes lifecycle events as JSON on the status topic.
//
// It also remembers the last reported error until a successful connect or
// a fresh reading clears it, so the state payload can carry it.
type StatusPublisher struct {
	sink  *sink
	topic string
	clock clock.Clock

	mu        sync.Mutex
	lastError string
}

var _ recovery.Notifier = (*StatusPublisher)(nil)

// Notify publishes {"ts", "status", key: value...}. Errors and durations are
// rendered as strings and seconds.
func (s *StatusPublisher) Notify(status string, keysAndValues ...any) {
	payload := map[string]any{
		"ts":     s.clock.Now().Unix(),
		"status": status,
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		payload[key] = statusValue(keysAndValues[i+1])
	}

	s.track(status, payload)
	s.sink.publishJSON(s.topic, payload, false)
}

func (s *StatusPublisher) track(status string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch status {
	case recovery.StatusDeviceConnected, recovery.StatusBLERecovered:
		s.lastError = ""
	default:
		if msg, ok := payload["error"].(string); ok && msg != "" {
			s.lastError = msg
		}
	}
}

// PublishOK publishes the literal "ok" status.
func (s *StatusPublisher) PublishOK() {
	s.sink.publishRaw(s.topic, []byte(StatusOK), false)
}

// LastError returns the last reported error, empty if none is outstanding.
func (s *StatusPublisher) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastError
}

// ClearError forgets the outstanding error.
func (s *StatusPublisher) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastError = ""
}

func statusValue(v any) any {
	switch val := v.(type) {
	case error:
		return val.Error()
	case time.Duration:
		return val.Seconds()
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}
