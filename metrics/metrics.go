// Package metrics exposes the bridge counters to Prometheus and serves a
// liveness probe.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/radbridge/bridge"
	"github.com/arloliu/radbridge/cadence"
	"github.com/arloliu/radbridge/internal/clock"
	"github.com/arloliu/radbridge/recovery"
)

const namespace = "radbridge"

// Sources are the live values read on every scrape. They are only read, from
// the HTTP server's goroutines.
type Sources struct {
	Recovery *recovery.Metrics
	Bridge   *bridge.Metrics
	StateMgr *recovery.StateMgr
	Cadence  *cadence.Manager
	Clock    clock.Clock
}

func (s Sources) now() clock.Clock {
	if s.Clock == nil {
		return clock.Real()
	}

	return s.Clock
}

// NewRegistry registers the radbridge collectors on a fresh registry.
func NewRegistry(src Sources) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range collectors(src) {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

func counter(name, help string, f func() float64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, f)
}

func gauge(name, help string, f func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, f)
}

func collectors(src Sources) []prometheus.Collector {
	var list []prometheus.Collector

	if m := src.Recovery; m != nil {
		list = append(list,
			counter("recovery_attempts_total", "Number of stale-session recovery attempts.",
				func() float64 { return float64(m.RecoveryAttempts.Load()) }),
			counter("connect_failures_total", "Number of failed device connect attempts, timeouts included.",
				func() float64 { return float64(m.ConnectFailures.Load()) }),
			counter("connect_timeouts_total", "Number of device connect attempts that hit the hard timeout.",
				func() float64 { return float64(m.ConnectTimeouts.Load()) }),
			counter("scan_misses_total", "Number of BLE scans that did not see the device.",
				func() float64 { return float64(m.ScanMisses.Load()) }),
			counter("reconnects_total", "Number of successful recoveries.",
				func() float64 { return float64(m.Reconnects.Load()) }),
			counter("read_errors_total", "Number of failed device reads.",
				func() float64 { return float64(m.ReadErrors.Load()) }),
			gauge("backoff_seconds", "Current reconnect backoff.",
				func() float64 { return m.Backoff().Seconds() }),
			gauge("last_seen_age_seconds", "Seconds since the last realtime reading, -1 before the first one.",
				func() float64 {
					seen := m.LastSeen()
					if seen.IsZero() {
						return -1
					}

					return max(0, src.now().Now().Sub(seen).Seconds())
				}),
		)
	}

	if m := src.Bridge; m != nil {
		list = append(list,
			counter("publish_errors_total", "Number of failed bus publications.",
				func() float64 { return float64(m.PublishErrors.Load()) }),
		)
	}

	if sm := src.StateMgr; sm != nil {
		list = append(list,
			gauge("connection_state", "Connection state: 0 disconnected, 1 scanning, 2 connecting, 3 connected, 4 recovering, 5 exhausted.",
				func() float64 { return float64(sm.State()) }),
		)
	}

	return list
}
