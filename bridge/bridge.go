package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/arloliu/radbridge/bus"
	"github.com/arloliu/radbridge/cadence"
	"github.com/arloliu/radbridge/device"
	"github.com/arloliu/radbridge/internal/clock"
	"github.com/arloliu/radbridge/logger"
	"github.com/arloliu/radbridge/recovery"
	"github.com/arloliu/radbridge/telemetry"
	"github.com/arloliu/radbridge/watchdog"
)

// ReadErrorDelay is the extra pause after a failed read.
const ReadErrorDelay = 2 * time.Second

// Config holds the parameters of a Bridge.
type Config struct {
	Topics bus.Topics
	Units  telemetry.Units
	// Discovery is published at start when DiscoveryEnabled is set.
	Discovery        bus.DiscoveryConfig
	DiscoveryEnabled bool
	// Debug publishes the retained raw_fields diagnostics every reading.
	Debug          bool
	SpectrumRetain bool
	PollInterval   time.Duration
	Clock          clock.Clock
	Logger         logger.Logger
}

// Bridge is the orchestrator loop. Run, Tick and Shutdown must be called from
// a single goroutine.
type Bridge struct {
	cfg        Config
	controller *recovery.Controller
	cadence    *cadence.Manager
	status     *StatusPublisher
	sink       *sink
	pub        bus.Publisher
	clock      clock.Clock
	logger     logger.Logger
	metrics    *Metrics

	cache         telemetry.Cache
	loggedWaiting bool
}

// New creates a Bridge publishing on pub.
func New(cfg Config, pub bus.Publisher, cad *cadence.Manager) *Bridge {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	b := &Bridge{
		cfg:     cfg,
		cadence: cad,
		pub:     pub,
		clock:   cfg.Clock,
		logger:  cfg.Logger.With("component", "bridge"),
		metrics: &Metrics{},
	}
	b.sink = &sink{pub: pub, logger: b.logger, metrics: b.metrics}
	b.status = &StatusPublisher{sink: b.sink, topic: cfg.Topics.Status, clock: cfg.Clock}

	return b
}

// Notifier returns the status publisher, to be handed to the recovery controller.
func (b *Bridge) Notifier() *StatusPublisher { return b.status }

// Metrics returns the publication counters.
func (b *Bridge) Metrics() *Metrics { return b.metrics }

// Attach sets the controller driven by the loop. It must be called before Run.
func (b *Bridge) Attach(c *recovery.Controller) { b.controller = c }

// Run announces the bridge, acquires the device and loops until ctx is done
// or the recovery budget is exhausted.
func (b *Bridge) Run(ctx context.Context) error {
	if b.controller == nil {
		return errors.New("bridge: no controller attached")
	}

	mode := b.controller.Mode()
	b.sink.publishRaw(b.cfg.Topics.Availability, []byte(bus.Online), true)
	b.status.Notify(StatusStarted, "mode_guess", mode)
	b.logger.Info("bridge started", "mode", mode, "base", b.cfg.Topics.Base)

	if b.cfg.DiscoveryEnabled {
		b.publishDiscovery()
	}

	if err := b.controller.Start(ctx); err != nil {
		return err
	}

	b.logger.Info("publishing topics", "base", b.cfg.Topics.Base, "device_mode", mode)

	for {
		sleep, err := b.Tick(ctx)
		if err != nil {
			return err
		}
		if sleep <= 0 {
			continue
		}
		if err := b.clock.Sleep(ctx, sleep); err != nil {
			return err
		}
	}
}

func (b *Bridge) publishDiscovery() {
	msgs, err := bus.DiscoveryMessages(b.cfg.Discovery)
	if err != nil {
		b.logger.Error("failed to build discovery messages", "error", err)
		return
	}
	for _, msg := range msgs {
		b.sink.publishRaw(msg.Topic, msg.Payload, msg.Retained)
	}
	b.logger.Info("published discovery", "count", len(msgs), "prefix", b.cfg.Discovery.Prefix)
}

// Tick runs one loop iteration and returns how long to sleep before the next.
// A non-nil error is terminal: recovery.ErrExhausted or the context error.
func (b *Bridge) Tick(ctx context.Context) (time.Duration, error) {
	now := b.clock.Now()
	if b.cadence.HeartbeatDue(now) && b.sink.publishJSON(b.cfg.Topics.Heartbeat, heartbeatPayload{TS: now.Unix()}, false) {
		b.cadence.MarkPublished(cadence.Heartbeat, now)
	}

	consumed, err := b.controller.Supervise(ctx)
	if err != nil {
		return 0, err
	}
	if consumed {
		b.loggedWaiting = false
		return 0, nil
	}

	if b.cadence.SpectrumDue(now) {
		b.publishSpectrum(ctx)
	}

	latest, err := b.controller.ReadLatest()
	if err != nil {
		b.logger.Error("failed to read device", "error", err)
		b.status.Notify(StatusError, "error", err)

		return ReadErrorDelay + b.cfg.PollInterval, nil
	}

	if latest.Realtime == nil {
		b.handleNoRealtime(now, latest)
		return b.cfg.PollInterval, nil
	}

	b.handleRealtime(now, latest)

	return b.cfg.PollInterval, nil
}

func (b *Bridge) publishSpectrum(ctx context.Context) {
	spec, err := b.controller.ReadSpectrum(ctx)
	if err != nil {
		b.logger.Debug("spectrum read failed", "error", err)
		return
	}
	if spec == nil {
		return
	}

	now := b.clock.Now()
	if b.sink.publishJSON(b.cfg.Topics.Spectrum, newSpectrumPayload(now, spec), b.cfg.SpectrumRetain) {
		b.cadence.MarkPublished(cadence.Spectrum, now)
	}
}

func (b *Bridge) handleRealtime(now time.Time, latest device.Latest) {
	b.controller.MarkSeen(now)
	if b.loggedWaiting {
		b.logger.Info("realtime stream resumed")
		b.loggedWaiting = false
	}
	b.status.ClearError()

	b.cache.Apply(latest.Rare, now, b.cfg.Units.Factor())
	snap := telemetry.NewSnapshot(now, latest.Realtime, b.cache.Fields(), b.cfg.Units)

	if b.cadence.StateDue(now) {
		state := newStatePayload(snap, now, b.pub.Connected(), b.controller.Mode(), b.cfg.Units)
		if b.sink.publishJSON(b.cfg.Topics.State, state, false) {
			b.cadence.MarkPublished(cadence.State, now)
		}
	}

	if b.cfg.Debug {
		b.sink.publishJSON(b.cfg.Topics.RawFields, rawFieldsPayload{
			TS:             now.Unix(),
			BufTypes:       latest.Histogram,
			RealtimeFields: latest.Realtime,
			RareFields:     latest.Rare,
		}, true)
	}

	if b.cadence.StatusDue(now) {
		b.logger.Info("device ok",
			"mode", b.controller.Mode(),
			"cps", snap.CountsPerSecond,
			"dose_rate", snap.DoseRate,
			"unit", b.cfg.Units.RateUnit(),
		)
		b.status.PublishOK()
		b.cadence.MarkPublished(cadence.Status, now)
	}
}

func (b *Bridge) handleNoRealtime(now time.Time, latest device.Latest) {
	lastSeen := b.controller.LastSeen()
	verdict := b.controller.Verdict(now)
	status := deviceStatus(verdict)

	if !b.loggedWaiting {
		b.logger.Warn("no realtime data", "device_status", status, "buf_types", latest.Histogram)
		b.loggedWaiting = true
	}

	if b.cadence.StatusDue(now) {
		summary := StatusWaitingForData
		if b.controller.Watchdog().GraceElapsed(now) {
			summary = StatusRealtimeTimeout
		}
		b.status.Notify(summary, "device_status", status, "buf_types", latest.Histogram)
		b.cadence.MarkPublished(cadence.Status, now)
	}

	if !b.cadence.StateDue(now) {
		return
	}
	snap := telemetry.NewSnapshot(now, nil, b.cache.Fields(), b.cfg.Units)
	state := newWaitingPayload(snap, status, lastSeen, b.pub.Connected(), b.controller.Mode(), b.status.LastError())
	if b.sink.publishJSON(b.cfg.Topics.State, state, false) {
		b.cadence.MarkPublished(cadence.State, now)
	}
}

// deviceStatus maps a watchdog verdict onto the state payload's device_status.
func deviceStatus(v watchdog.Verdict) string {
	switch v {
	case watchdog.Waiting, watchdog.Stale:
		return DeviceStale
	default:
		return DeviceWaiting
	}
}

// Shutdown closes the device session, marks the bridge offline and closes the bus.
func (b *Bridge) Shutdown(ctx context.Context) error {
	if b.controller != nil {
		b.controller.Close()
	}
	b.sink.publishRaw(b.cfg.Topics.Availability, []byte(bus.Offline), true)
	b.logger.Info("bridge stopped")

	return b.pub.Close(ctx)
}
