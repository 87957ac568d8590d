package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/radbridge/bus"
	"github.com/arloliu/radbridge/cadence"
	"github.com/arloliu/radbridge/device"
	"github.com/arloliu/radbridge/internal/clock"
	"github.com/arloliu/radbridge/internal/util"
	"github.com/arloliu/radbridge/logger"
	"github.com/arloliu/radbridge/recovery"
	"github.com/arloliu/radbridge/telemetry"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakePublisher struct {
	mu        sync.Mutex
	msgs      []bus.Message
	connected bool
	closed    bool
	failTopic string
}

func (p *fakePublisher) Publish(topic string, payload []byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failTopic != "" && topic == p.failTopic {
		return bus.ErrNotConnected
	}
	p.msgs = append(p.msgs, bus.Message{Topic: topic, Payload: append([]byte(nil), payload...), Retained: retained})

	return nil
}

func (p *fakePublisher) Connected() bool { return p.connected }

func (p *fakePublisher) Close(context.Context) error {
	p.closed = true
	return nil
}

func (p *fakePublisher) on(topic string) []bus.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []bus.Message
	for _, m := range p.msgs {
		if m.Topic == topic {
			out = append(out, m)
		}
	}

	return out
}

func (p *fakePublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = nil
}

// statuses returns the "status" field of every JSON status message, or the
// raw payload for non-JSON ones.
func (p *fakePublisher) statuses(topic string) []string {
	var out []string
	for _, m := range p.on(topic) {
		var v map[string]any
		if err := json.Unmarshal(m.Payload, &v); err != nil {
			out = append(out, string(m.Payload))
			continue
		}
		out = append(out, v["status"].(string))
	}

	return out
}

type scriptedSession struct {
	mu      sync.Mutex
	batches [][]telemetry.Record
	readErr error
	spec    *telemetry.Spectrum
	closed  bool
	onRead  func()
}

func (s *scriptedSession) push(records ...telemetry.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
}

func (s *scriptedSession) ReadRecords() ([]telemetry.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.onRead != nil {
		s.onRead()
	}
	if s.readErr != nil {
		return nil, s.readErr
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]

	return batch, nil
}

func (s *scriptedSession) Spectrum(context.Context) (*telemetry.Spectrum, error) {
	if s.spec == nil {
		return nil, errors.New("no spectrum")
	}

	return s.spec, nil
}

func (s *scriptedSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	return nil
}

func realtime(cps, dose float64) telemetry.Record {
	return telemetry.Record{
		Kind: telemetry.KindRealtime,
		Type: "RealTimeData",
		Realtime: &telemetry.RealtimeData{
			CountRate: util.Ptr(cps),
			DoseRate:  util.Ptr(dose),
			Flags:     util.Ptr(int64(1)),
		},
	}
}

func rare(temp, battery float64) telemetry.Record {
	return telemetry.Record{
		Kind: telemetry.KindRare,
		Type: "RareData",
		Rare: &telemetry.RareData{
			Temperature: util.Ptr(temp),
			ChargeLevel: util.Ptr(battery),
			Dose:        util.Ptr(0.5),
		},
	}
}

type harness struct {
	clock    *clock.Fake
	pub      *fakePublisher
	bridge   *Bridge
	ctrl     *recovery.Controller
	sessions []*scriptedSession
	topics   bus.Topics
	log      *logger.MockLogger
}

func (h *harness) session() *scriptedSession { return h.sessions[len(h.sessions)-1] }

type harnessOpts struct {
	mac      string
	debug    bool
	spectrum bool
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()

	h := &harness{clock: clock.NewFake(t0), pub: &fakePublisher{connected: true}, log: logger.NewPermissiveMockLogger()}
	target := device.NewTarget(o.mac)
	h.topics = bus.NewTopics("radiacode", target.DeviceID())
	units := telemetry.NewUnits("Sv", "micro")

	driver := device.DriverFunc(func(context.Context, device.Target) (device.Session, error) {
		s := &scriptedSession{spec: &telemetry.Spectrum{Duration: 90 * time.Second, A0: 1, A1: 2, A2: 3, Counts: []int{4, 5}}}
		h.sessions = append(h.sessions, s)
		return s, nil
	})
	adapter := device.NewAdapter(driver, device.WithLogger(h.log))

	h.bridge = New(Config{
		Topics: h.topics,
		Units:  units,
		Discovery: bus.DiscoveryConfig{
			Prefix:   "homeassistant",
			DeviceID: target.DeviceID(),
			Topics:   h.topics,
			Units:    units,
		},
		DiscoveryEnabled: true,
		Debug:            o.debug,
		SpectrumRetain:   true,
		PollInterval:     5 * time.Second,
		Clock:            h.clock,
		Logger:           h.log,
	}, h.pub, cadence.NewManager(t0, cadence.WithStatusEvery(30*time.Second), cadence.WithSpectrum(o.spectrum, 10*time.Second)))

	cfg, err := recovery.NewConfig(target,
		recovery.WithClock(h.clock),
		recovery.WithLogger(h.log),
		recovery.WithPollInterval(5*time.Second),
		recovery.WithWatchdog(30*time.Second),
		recovery.WithFirstDataTimeout(60*time.Second),
	)
	require.NoError(t, err)
	h.ctrl, err = recovery.NewController(cfg, adapter, h.bridge.Notifier())
	require.NoError(t, err)
	h.bridge.Attach(h.ctrl)

	require.NoError(t, h.ctrl.Start(context.Background()))
	h.pub.reset()

	return h
}

func decode(t *testing.T, m bus.Message) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal(m.Payload, &v))

	return v
}

func TestRunAnnouncesAndLoops(t *testing.T) {
	require := require.New(t)

	h := &harness{clock: clock.NewFake(t0), pub: &fakePublisher{connected: true}}
	topics := bus.NewTopics("radiacode", device.USBDeviceID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reads := 0
	sess := &scriptedSession{onRead: func() {
		reads++
		if reads == 3 {
			cancel()
		}
	}}
	sess.batches = [][]telemetry.Record{{realtime(10, 0.1)}}
	adapter := device.NewAdapter(device.DriverFunc(func(context.Context, device.Target) (device.Session, error) {
		return sess, nil
	}))

	b := New(Config{
		Topics:           topics,
		Units:            telemetry.NewUnits("Sv", "micro"),
		Discovery:        bus.DiscoveryConfig{Prefix: "homeassistant", DeviceID: device.USBDeviceID, Topics: topics, Units: telemetry.NewUnits("Sv", "micro")},
		DiscoveryEnabled: true,
		Clock:            h.clock,
		Logger:           logger.NewPermissiveMockLogger(),
	}, h.pub, cadence.NewManager(t0))
	cfg, err := recovery.NewConfig(device.NewTarget(""), recovery.WithClock(h.clock))
	require.NoError(err)
	ctrl, err := recovery.NewController(cfg, adapter, b.Notifier())
	require.NoError(err)
	b.Attach(ctrl)

	err = b.Run(ctx)
	require.ErrorIs(err, context.Canceled)

	require.Equal(topics.Availability, h.pub.msgs[0].Topic)
	require.Equal(bus.Online, string(h.pub.msgs[0].Payload))
	require.True(h.pub.msgs[0].Retained)

	require.Equal(topics.Status, h.pub.msgs[1].Topic)
	started := decode(t, h.pub.msgs[1])
	require.Equal(StatusStarted, started["status"])
	require.Equal("usb", started["mode_guess"])

	discovery := 0
	for _, m := range h.pub.msgs {
		if strings.HasPrefix(m.Topic, "homeassistant/") {
			discovery++
			require.True(m.Retained)
		}
	}
	require.Equal(13, discovery)

	statuses := h.pub.statuses(topics.Status)
	require.Contains(statuses, recovery.StatusConnectingDevice)
	require.Contains(statuses, recovery.StatusDeviceConnected)
	require.Contains(statuses, StatusOK)

	require.Len(h.pub.on(topics.Heartbeat), 3)
	require.Len(h.pub.on(topics.State), 3)
}

func TestRunWithoutController(t *testing.T) {
	b := New(Config{}, &fakePublisher{}, cadence.NewManager(t0))
	require.Error(t, b.Run(context.Background()))
}

func TestTickRealtime(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, harnessOpts{})
	h.session().push(realtime(12.5, 0.2), rare(21.5, 88))

	sleep, err := h.bridge.Tick(context.Background())
	require.NoError(err)
	require.Equal(5*time.Second, sleep)

	require.Len(h.pub.on(h.topics.Heartbeat), 1)
	require.JSONEq(`{"ts":1735689600}`, string(h.pub.on(h.topics.Heartbeat)[0].Payload))

	states := h.pub.on(h.topics.State)
	require.Len(states, 1)
	require.False(states[0].Retained)
	state := decode(t, states[0])
	require.Equal(DeviceOK, state["device_status"])
	require.InDelta(0.2e6, state["dose_rate"], 1e-3)
	require.InDelta(12.5, state["cps"], 1e-9)
	require.InDelta(21.5, state["temperature_c"], 1e-9)
	require.InDelta(88, state["battery_pct"], 1e-9)
	require.InDelta(0.5e6, state["dose_total"], 1e-3)
	require.Equal("µSv", state["dose_total_unit"])
	require.Equal(true, state["mqtt_connected"])
	require.Equal("usb", state["device_mode"])
	require.InDelta(0.0, state["last_seen_age_s"], 1e-9)
	require.Contains(state, "count_rate_err")
	require.Nil(state["count_rate_err"])
	raw := state["raw"].(map[string]any)
	require.InDelta(0.2, raw["dose_rate"], 1e-9)
	require.InDelta(12.5, raw["count_rate"], 1e-9)

	require.Equal([]string{StatusOK}, h.pub.statuses(h.topics.Status))
	require.Empty(h.pub.on(h.topics.RawFields))
	require.Equal(t0, h.ctrl.LastSeen())
}

func TestTickRealtimeKeepsCachedRareFields(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, harnessOpts{})
	h.session().push(realtime(10, 0.1), rare(20, 90))
	h.session().push(realtime(11, 0.1))

	_, err := h.bridge.Tick(context.Background())
	require.NoError(err)
	h.clock.Advance(5 * time.Second)
	_, err = h.bridge.Tick(context.Background())
	require.NoError(err)

	states := h.pub.on(h.topics.State)
	require.Len(states, 2)
	second := decode(t, states[1])
	require.InDelta(11, second["cps"], 1e-9)
	require.InDelta(20, second["temperature_c"], 1e-9)
	require.InDelta(90, second["battery_pct"], 1e-9)
	require.InDelta(5, second["rare_last_seen_age_s"], 1e-9)

	// the status summary is rate limited to one per 30s
	require.Equal([]string{StatusOK}, h.pub.statuses(h.topics.Status))
}

func TestTickNoRealtime(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, harnessOpts{})
	h.session().push(telemetry.Record{Kind: telemetry.KindOther, Type: "Event"})

	sleep, err := h.bridge.Tick(context.Background())
	require.NoError(err)
	require.Equal(5*time.Second, sleep)

	status := h.pub.on(h.topics.Status)
	require.Len(status, 1)
	summary := decode(t, status[0])
	require.Equal(StatusWaitingForData, summary["status"])
	require.Equal(DeviceWaiting, summary["device_status"])
	require.Equal(map[string]any{"Event": 1.0}, summary["buf_types"])

	state := decode(t, h.pub.on(h.topics.State)[0])
	require.Equal(DeviceWaiting, state["device_status"])
	require.Nil(state["last_seen_ts"])
	require.Nil(state["last_error"])
	require.NotContains(state, "dose_rate")

	h.clock.Advance(5 * time.Second)
	_, err = h.bridge.Tick(context.Background())
	require.NoError(err)
	require.Len(h.pub.on(h.topics.Status), 1)
	require.Len(h.pub.on(h.topics.State), 2)

	var warnings int
	for _, c := range h.log.Calls {
		if c.Method == "Warn" && c.Arguments[0] == "no realtime data" {
			warnings++
		}
	}
	require.Equal(1, warnings)

	// past the grace period without data
	h.clock.Advance(60 * time.Second)
	_, err = h.bridge.Tick(context.Background())
	require.NoError(err)
	statuses := h.pub.statuses(h.topics.Status)
	require.Equal(StatusRealtimeTimeout, statuses[len(statuses)-1])
	states := h.pub.on(h.topics.State)
	require.Equal(DeviceStale, decode(t, states[len(states)-1])["device_status"])
}

func TestTickReadError(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, harnessOpts{})
	h.session().readErr = errors.New("usb pipe broken")

	sleep, err := h.bridge.Tick(context.Background())
	require.NoError(err)
	require.Equal(ReadErrorDelay+5*time.Second, sleep)

	status := h.pub.on(h.topics.Status)
	require.Len(status, 1)
	payload := decode(t, status[0])
	require.Equal(StatusError, payload["status"])
	require.Contains(payload["error"], "usb pipe broken")
	require.Contains(h.bridge.Notifier().LastError(), "usb pipe broken")
	require.True(h.log.CalledWith("Error", "failed to read device"))
	require.Equal(uint64(1), h.ctrl.Metrics().ReadErrors.Load())

	h.session().readErr = nil
	_, err = h.bridge.Tick(context.Background())
	require.NoError(err)
	state := decode(t, h.pub.on(h.topics.State)[0])
	require.Contains(state["last_error"], "usb pipe broken")

	h.session().push(realtime(1, 0.1))
	_, err = h.bridge.Tick(context.Background())
	require.NoError(err)
	require.Empty(h.bridge.Notifier().LastError())
}

func TestTickDebugRawFields(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, harnessOpts{debug: true})
	h.session().push(realtime(3, 0.05))

	_, err := h.bridge.Tick(context.Background())
	require.NoError(err)

	raw := h.pub.on(h.topics.RawFields)
	require.Len(raw, 1)
	require.True(raw[0].Retained)
	payload := decode(t, raw[0])
	require.Equal(map[string]any{"RealTimeData": 1.0}, payload["buf_types"])
	require.InDelta(3, payload["realtime_fields"].(map[string]any)["count_rate"], 1e-9)
	require.Nil(payload["rare_fields"])
}

func TestTickSpectrum(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, harnessOpts{spectrum: true})

	_, err := h.bridge.Tick(context.Background())
	require.NoError(err)
	require.Empty(h.pub.on(h.topics.Spectrum))

	h.clock.Advance(3 * time.Second)
	_, err = h.bridge.Tick(context.Background())
	require.NoError(err)

	spectra := h.pub.on(h.topics.Spectrum)
	require.Len(spectra, 1)
	require.True(spectra[0].Retained)
	payload := decode(t, spectra[0])
	require.InDelta(90, payload["duration_s"], 1e-9)
	require.Equal([]any{4.0, 5.0}, payload["counts"])

	_, ok := h.bridge.cadence.LastPublished(cadence.Spectrum)
	require.True(ok)

	h.clock.Advance(5 * time.Second)
	_, err = h.bridge.Tick(context.Background())
	require.NoError(err)
	require.Len(h.pub.on(h.topics.Spectrum), 1)

	h.clock.Advance(5 * time.Second)
	_, err = h.bridge.Tick(context.Background())
	require.NoError(err)
	require.Len(h.pub.on(h.topics.Spectrum), 2)
}

func TestTickStaleBLERecovers(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, harnessOpts{mac: "52:AF:00:11:AA:BB"})
	require.Equal("radiacode/52af0011aabb", h.topics.Base)
	h.session().push(realtime(10, 0.1))

	_, err := h.bridge.Tick(context.Background())
	require.NoError(err)

	h.clock.Advance(31 * time.Second)
	sleep, err := h.bridge.Tick(context.Background())
	require.NoError(err)
	require.Zero(sleep)

	require.Len(h.sessions, 2)
	require.True(h.sessions[0].closed)
	statuses := h.pub.statuses(h.topics.Status)
	require.Equal([]string{StatusOK, recovery.StatusBLEStale, recovery.StatusBLERecovered}, statuses)
	require.Equal(1, h.ctrl.Snapshot().RecoveryAttempts)
	require.True(h.ctrl.LastSeen().IsZero())

	// no data yet on the new session: waiting, never another recovery
	h.clock.Advance(5 * time.Second)
	_, err = h.bridge.Tick(context.Background())
	require.NoError(err)
	require.Len(h.sessions, 2)
	require.Equal(1, h.ctrl.Snapshot().RecoveryAttempts)
}

func TestPublishFailuresAreCounted(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, harnessOpts{})
	h.pub.failTopic = h.topics.State
	h.session().push(realtime(1, 0.1))

	_, err := h.bridge.Tick(context.Background())
	require.NoError(err)
	require.Equal(uint64(1), h.bridge.Metrics().PublishErrors.Load())
	_, ok := h.bridge.cadence.LastPublished(cadence.State)
	require.False(ok)
	_, ok = h.bridge.cadence.LastPublished(cadence.Heartbeat)
	require.True(ok)
}

func TestShutdown(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, harnessOpts{})
	require.NoError(h.bridge.Shutdown(context.Background()))

	require.True(h.session().closed)
	require.True(h.pub.closed)
	avail := h.pub.on(h.topics.Availability)
	require.Len(avail, 1)
	require.Equal(bus.Offline, string(avail[0].Payload))
	require.True(avail[0].Retained)
	require.Equal(recovery.Disconnected, h.ctrl.StateMgr().State())
}

func TestStatusPublisherValues(t *testing.T) {
	require := require.New(t)

	pub := &fakePublisher{}
	s := &StatusPublisher{
		sink:  &sink{pub: pub, logger: logger.NewPermissiveMockLogger(), metrics: &Metrics{}},
		topic: "radiacode/x/status",
		clock: clock.NewFake(t0),
	}
	s.Notify(recovery.StatusBLERecoveryFailed, "error", errors.New("boom"), "backoff", 4*time.Second, "attempt", 2)

	payload := decode(t, pub.msgs[0])
	require.Equal("boom", payload["error"])
	require.InDelta(4, payload["backoff"], 1e-9)
	require.InDelta(2, payload["attempt"], 1e-9)
	require.Equal("boom", s.LastError())

	s.Notify(recovery.StatusBLERecovered, "attempt", 2)
	require.Empty(s.LastError())
}
