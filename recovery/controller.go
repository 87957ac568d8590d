package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/arloliu/radbridge/device"
	"github.com/arloliu/radbridge/internal/clock"
	"github.com/arloliu/radbridge/logger"
	"github.com/arloliu/radbridge/telemetry"
	"github.com/arloliu/radbridge/watchdog"
)

// Adapter is the device surface the controller drives. *device.Adapter implements it.
type Adapter interface {
	Connect(ctx context.Context, target device.Target) (device.Session, error)
	ReadLatest(sess device.Session) (device.Latest, error)
	ReadSpectrum(ctx context.Context, sess device.Session) (*telemetry.Spectrum, error)
	Close(sess device.Session)
	Scan(ctx context.Context, mac string, d time.Duration) bool
	Recover(ctx context.Context)
}

var _ Adapter = (*device.Adapter)(nil)

// ConnectionState is a point-in-time copy of the controller's state.
type ConnectionState struct {
	Mode                   device.Mode
	State                  State
	SessionID              string
	LastSeenAt             time.Time
	RecoveryAttempts       int
	ConnectFailures        int
	Backoff                time.Duration
	NextAllowedReconnectAt time.Time
}

// Controller runs the connection state machine.
//
// All methods are meant to be called from the single control goroutine; the
// session mutex additionally guarantees that no read overlaps a transition.
// The session handle never leaves the controller.
type Controller struct {
	cfg      *Config
	adapter  Adapter
	notifier Notifier
	clock    clock.Clock
	logger   logger.Logger
	watchdog watchdog.Watchdog
	stateMgr *StateMgr
	metrics  *Metrics

	mu                     sync.Mutex
	session                device.Session
	sessionID              string
	lastSeenAt             time.Time
	recoveryAttempts       int
	connectFailures        int
	backoff                *Backoff
	nextAllowedReconnectAt time.Time
}

// NewController creates a Controller. The first-data grace period starts now.
func NewController(cfg *Config, adapter Adapter, notifier Notifier) (*Controller, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if adapter == nil {
		return nil, errors.New("recovery: adapter is nil")
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}

	c := &Controller{
		cfg:      cfg,
		adapter:  adapter,
		notifier: notifier,
		clock:    cfg.clock,
		logger:   cfg.logger.With("device_id", cfg.target.DeviceID()),
		watchdog: watchdog.Watchdog{
			Threshold:        cfg.watchdogThreshold,
			FirstDataTimeout: cfg.firstDataTimeout,
			StartedAt:        cfg.clock.Now(),
		},
		metrics: &Metrics{},
		backoff: NewBackoff(cfg.backoffInitial, cfg.backoffMax),
	}
	c.stateMgr = NewStateMgr(c.logger, func(prev, next State) {
		c.logger.Debug("connection state changed", "prev_state", prev, "new_state", next)
	})
	c.metrics.setBackoff(c.backoff.Current())

	return c, nil
}

// Mode returns the transport mode, fixed for the process lifetime.
func (c *Controller) Mode() device.Mode { return c.cfg.target.Mode }

// StateMgr returns the state manager.
func (c *Controller) StateMgr() *StateMgr { return c.stateMgr }

// Metrics returns the controller's counters.
func (c *Controller) Metrics() *Metrics { return c.metrics }

// Watchdog returns the staleness watchdog.
func (c *Controller) Watchdog() watchdog.Watchdog { return c.watchdog }

// Start acquires the initial session.
//
// BLE scan misses back off and rescan without counting toward the exit
// threshold. BLE connect failures back off and count; once they reach the
// recovery budget Start returns ErrExhausted. USB connects retry forever
// with a fixed delay.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.cfg.target
	ble := target.Mode == device.ModeBLE
	attempt := 0

	for {
		attempt++

		if ble && c.cfg.scanEnabled && target.MAC != "" {
			c.transit(Scanning)
			seen := c.adapter.Scan(ctx, target.MAC, c.cfg.scanDuration)
			c.notifier.Notify(StatusBLEScan,
				"attempt", attempt,
				"target_mac", strings.ToLower(target.MAC),
				"seen", seen,
			)
			if !seen {
				c.metrics.ScanMisses.Add(1)
				if err := c.sleepBackoff(ctx); err != nil {
					return err
				}

				continue
			}
		}

		c.transit(Connecting)
		c.notifier.Notify(StatusConnectingDevice, "attempt", attempt, "mode_guess", target.Mode)
		c.logger.Info("connecting to device", "mode", target.Mode, "mac", target.MAC, "attempt", attempt)

		sess, err := c.adapter.Connect(ctx, target)
		if err == nil {
			c.install(sess)
			c.backoff.Reset()
			c.metrics.setBackoff(c.backoff.Current())
			c.transit(Connected)
			c.logger.Info("device connected", "mode", target.Mode, "session_id", c.sessionID)
			c.notifier.Notify(StatusDeviceConnected, "mode", target.Mode, "session_id", c.sessionID)

			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.reportConnectFailure(err)
		c.adapter.Recover(ctx)

		if !ble {
			if err := c.clock.Sleep(ctx, USBRetryDelay); err != nil {
				return err
			}

			continue
		}

		if err := c.sleepBackoff(ctx); err != nil {
			return err
		}

		c.connectFailures++
		if c.connectFailures >= c.cfg.maxRecoveries {
			return c.exhaust(ctx, "attempts", c.connectFailures)
		}
	}
}

// Supervise runs the watchdog for one tick and recovers a stale BLE session.
//
// consumed reports whether the tick was used up by a cool-down sleep or a
// recovery attempt, in which case the caller should skip to the next tick.
// err is ErrExhausted when the recovery budget is spent, or the context error.
func (c *Controller) Supervise(ctx context.Context) (consumed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stateMgr.State().IsTerminal() {
		return true, ErrExhausted
	}

	now := c.clock.Now()
	verdict := c.watchdog.Evaluate(c.lastSeenAt, now)
	if !watchdog.ShouldRecover(c.cfg.target.Mode, verdict) {
		return false, nil
	}

	if now.Before(c.nextAllowedReconnectAt) {
		wait := min(c.cfg.pollInterval, max(MinCooldownSleep, c.nextAllowedReconnectAt.Sub(now)))
		return true, c.clock.Sleep(ctx, wait)
	}

	if err := c.recover(ctx, now); err != nil {
		return true, err
	}

	return true, c.clock.Sleep(ctx, PostAttemptDelay)
}

func (c *Controller) recover(ctx context.Context, now time.Time) error {
	c.recoveryAttempts++
	c.metrics.RecoveryAttempts.Add(1)
	staleFor := now.Sub(c.lastSeenAt)

	c.logger.Warn("BLE stale, starting recovery",
		"stale_for", staleFor,
		"recovery_attempt", c.recoveryAttempts,
		"max_recoveries", c.cfg.maxRecoveries,
	)
	c.notifier.Notify(StatusBLEStale,
		"stale_for_s", staleFor.Seconds(),
		"recovery_attempt", c.recoveryAttempts,
		"backoff_s", c.backoff.Current().Seconds(),
	)
	c.transit(Recovering)

	c.adapter.Close(c.session)
	c.session = nil
	c.sessionID = ""
	c.adapter.Recover(ctx)

	if err := c.clock.Sleep(ctx, SettleDelay); err != nil {
		return err
	}

	sess, err := c.adapter.Connect(ctx, c.cfg.target)
	if err == nil {
		c.install(sess)
		c.backoff.Reset()
		c.metrics.setBackoff(c.backoff.Current())
		c.lastSeenAt = time.Time{}
		c.metrics.setLastSeen(c.lastSeenAt)
		c.nextAllowedReconnectAt = c.clock.Now().Add(ReconnectGuard)
		c.metrics.Reconnects.Add(1)
		c.transit(Connected)

		c.logger.Warn("BLE recovery succeeded", "attempt", c.recoveryAttempts, "session_id", c.sessionID)
		c.notifier.Notify(StatusBLERecovered, "attempt", c.recoveryAttempts, "session_id", c.sessionID)

		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.metrics.ConnectFailures.Add(1)
	if errors.Is(err, device.ErrConnectTimeout) {
		c.metrics.ConnectTimeouts.Add(1)
	}
	next := c.backoff.Grow()
	c.metrics.setBackoff(next)
	c.nextAllowedReconnectAt = c.clock.Now().Add(next)

	c.logger.Error("BLE recovery failed", "error", err, "attempt", c.recoveryAttempts, "next_backoff", next)
	c.notifier.Notify(StatusBLERecoveryFailed, "error", err.Error(), "attempt", c.recoveryAttempts)

	if c.recoveryAttempts >= c.cfg.maxRecoveries {
		return c.exhaust(ctx, "recovery_attempts", c.recoveryAttempts)
	}

	return nil
}

func (c *Controller) install(sess device.Session) {
	c.session = sess
	c.sessionID = ulid.Make().String()
}

func (c *Controller) reportConnectFailure(err error) {
	c.metrics.ConnectFailures.Add(1)

	if errors.Is(err, device.ErrConnectTimeout) {
		c.metrics.ConnectTimeouts.Add(1)
		c.logger.Error("device connect timed out", "error", err)
		c.notifier.Notify(StatusDeviceConnectTimeout, "error", err.Error())

		return
	}

	c.logger.Error("device connect failed", "error", err)
	c.notifier.Notify(StatusDeviceConnectFailed, "error", err.Error())
}

// sleepBackoff sleeps the current backoff, then grows it.
func (c *Controller) sleepBackoff(ctx context.Context) error {
	if err := c.clock.Sleep(ctx, c.backoff.Current()); err != nil {
		return err
	}
	c.metrics.setBackoff(c.backoff.Grow())

	return nil
}

func (c *Controller) exhaust(ctx context.Context, keysAndValues ...any) error {
	c.transit(Exhausted)
	c.logger.Error("recovery budget exhausted, exiting for restart", keysAndValues...)
	c.notifier.Notify(StatusExitingForRestart, keysAndValues...)
	_ = c.clock.Sleep(ctx, ExitPause)

	return fmt.Errorf("%w after %d attempts", ErrExhausted, max(c.recoveryAttempts, c.connectFailures))
}

func (c *Controller) transit(s State) {
	if err := c.stateMgr.To(s); err != nil {
		c.logger.Error("state transition failed", "from", c.stateMgr.State(), "to", s, "error", err)
	}
}

// MarkSeen records a valid realtime reading at now.
func (c *Controller) MarkSeen(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSeenAt = now
	c.metrics.setLastSeen(now)
}

// LastSeen returns the instant of the last realtime reading, zero if unset.
func (c *Controller) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastSeenAt
}

// Verdict evaluates the watchdog at now.
func (c *Controller) Verdict(now time.Time) watchdog.Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.watchdog.Evaluate(c.lastSeenAt, now)
}

// ReadLatest drains the current session.
func (c *Controller) ReadLatest() (device.Latest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	latest, err := c.adapter.ReadLatest(c.session)
	if err != nil {
		c.metrics.ReadErrors.Add(1)
	}

	return latest, err
}

// ReadSpectrum requests a spectrum snapshot from the current session.
func (c *Controller) ReadSpectrum(ctx context.Context) (*telemetry.Spectrum, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.adapter.ReadSpectrum(ctx, c.session)
}

// Snapshot returns a copy of the connection state.
func (c *Controller) Snapshot() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ConnectionState{
		Mode:                   c.cfg.target.Mode,
		State:                  c.stateMgr.State(),
		SessionID:              c.sessionID,
		LastSeenAt:             c.lastSeenAt,
		RecoveryAttempts:       c.recoveryAttempts,
		ConnectFailures:        c.connectFailures,
		Backoff:                c.backoff.Current(),
		NextAllowedReconnectAt: c.nextAllowedReconnectAt,
	}
}

// Close tears down the current session.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return
	}

	c.adapter.Close(c.session)
	c.session = nil
	c.sessionID = ""
	if !c.stateMgr.State().IsTerminal() {
		c.transit(Disconnected)
	}
}
