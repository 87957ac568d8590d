package recovery

import (
	"errors"
	"time"

	"github.com/arloliu/radbridge/device"
	"github.com/arloliu/radbridge/internal/clock"
	"github.com/arloliu/radbridge/logger"
)

// Fixed delays of the recovery sequence.
const (
	// SettleDelay is slept between helper cleanup and the reconnect attempt.
	SettleDelay = 1500 * time.Millisecond
	// ReconnectGuard is the cool-down after a successful reconnect.
	ReconnectGuard = 500 * time.Millisecond
	// PostAttemptDelay is slept after every recovery attempt.
	PostAttemptDelay = 500 * time.Millisecond
	// ExitPause lets the terminal status message be delivered before exit.
	ExitPause = time.Second
	// USBRetryDelay is the fixed delay between USB connect attempts.
	USBRetryDelay = 3 * time.Second
	// MinCooldownSleep is the shortest sleep while waiting out a cool-down.
	MinCooldownSleep = 100 * time.Millisecond
)

// Config holds the parameters of a Controller.
type Config struct {
	target device.Target

	// scanEnabled enables the BLE preflight scan before initial connects.
	// Defaults to true.
	scanEnabled bool
	// scanDuration is the length of a preflight scan. Defaults to 5 seconds.
	scanDuration time.Duration

	// maxRecoveries is the lifetime recovery budget, also applied to BLE
	// initial-connect failures. Defaults to 8.
	maxRecoveries int

	// backoffInitial and backoffMax bound the exponential backoff.
	// Default to 2 and 60 seconds.
	backoffInitial time.Duration
	backoffMax     time.Duration

	// watchdogThreshold is the maximum allowed silence. Defaults to 30 seconds.
	watchdogThreshold time.Duration
	// firstDataTimeout is the grace period before the first reading. Defaults to 60 seconds.
	firstDataTimeout time.Duration
	// pollInterval is the loop tick, used to cap cool-down sleeps. Defaults to 5 seconds.
	pollInterval time.Duration

	clock  clock.Clock
	logger logger.Logger
}

// NewConfig creates a Config for target with defaults and the given options applied.
func NewConfig(target device.Target, opts ...Option) (*Config, error) {
	cfg := &Config{
		target:            target,
		scanEnabled:       true,
		scanDuration:      5 * time.Second,
		maxRecoveries:     8,
		backoffInitial:    2 * time.Second,
		backoffMax:        60 * time.Second,
		watchdogThreshold: 30 * time.Second,
		firstDataTimeout:  60 * time.Second,
		pollInterval:      5 * time.Second,
		clock:             clock.Real(),
		logger:            logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.backoffMax < cfg.backoffInitial {
		return cfg, errors.New("backoff max is smaller than backoff initial")
	}

	return cfg, nil
}

// Target returns the device target.
func (cfg *Config) Target() device.Target { return cfg.target }

// PollInterval returns the loop tick.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// WatchdogThreshold returns the maximum allowed silence.
func (cfg *Config) WatchdogThreshold() time.Duration { return cfg.watchdogThreshold }

// Clock returns the clock the controller runs on.
func (cfg *Config) Clock() clock.Clock { return cfg.clock }

// Option represents a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error {
	if cfg == nil {
		return ErrConfigNil
	}

	return o.applyFunc(cfg)
}

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithScan enables or disables the BLE preflight scan and sets its duration.
// The duration should be positive.
func WithScan(enabled bool, d time.Duration) Option {
	return newOptFunc("WithScan", func(cfg *Config) error {
		if d <= 0 {
			return errors.New("scan duration should be positive")
		}
		cfg.scanEnabled = enabled
		cfg.scanDuration = d

		return nil
	})
}

// WithMaxRecoveries sets the lifetime recovery budget. It should be at least 1.
func WithMaxRecoveries(n int) Option {
	return newOptFunc("WithMaxRecoveries", func(cfg *Config) error {
		if n < 1 {
			return errors.New("max recoveries should be at least 1")
		}
		cfg.maxRecoveries = n

		return nil
	})
}

// WithBackoff sets the initial and maximum backoff.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return newOptFunc("WithBackoff", func(cfg *Config) error {
		if initial <= 0 {
			return errors.New("initial backoff should be positive")
		}
		if maxDelay < initial {
			return errors.New("backoff max is smaller than backoff initial")
		}
		cfg.backoffInitial = initial
		cfg.backoffMax = maxDelay

		return nil
	})
}

// WithWatchdog sets the maximum allowed silence.
func WithWatchdog(threshold time.Duration) Option {
	return newOptFunc("WithWatchdog", func(cfg *Config) error {
		if threshold <= 0 {
			return errors.New("watchdog threshold should be positive")
		}
		cfg.watchdogThreshold = threshold

		return nil
	})
}

// WithFirstDataTimeout sets the grace period before the first reading.
func WithFirstDataTimeout(d time.Duration) Option {
	return newOptFunc("WithFirstDataTimeout", func(cfg *Config) error {
		if d < 0 {
			return errors.New("first data timeout should not be negative")
		}
		cfg.firstDataTimeout = d

		return nil
	})
}

// WithPollInterval sets the loop tick.
func WithPollInterval(d time.Duration) Option {
	return newOptFunc("WithPollInterval", func(cfg *Config) error {
		if d <= 0 {
			return errors.New("poll interval should be positive")
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithClock sets the clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return newOptFunc("WithClock", func(cfg *Config) error {
		if c == nil {
			return errors.New("clock is nil")
		}
		cfg.clock = c

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
