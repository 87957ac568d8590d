package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/radbridge/internal/clock"
	"github.com/arloliu/radbridge/logger"
	"github.com/arloliu/radbridge/telemetry"
)

const (
	// DefaultConnectTimeout bounds a BLE connect attempt.
	DefaultConnectTimeout = 20 * time.Second
	// DefaultSpectrumTimeout bounds a spectrum request.
	DefaultSpectrumTimeout = 10 * time.Second
	// DefaultAbandonWait is how long Connect waits for a previously abandoned attempt to settle.
	DefaultAbandonWait = 5 * time.Second
)

// AdapterOption customizes an Adapter.
type AdapterOption func(*Adapter)

// WithConnectTimeout sets the hard BLE connect timeout. Non-positive values are ignored.
func WithConnectTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.connectTimeout = d
		}
	}
}

// WithSpectrumTimeout sets the timeout of ReadSpectrum. Non-positive values are ignored.
func WithSpectrumTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.spectrumTimeout = d
		}
	}
}

// WithAbandonWait sets how long Connect waits for an abandoned attempt to finish.
func WithAbandonWait(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d >= 0 {
			a.abandonWait = d
		}
	}
}

// WithScanner sets the BLE scanner used by Scan.
func WithScanner(s Scanner) AdapterOption {
	return func(a *Adapter) {
		a.scanner = s
	}
}

// WithRecoveryHook sets the hook invoked by Recover.
func WithRecoveryHook(h RecoveryHook) AdapterOption {
	return func(a *Adapter) {
		if h != nil {
			a.hook = h
		}
	}
}

// WithLogger sets the adapter's logger.
func WithLogger(l logger.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// Adapter wraps a Driver with timeout, classification and best-effort semantics.
type Adapter struct {
	driver          Driver
	scanner         Scanner
	hook            RecoveryHook
	logger          logger.Logger
	connectTimeout  time.Duration
	spectrumTimeout time.Duration
	abandonWait     time.Duration

	mu        sync.Mutex
	abandoned chan struct{} // closed once an abandoned attempt has settled
}

// NewAdapter creates an Adapter around driver.
func NewAdapter(driver Driver, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		driver:          driver,
		hook:            NoopHook{},
		logger:          logger.GetLogger(),
		connectTimeout:  DefaultConnectTimeout,
		spectrumTimeout: DefaultSpectrumTimeout,
		abandonWait:     DefaultAbandonWait,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// ConnectTimeout returns the configured BLE connect timeout.
func (a *Adapter) ConnectTimeout() time.Duration {
	return a.connectTimeout
}

type connectResult struct {
	sess Session
	err  error
}

// Connect establishes a session with target.
//
// In BLE mode the attempt is bounded by the connect timeout. On timeout the
// attempt's context is cancelled, a session that still arrives is closed, and
// ErrConnectTimeout is returned. Two attempts never overlap: a new Connect first
// waits for an abandoned attempt to settle and fails with ErrAttemptInFlight
// when it does not.
func (a *Adapter) Connect(ctx context.Context, target Target) (Session, error) {
	if err := a.waitAbandoned(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	if target.Mode != ModeBLE {
		sess, err := a.safeConnect(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnect, err)
		}

		return sess, nil
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	resultCh := make(chan connectResult, 1)
	go func() {
		sess, err := a.safeConnect(attemptCtx, target)
		resultCh <- connectResult{sess: sess, err: err}
	}()

	res, err := clock.Await(ctx, resultCh, a.connectTimeout)
	switch {
	case err == nil:
		cancel()
		if res.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnect, res.err)
		}

		return res.sess, nil

	case errors.Is(err, clock.ErrWaitTimeout):
		cancel()
		a.abandon(resultCh)
		a.logger.Error("device connect timed out", "mac", target.MAC, "timeout", a.connectTimeout)

		return nil, fmt.Errorf("%w after %s", ErrConnectTimeout, a.connectTimeout)

	default:
		cancel()
		a.abandon(resultCh)

		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
}

// abandon records an in-flight attempt and closes its session if one arrives late.
func (a *Adapter) abandon(resultCh <-chan connectResult) {
	settled := make(chan struct{})

	a.mu.Lock()
	a.abandoned = settled
	a.mu.Unlock()

	go func() {
		defer close(settled)

		res := <-resultCh
		if res.sess != nil {
			a.logger.Warn("closing session that arrived after connect was abandoned")
			a.Close(res.sess)
		}
	}()
}

func (a *Adapter) waitAbandoned(ctx context.Context) error {
	a.mu.Lock()
	settled := a.abandoned
	a.mu.Unlock()

	if settled == nil {
		return nil
	}

	if _, err := clock.Await(ctx, settled, a.abandonWait); err != nil {
		if errors.Is(err, clock.ErrWaitTimeout) {
			return ErrAttemptInFlight
		}

		return err
	}

	a.mu.Lock()
	if a.abandoned == settled {
		a.abandoned = nil
	}
	a.mu.Unlock()

	return nil
}

func (a *Adapter) safeConnect(ctx context.Context, target Target) (sess Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			sess = nil
			err = fmt.Errorf("driver panic: %v", r)
		}
	}()

	sess, err = a.driver.Connect(ctx, target)
	if err == nil && sess == nil {
		err = errors.New("driver returned no session")
	}

	return sess, err
}

// ReadLatest drains sess once and returns the latest record of each category.
func (a *Adapter) ReadLatest(sess Session) (latest Latest, err error) {
	if sess == nil {
		return Latest{}, fmt.Errorf("%w: %w", ErrRead, ErrNoSession)
	}

	defer func() {
		if r := recover(); r != nil {
			latest = Latest{}
			err = fmt.Errorf("%w: driver panic: %v", ErrRead, r)
		}
	}()

	records, err := sess.ReadRecords()
	if err != nil {
		return Latest{}, fmt.Errorf("%w: %w", ErrRead, err)
	}

	return Classify(records), nil
}

// Classify folds records into a Latest in a single pass, by Kind.
func Classify(records []telemetry.Record) Latest {
	latest := Latest{Histogram: make(map[string]int)}
	for i := range records {
		rec := &records[i]

		name := rec.Type
		if name == "" {
			name = rec.Kind.String()
		}
		latest.Histogram[name]++

		switch rec.Kind {
		case telemetry.KindRealtime:
			if rec.Realtime != nil {
				latest.Realtime = rec.Realtime
			}
		case telemetry.KindRare:
			if rec.Rare != nil {
				latest.Rare = rec.Rare
			}
		case telemetry.KindSpectrum, telemetry.KindOther:
		}
	}

	return latest
}

// ReadSpectrum requests a spectrum snapshot, bounded by the spectrum timeout.
func (a *Adapter) ReadSpectrum(ctx context.Context, sess Session) (spec *telemetry.Spectrum, err error) {
	if sess == nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, ErrNoSession)
	}

	ctx, cancel := context.WithTimeout(ctx, a.spectrumTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			spec = nil
			err = fmt.Errorf("%w: driver panic: %v", ErrRead, r)
		}
	}()

	spec, err = sess.Spectrum(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: spectrum: %w", ErrRead, err)
	}

	return spec, nil
}

// Close tears sess down. Failures are logged at debug level and swallowed.
func (a *Adapter) Close(sess Session) {
	if sess == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Debug("device close panicked", "panic", r)
		}
	}()

	if err := sess.Close(); err != nil {
		a.logger.Debug("device close failed", "error", err)
		return
	}
	a.logger.Debug("device closed")
}

// Scan reports whether mac advertised within d. Scan errors are logged and
// reported as not seen. Without a scanner the preflight is skipped and Scan
// reports true.
func (a *Adapter) Scan(ctx context.Context, mac string, d time.Duration) (seen bool) {
	if a.scanner == nil {
		a.logger.Debug("no BLE scanner configured, skipping preflight", "mac", mac)
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("BLE scan panicked", "mac", mac, "panic", r)
			seen = false
		}
	}()

	a.logger.Debug("BLE scan preflight", "mac", mac, "duration", d)
	seen, err := a.scanner.Scan(ctx, mac, d)
	if err != nil {
		a.logger.Warn("BLE scan preflight failed", "mac", mac, "error", err)
		return false
	}

	if seen {
		a.logger.Info("BLE scan preflight saw target", "mac", mac)
	} else {
		a.logger.Warn("BLE scan preflight did not see target", "mac", mac)
	}

	return seen
}

// Recover invokes the recovery hook. Failures are logged at debug level and swallowed.
func (a *Adapter) Recover(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Debug("recovery hook panicked", "panic", r)
		}
	}()

	if err := a.hook.Recover(ctx); err != nil {
		a.logger.Debug("recovery hook failed", "error", err)
	}
}
