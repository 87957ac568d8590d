// Package recovery owns the device connection lifecycle: initial acquisition,
// staleness-driven reconnects with bounded exponential backoff, and the
// decision to give up so a process supervisor can restart the bridge.
//
// States:
//   - Disconnected: no session exists.
//   - Scanning: a BLE advertisement preflight is running.
//   - Connecting: a connect attempt is running, bounded by the adapter's hard timeout.
//   - Connected: a session is live and the watchdog is evaluated every tick.
//   - Recovering: the stream went stale and the session is being re-established.
//   - Exhausted: terminal; the controller returns ErrExhausted.
//
// Transitions are validated by StateMgr. An invalid transition returns
// ErrInvalidTransition and leaves the state unchanged.
//
// Initial Acquisition:
//   - Call `Start` once. In BLE mode with scanning enabled a missed scan backs
//     off and rescans without counting toward the exit threshold.
//   - A failed BLE connect doubles the backoff and counts as a connect failure.
//     USB connects are retried every 3 seconds without limit.
//
// Supervision:
//   - Call `Supervise` at the top of every loop tick. When it reports consumed,
//     the tick did recovery work or a cool-down wait and should end early.
//   - Only a BLE session whose watchdog verdict is Stale is recovered. A session
//     that has not produced data yet is never recovered.
//   - `MarkSeen` feeds the watchdog whenever a realtime record arrives.
//
// Every wait goes through the configured clock and returns early when the
// context is cancelled.
//
// Status notices (StatusDeviceConnected, StatusBLEStale, ...) are reported
// through the Notifier passed to NewController.
//
// Usage Example:
//
//	cfg, err := recovery.NewConfig(device.NewTarget(mac),
//	    recovery.WithScan(true, 5*time.Second),
//	    recovery.WithBackoff(2*time.Second, time.Minute),
//	    recovery.WithWatchdog(30*time.Second),
//	)
//	// ... handle error ...
//	ctrl, err := recovery.NewController(cfg, adapter, notifier)
//	// ... handle error ...
//	if err := ctrl.Start(ctx); err != nil {
//	    return err
//	}
//	for {
//	    consumed, err := ctrl.Supervise(ctx)
//	    if err != nil {
//	        return err // recovery.ErrExhausted or ctx.Err()
//	    }
//	    if consumed {
//	        continue
//	    }
//	    latest, err := ctrl.ReadLatest()
//	    // ...
//	}
package recovery
