// Package device adapts a Radiacode driver to the needs of the recovery loop.
//
// A Driver produces Sessions; the Adapter wraps every driver call so that
// connects are bounded by a hard timeout, reads are classified into the latest
// realtime and rare records, and teardown, scanning and helper cleanup never
// propagate failures to the caller.
//
// Targets:
//   - `NewTarget` selects BLE mode for a non-empty MAC and USB mode otherwise.
//   - `DeviceID` is the lowercased MAC without separators, or USBDeviceID.
//
// Connect:
//   - In BLE mode the driver runs in its own goroutine under a cancellable
//     context. When the timeout fires the context is cancelled, a session that
//     arrives later is closed, and the call fails with ErrConnectTimeout.
//   - The next Connect waits for an abandoned attempt before starting, so two
//     attempts never overlap. If it is still stuck the call fails with
//     ErrAttemptInFlight.
//   - Driver panics are recovered into ErrConnect.
//
// Reads:
//   - `ReadLatest` drains every buffered record in one pass and never blocks.
//     Failures wrap ErrRead.
//   - `ReadSpectrum` requests a spectrum snapshot bounded by the spectrum timeout.
//
// Best Effort:
//   - `Close`, `Scan` and `Recover` log failures and never return them.
//
// The helperproc subpackage provides the subprocess Driver and blescan the
// BLE Scanner.
package device
