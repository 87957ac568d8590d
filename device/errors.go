package device

import "errors"

var (
	// ErrConnectTimeout indicates that a BLE connect exceeded its hard wall-clock timeout.
	ErrConnectTimeout = errors.New("device: connect timeout")

	// ErrConnect indicates a driver-level connect failure.
	ErrConnect = errors.New("device: connect failed")

	// ErrRead indicates a transient read-path failure.
	ErrRead = errors.New("device: read failed")

	// ErrAttemptInFlight indicates that a previously abandoned connect attempt has not finished yet.
	ErrAttemptInFlight = errors.New("device: abandoned connect attempt still in flight")

	// ErrNoSession indicates an operation on a nil session.
	ErrNoSession = errors.New("device: no session")

	// ErrSessionClosed indicates that the session's underlying transport has gone away.
	ErrSessionClosed = errors.New("device: session closed")
)
