package recovery

// Status events published by the controller.
const (
	StatusBLEScan              = "ble_scan"
	StatusConnectingDevice     = "connecting_device"
	StatusDeviceConnected      = "device_connected"
	StatusDeviceConnectTimeout = "device_connect_timeout"
	StatusDeviceConnectFailed  = "device_connect_failed"
	StatusBLEStale             = "ble_stale"
	StatusBLERecovered         = "ble_recovered"
	StatusBLERecoveryFailed    = "ble_recovery_failed"
	StatusExitingForRestart    = "exiting_for_restart"
)

// Notifier receives lifecycle status events. Implementations must not block
// for long and must never fail the caller.
type Notifier interface {
	Notify(status string, keysAndValues ...any)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(status string, keysAndValues ...any)

func (f NotifierFunc) Notify(status string, keysAndValues ...any) {
	f(status, keysAndValues...)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, ...any) {}
