package device

import (
	"context"
	"strings"
	"time"

	"github.com/arloliu/radbridge/telemetry"
)

// Mode is the transport used to reach the device.
type Mode string

const (
	ModeBLE Mode = "ble"
	ModeUSB Mode = "usb"
)

// USBDeviceID is the device identifier used when no hardware address is configured.
const USBDeviceID = "radiacode_usb"

// Target identifies the device to connect to.
type Target struct {
	Mode Mode
	// MAC is the BLE hardware address, empty in USB mode.
	MAC string
}

// NewTarget selects BLE mode when mac is non-empty and USB mode otherwise.
func NewTarget(mac string) Target {
	mac = strings.TrimSpace(mac)
	if mac == "" {
		return Target{Mode: ModeUSB}
	}

	return Target{Mode: ModeBLE, MAC: mac}
}

// DeviceID derives the bus identifier: the lowercased MAC without separators,
// or USBDeviceID in USB mode.
func (t Target) DeviceID() string {
	if t.Mode != ModeBLE || t.MAC == "" {
		return USBDeviceID
	}

	return macSeparators.Replace(strings.ToLower(t.MAC))
}

var macSeparators = strings.NewReplacer(":", "", "-", "", ".", "")

// Session is a live device handle.
type Session interface {
	// ReadRecords returns every record buffered since the previous call without blocking.
	ReadRecords() ([]telemetry.Record, error)
	// Spectrum requests a spectrum snapshot from the device.
	Spectrum(ctx context.Context) (*telemetry.Spectrum, error)
	// Close tears the session down.
	Close() error
}

// Driver creates device sessions.
//
// ctx bounds only the connect attempt; drivers must abandon the attempt and
// release its resources once ctx is done.
type Driver interface {
	Connect(ctx context.Context, target Target) (Session, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context, target Target) (Session, error)

func (f DriverFunc) Connect(ctx context.Context, target Target) (Session, error) {
	return f(ctx, target)
}

// Scanner looks for a BLE advertisement from mac for up to d.
type Scanner interface {
	Scan(ctx context.Context, mac string, d time.Duration) (bool, error)
}

// ScannerFunc adapts a function to the Scanner interface.
type ScannerFunc func(ctx context.Context, mac string, d time.Duration) (bool, error)

func (f ScannerFunc) Scan(ctx context.Context, mac string, d time.Duration) (bool, error) {
	return f(ctx, mac, d)
}

// Latest is the outcome of draining a session's buffer once.
type Latest struct {
	// Realtime is the most recent realtime record, nil if none was buffered.
	Realtime *telemetry.RealtimeData
	// Rare is the most recent rare record, nil if none was buffered.
	Rare *telemetry.RareData
	// Histogram counts the drained records by driver type name.
	Histogram map[string]int
}
