// Package blescan implements the BLE advertisement preflight used before a
// connect attempt.
package blescan

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/arloliu/radbridge/device"
	"github.com/arloliu/radbridge/logger"
)

const stopScanWait = 2 * time.Second

// Scanner scans for a single target address on a bluetooth adapter.
// Scans are serialised; the adapter is enabled on first use.
type Scanner struct {
	adapter *bluetooth.Adapter
	logger  logger.Logger

	mu         sync.Mutex
	enableOnce sync.Once
	enableErr  error
}

var _ device.Scanner = (*Scanner)(nil)

// New returns a Scanner on the system's default adapter.
func New(l logger.Logger) *Scanner {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Scanner{adapter: bluetooth.DefaultAdapter, logger: l}
}

// Scan reports whether mac advertises within d.
func (s *Scanner) Scan(ctx context.Context, mac string, d time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enableOnce.Do(func() {
		s.enableErr = s.adapter.Enable()
	})
	if s.enableErr != nil {
		return false, fmt.Errorf("enable bluetooth adapter: %w", s.enableErr)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	var seen atomic.Bool
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- s.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !matches(result.Address.String(), mac) {
				return
			}
			if seen.CompareAndSwap(false, true) {
				s.logger.Debug("BLE target advertised", "mac", mac, "rssi", result.RSSI, "name", result.LocalName())
				_ = a.StopScan()
			}
		})
	}()

	select {
	case err := <-scanErr:
		if err != nil && !seen.Load() {
			return false, fmt.Errorf("bluetooth scan: %w", err)
		}

		return seen.Load(), nil

	case <-ctx.Done():
		if err := s.adapter.StopScan(); err != nil {
			s.logger.Debug("bluetooth stop scan failed", "error", err)
		}
		select {
		case <-scanErr:
		case <-time.After(stopScanWait):
			s.logger.Warn("bluetooth scan did not stop in time", "mac", mac)
		}

		return seen.Load(), nil
	}
}

func matches(addr, target string) bool {
	return strings.EqualFold(strings.TrimSpace(addr), strings.TrimSpace(target))
}
