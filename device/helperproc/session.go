package helperproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/arloliu/radbridge/device"
	"github.com/arloliu/radbridge/internal/clock"
	"github.com/arloliu/radbridge/internal/queue"
	"github.com/arloliu/radbridge/logger"
	"github.com/arloliu/radbridge/telemetry"
)

const maxLineSize = 4 << 20

type session struct {
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	closeTimeout time.Duration
	logger       logger.Logger

	records    queue.Queue[telemetry.Record]
	spectrumCh chan *telemetry.Spectrum

	connected     chan struct{}
	connectedOnce sync.Once
	connectErr    chan string

	exited  chan struct{}
	exitErr error

	mu         sync.Mutex
	pendingErr error

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ device.Session = (*session)(nil)

func newSession(cmd *exec.Cmd, stdin io.WriteCloser, closeTimeout time.Duration, l logger.Logger) *session {
	return &session{
		cmd:          cmd,
		stdin:        stdin,
		closeTimeout: closeTimeout,
		logger:       l,
		records:      queue.NewLockFreeQueue[telemetry.Record](),
		spectrumCh:   make(chan *telemetry.Spectrum, 1),
		connected:    make(chan struct{}),
		connectErr:   make(chan string, 1),
		exited:       make(chan struct{}),
	}
}

// readLoop consumes helper stdout until EOF, then reaps the process.
func (s *session) readLoop(r io.Reader) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("helper reader panicked", "panic", rec)
			_, _ = io.Copy(io.Discard, r)
		}
		s.exitErr = s.cmd.Wait()
		close(s.exited)
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		s.handleLine(scanner.Bytes())
	}

	if err := scanner.Err(); err != nil {
		s.logger.Warn("helper stdout read failed", "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

func (s *session) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}

	h, rec, err := decodeLine(line, time.Now())
	if err != nil {
		s.logger.Debug("skipping malformed helper line", "error", err)
		return
	}

	switch h.Type {
	case TypeConnected:
		s.connectedOnce.Do(func() { close(s.connected) })

	case TypeError:
		if !s.isConnected() {
			select {
			case s.connectErr <- h.Error:
			default:
			}

			return
		}
		s.logger.Warn("helper reported error", "error", h.Error)
		s.mu.Lock()
		s.pendingErr = errors.New(h.Error)
		s.mu.Unlock()

	case TypeSpectrum:
		// keep only the newest snapshot
		select {
		case <-s.spectrumCh:
		default:
		}
		s.spectrumCh <- rec.Spectrum

	default:
		s.records.Enqueue(rec)
	}
}

func (s *session) isConnected() bool {
	select {
	case <-s.connected:
		return true
	default:
		return false
	}
}

func (s *session) isExited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

// exitError is only valid after exited is closed.
func (s *session) exitError() error {
	if s.exitErr == nil {
		return errors.New("exit status 0")
	}

	return s.exitErr
}

// ReadRecords reports a pending helper error before draining, so records
// buffered alongside the error stay queued for the next call.
func (s *session) ReadRecords() ([]telemetry.Record, error) {
	s.mu.Lock()
	err := s.pendingErr
	s.pendingErr = nil
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	records := s.records.Drain()
	if len(records) == 0 && s.isExited() {
		return nil, fmt.Errorf("%w: %w", device.ErrSessionClosed, s.exitError())
	}

	return records, nil
}

func (s *session) Spectrum(ctx context.Context) (*telemetry.Spectrum, error) {
	select {
	case <-s.spectrumCh:
	default:
	}

	if err := s.send(CmdSpectrum); err != nil {
		return nil, err
	}

	select {
	case spec := <-s.spectrumCh:
		return spec, nil
	case <-s.exited:
		return nil, device.ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *session) send(cmd string) error {
	b, err := encodeRequest(cmd)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.stdin.Write(b); err != nil {
		return fmt.Errorf("write helper request: %w", err)
	}

	return nil
}

// Close asks the helper to exit by closing its stdin and kills it if it does not.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.stdin.Close()
		s.writeMu.Unlock()

		if s.waitExit(s.closeTimeout) {
			return
		}

		s.logger.Debug("helper did not exit, killing")
		s.kill()
		if !s.waitExit(s.closeTimeout) {
			s.closeErr = errors.New("helper did not exit after kill")
		}
	})

	return s.closeErr
}

func (s *session) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (s *session) waitExit(timeout time.Duration) bool {
	_, err := clock.Await(context.Background(), s.exited, timeout)

	return err == nil
}
