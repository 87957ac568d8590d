package clock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWaitTimeout is returned by Await when the bound elapses first.
var ErrWaitTimeout = errors.New("clock: wait timed out")

// Await blocks until ch delivers a value (or is closed), d elapses, or ctx is
// done. It returns ErrWaitTimeout on expiry and ctx.Err() on cancellation.
//
// Await always runs on wall-clock time; it bounds real goroutines and
// subprocesses that a Fake clock cannot drive.
func Await[T any](ctx context.Context, ch <-chan T, d time.Duration) (T, error) {
	var zero T

	timer := acquireTimer(d)
	defer releaseTimer(timer)

	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return zero, ErrWaitTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

var timerPool sync.Pool

func acquireTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer)
		if t.Reset(d) {
			// stale fire from a previous owner
			select {
			case <-t.C:
			default:
			}
		}

		return t
	}

	return time.NewTimer(d)
}

// releaseTimer stops t and returns it to the pool. t must not be used afterwards.
func releaseTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}
