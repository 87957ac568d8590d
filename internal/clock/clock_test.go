package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwait(t *testing.T) {
	require := require.New(t)

	t.Run("Value first", func(t *testing.T) {
		ch := make(chan int, 1)
		ch <- 7
		v, err := Await(context.Background(), ch, time.Second)
		require.NoError(err)
		require.Equal(7, v)
	})

	t.Run("Closed channel", func(t *testing.T) {
		ch := make(chan struct{})
		close(ch)
		_, err := Await(context.Background(), ch, time.Second)
		require.NoError(err)
	})

	t.Run("Timeout", func(t *testing.T) {
		_, err := Await(context.Background(), make(chan int), 10*time.Millisecond)
		require.ErrorIs(err, ErrWaitTimeout)
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Await(ctx, make(chan int), time.Second)
		require.ErrorIs(err, context.Canceled)
	})

	t.Run("Pooled timers reused concurrently", func(t *testing.T) {
		assert := assert.New(t)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := Await(context.Background(), make(chan int), 5*time.Millisecond)
				assert.ErrorIs(err, ErrWaitTimeout)
			}()
		}
		wg.Wait()

		// a released timer that already fired must not leak into the next wait
		ch := make(chan int, 1)
		ch <- 1
		_, err := Await(context.Background(), ch, time.Second)
		assert.NoError(err)
	})
}

func TestRealClock(t *testing.T) {
	require := require.New(t)

	t.Run("Sleep waits", func(t *testing.T) {
		c := Real()
		start := time.Now()
		require.NoError(c.Sleep(context.Background(), 20*time.Millisecond))
		require.GreaterOrEqual(time.Since(start), 20*time.Millisecond)
	})

	t.Run("Sleep is cancellable", func(t *testing.T) {
		c := Real()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := c.Sleep(ctx, 5*time.Second)
		require.ErrorIs(err, context.DeadlineExceeded)
		require.Less(time.Since(start), time.Second)
	})

	t.Run("Non-positive duration returns immediately", func(t *testing.T) {
		require.NoError(Real().Sleep(context.Background(), 0))
	})
}

func TestFakeClock(t *testing.T) {
	require := require.New(t)

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)
	require.Equal(start, f.Now())

	require.NoError(f.Sleep(context.Background(), 2*time.Second))
	require.NoError(f.Sleep(context.Background(), 4*time.Second))
	require.Equal(start.Add(6*time.Second), f.Now())
	require.Equal([]time.Duration{2 * time.Second, 4 * time.Second}, f.Sleeps())

	f.Advance(time.Minute)
	require.Equal(start.Add(66*time.Second), f.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(f.Sleep(ctx, time.Second), context.Canceled)
	require.Len(f.Sleeps(), 2)

	f.ResetSleeps()
	require.Empty(f.Sleeps())
}
