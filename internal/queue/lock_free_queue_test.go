package queue

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type msgItem struct {
	Data string
}

func TestLockFreeQueue(t *testing.T) {
	assert := assert.New(t)

	t.Run("Empty Queue", func(t *testing.T) {
		q := NewLockFreeQueue[*msgItem]()

		assert.Empty(q.Drain())
	})

	t.Run("Enqueue and Drain", func(t *testing.T) {
		q := NewLockFreeQueue[*msgItem]()

		item1 := &msgItem{"data1"}
		item2 := &msgItem{"data2"}
		q.Enqueue(item1)
		q.Enqueue(item2)

		got := q.Drain()
		assert.Len(got, 2)
		assert.Same(item1, got[0])
		assert.Same(item2, got[1])
		assert.Empty(q.Drain())

		q.Enqueue(item1)
		assert.Equal([]*msgItem{item1}, q.Drain())
	})

	t.Run("Drain keeps order", func(t *testing.T) {
		q := NewLockFreeQueue[int]()
		for i := 0; i < 5; i++ {
			q.Enqueue(i)
		}

		assert.Equal([]int{0, 1, 2, 3, 4}, q.Drain())
		assert.Empty(q.Drain())
	})

	t.Run("Concurrency", func(t *testing.T) {
		q := NewLockFreeQueue[*msgItem]()

		var wg sync.WaitGroup
		for i := 0; i < 1000; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				q.Enqueue(&msgItem{strconv.Itoa(i)})
			}(i)
		}
		wg.Wait()

		items := q.Drain()
		assert.Len(items, 1000)

		seen := make([]int, 0, len(items))
		for _, item := range items {
			n, err := strconv.Atoi(item.Data)
			assert.NoError(err)
			seen = append(seen, n)
		}
		sort.Ints(seen)
		for i, n := range seen {
			assert.Equal(i, n)
		}
		assert.Empty(q.Drain())
	})
}

func BenchmarkLockFreeQueue_100(b *testing.B) {
	benchLockFreeQueue(b, 100)
}

func BenchmarkChannelBuffered_100(b *testing.B) {
	benchChannel(b, 100)
}

func benchLockFreeQueue(b *testing.B, iterCount int) {
	ctx := context.Background()
	q := NewLockFreeQueue[int]()

	b.ResetTimer()
	for i := 0; i <= b.N; i++ {
		stopCh := make(chan struct{})
		go func(ctx context.Context, q Queue[int]) {
			for {
				select {
				case <-ctx.Done():
					return
				default:
					for _, item := range q.Drain() {
						if item == iterCount {
							close(stopCh)
							return
						}
					}
				}
			}
		}(ctx, q)

		for i := 0; i < iterCount; i++ {
			q.Enqueue(i + 1)
		}
		<-stopCh
	}
	b.StopTimer()
}

func benchChannel(b *testing.B, iterCount int) {
	input := make(chan int, iterCount)
	b.ResetTimer()
	for i := 0; i <= b.N; i++ {
		stopCh := make(chan struct{})
		go func() {
			for data := range input {
				if data == iterCount {
					close(stopCh)
					return
				}
			}
		}()

		for i := 0; i < iterCount; i++ {
			input <- (i + 1)
		}
		<-stopCh
	}
	b.StopTimer()
}
