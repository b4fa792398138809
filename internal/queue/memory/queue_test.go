package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMainQueue_PopTimesOutWhenEmpty(t *testing.T) {
	q := NewMainQueue()

	start := time.Now()
	_, ok, err := q.Pop(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMainQueue_PopWakesOnPush(t *testing.T) {
	q := NewMainQueue()
	ctx := context.Background()

	got := make(chan string, 1)
	go func() {
		id, _, _ := q.Pop(ctx, 5*time.Second)
		got <- id
	}()

	time.Sleep(10 * time.Millisecond)
	pos, err := q.Push(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos)

	select {
	case id := <-got:
		assert.Equal(t, "job-1", id)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestMainQueue_PopHonoursContext(t *testing.T) {
	q := NewMainQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := q.Pop(ctx, time.Minute)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMainQueue_ConcurrentConsumersSeeEachIDOnce(t *testing.T) {
	q := NewMainQueue()
	ctx := context.Background()
	const n = 200
	for i := 0; i < n; i++ {
		_, _ = q.Push(ctx, fmt.Sprintf("job-%d", i))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, ok, _ := q.Pop(ctx, 10*time.Millisecond)
				if !ok {
					return
				}
				mu.Lock()
				seen[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, c := range seen {
		assert.Equal(t, 1, c, id)
	}
}

func TestDelayedQueue_PopReadyAndCancel(t *testing.T) {
	q := NewDelayedQueue()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Schedule(ctx, "b", now.Add(-time.Second)))
	require.NoError(t, q.Schedule(ctx, "a", now.Add(-2*time.Second)))
	require.NoError(t, q.Schedule(ctx, "c", now.Add(time.Hour)))

	removed, err := q.Cancel(ctx, "c")
	require.NoError(t, err)
	assert.True(t, removed)

	ids, err := q.PopReady(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	removed, err = q.Cancel(ctx, "a")
	require.NoError(t, err)
	assert.False(t, removed)

	depth, _ := q.Depth(ctx)
	assert.Equal(t, int64(0), depth)
}

func TestDelayedQueue_CancelVersusPromoteHasOneWinner(t *testing.T) {
	q := NewDelayedQueue()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, q.Schedule(ctx, id, now))

		var wg sync.WaitGroup
		var cancelled bool
		var promoted []string
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancelled, _ = q.Cancel(ctx, id)
		}()
		go func() {
			defer wg.Done()
			promoted, _ = q.PopReady(ctx, now, 1)
		}()
		wg.Wait()

		wins := len(promoted)
		if cancelled {
			wins++
		}
		assert.Equal(t, 1, wins)
	}
}
