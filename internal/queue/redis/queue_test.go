package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestMainQueue_PushPopFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMainQueue(newTestClient(t), "test:")

	for i, id := range []string{"a", "b", "c"} {
		pos, err := q.Push(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), pos)
	}

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depth)

	for _, want := range []string{"a", "b", "c"} {
		got, ok, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestDelayedQueue_PopReadyOrderedByTime(t *testing.T) {
	ctx := context.Background()
	q := NewDelayedQueue(newTestClient(t), "test:")
	now := time.Now()

	require.NoError(t, q.Schedule(ctx, "late", now.Add(-1*time.Second)))
	require.NoError(t, q.Schedule(ctx, "early", now.Add(-10*time.Second)))
	require.NoError(t, q.Schedule(ctx, "future", now.Add(time.Minute)))

	ids, err := q.PopReady(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late"}, ids)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestDelayedQueue_PopReadyRespectsLimit(t *testing.T) {
	ctx := context.Background()
	q := NewDelayedQueue(newTestClient(t), "test:")
	now := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Schedule(ctx, fmt.Sprintf("job-%d", i), now.Add(-time.Duration(5-i)*time.Second)))
	}

	ids, err := q.PopReady(ctx, now, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-0", "job-1"}, ids)
}

func TestDelayedQueue_ScheduleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := NewDelayedQueue(newTestClient(t), "test:")
	now := time.Now()

	require.NoError(t, q.Schedule(ctx, "job", now.Add(time.Minute)))
	require.NoError(t, q.Schedule(ctx, "job", now.Add(-time.Second)))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	ids, err := q.PopReady(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"job"}, ids)
}

func TestDelayedQueue_Cancel(t *testing.T) {
	ctx := context.Background()
	q := NewDelayedQueue(newTestClient(t), "test:")

	require.NoError(t, q.Schedule(ctx, "job", time.Now().Add(time.Minute)))

	removed, err := q.Cancel(ctx, "job")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = q.Cancel(ctx, "job")
	require.NoError(t, err)
	assert.False(t, removed, "second cancel is a no-op")
}

func TestDelayedQueue_CancelVersusPromoteHasOneWinner(t *testing.T) {
	ctx := context.Background()
	q := NewDelayedQueue(newTestClient(t), "test:")
	now := time.Now()

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, q.Schedule(ctx, id, now.Add(-time.Second)))

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
			promoted, _ = q.PopReady(ctx, now, 10)
		}()
		wg.Wait()

		wins := len(promoted)
		if cancelled {
			wins++
		}
		assert.Equal(t, 1, wins, "entry %s must have exactly one winner", id)
	}
}
