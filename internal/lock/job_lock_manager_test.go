package lock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/RezaEskandarii/shotfire/internal/store/memory"
	"github.com/RezaEskandarii/shotfire/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLockManager_ConcurrentTryLock(t *testing.T) {
	s := memory.NewJobStore()
	job, err := s.Create(context.Background(), types.NewJob("o", types.RenderRequest{URL: "https://example.com"}, 3))
	require.NoError(t, err)

	mgr := NewJobLockManager(s, nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			if _, ok, _ := mgr.TryLock(context.Background(), job.ID, owner); ok {
				wins.Add(1)
			}
		}(fmt.Sprintf("w-%d", i))
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestJobLockManager_UnlockTwiceIsNoop(t *testing.T) {
	s := memory.NewJobStore()
	ctx := context.Background()
	job, _ := s.Create(ctx, types.NewJob("o", types.RenderRequest{URL: "https://example.com"}, 3))
	mgr := NewJobLockManager(s, nil)

	_, ok, err := mgr.TryLock(ctx, job.ID, "w1")
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, mgr.Unlock(ctx, job.ID, "w1"))
	assert.NoError(t, mgr.Unlock(ctx, job.ID, "w1"))

	_, ok, err = mgr.TryLock(ctx, job.ID, "w2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJobLockManager_ForceUnlock(t *testing.T) {
	s := memory.NewJobStore()
	ctx := context.Background()
	job, _ := s.Create(ctx, types.NewJob("o", types.RenderRequest{URL: "https://example.com"}, 3))
	mgr := NewJobLockManager(s, nil)

	_, _, _ = mgr.TryLock(ctx, job.ID, "w1")
	released, err := mgr.ForceUnlock(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = mgr.ForceUnlock(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, released)
}
