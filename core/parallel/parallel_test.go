package parallel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

func TestResolveNJobs(t *testing.T) {
	cpus := runtime.NumCPU()
	assert.Equal(t, 3, ResolveNJobs(3))
	assert.Equal(t, cpus, ResolveNJobs(-1))
	assert.Equal(t, max(cpus-1, 1), ResolveNJobs(-2))
	assert.Equal(t, 1, ResolveNJobs(-cpus-10))
	assert.Equal(t, 1, ResolveNJobs(0))
}

func TestParallelizeCoversEveryItemOnce(t *testing.T) {
	for _, nJobs := range []int{1, 2, 3, -1, 100} {
		counts := make([]int32, 257)
		Parallelize(len(counts), nJobs, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&counts[i], 1)
			}
		})
		for i, c := range counts {
			require.Equal(t, int32(1), c, "nJobs=%d item=%d", nJobs, i)
		}
	}
}

func TestParallelizeWithThresholdRunsSequentially(t *testing.T) {
	var calls int
	ParallelizeWithThreshold(10, 100, -1, func(start, end int) {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 10, end)
	})
	assert.Equal(t, 1, calls)

	Parallelize(0, 4, func(start, end int) { t.Fatal("must not be called") })
}

func TestRunRespectsLimit(t *testing.T) {
	var running, peak int32
	err := Run(context.Background(), 2, 20, func(ctx context.Context, i int) error {
		cur := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRunStopsOnFirstError(t *testing.T) {
	boom := errors.New("class 3 failed")
	var started int32
	err := Run(context.Background(), 1, 10, func(ctx context.Context, i int) error {
		atomic.AddInt32(&started, 1)
		if i == 3 {
			return boom
		}
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, int32(4), atomic.LoadInt32(&started), "no task starts after the failure with one worker")
}

func TestRunCancelsSiblings(t *testing.T) {
	var mu sync.Mutex
	var ready sync.WaitGroup
	ready.Add(3)
	cancelled := 0
	err := Run(context.Background(), 4, 4, func(ctx context.Context, i int) error {
		if i == 0 {
			ready.Wait()
			return errors.New("fail fast")
		}
		ready.Done()
		select {
		case <-ctx.Done():
			mu.Lock()
			cancelled++
			mu.Unlock()
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail fast")
	assert.Equal(t, 3, cancelled)
}

func TestRunConvertsPanics(t *testing.T) {
	err := Run(context.Background(), 2, 3, func(ctx context.Context, i int) error {
		if i == 1 {
			panic("kernel exploded")
		}
		return nil
	})
	var pe *errors.PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "kernel exploded", pe.PanicValue)
}

func TestRunParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, 2, 5, func(ctx context.Context, i int) error { return nil })
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMapOrdersByIndex(t *testing.T) {
	got, err := Map(context.Background(), -1, 50, func(ctx context.Context, i int) (int, error) {
		// 後ろの添字ほど早く終わる
		time.Sleep(time.Duration(50-i) * 10 * time.Microsecond)
		return i * i, nil
	})
	require.NoError(t, err)
	for i, v := range got {
		assert.Equal(t, i*i, v)
	}
}

func TestMapDiscardsPartialResults(t *testing.T) {
	got, err := Map(context.Background(), 2, 5, func(ctx context.Context, i int) (string, error) {
		if i == 4 {
			return "", errors.New("last failed")
		}
		return "ok", nil
	})
	assert.Error(t, err)
	assert.Nil(t, got)
}
