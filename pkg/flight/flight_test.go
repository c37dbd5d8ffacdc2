package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGetCoalescesConcurrentCalls(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	c := NewCache(func(_ context.Context, k string) (string, error) {
		runs.Add(1)
		<-release
		return k + "!", nil
	})

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "q")
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	for _, v := range results {
		assert.Equal(t, "q!", v)
	}

	v, err := c.Get(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "q!", v)
	assert.Equal(t, int32(1), runs.Load())
}

func TestErrorsAreNotCached(t *testing.T) {
	var runs int
	c := NewCache(func(context.Context, int) (int, error) {
		runs++
		if runs == 1 {
			return 0, errors.New("boom")
		}
		return runs, nil
	})

	_, err := c.Get(context.Background(), 1)
	require.Error(t, err)
	v, err := c.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestForceAndForget(t *testing.T) {
	var runs int
	c := NewCache(func(context.Context, int) (int, error) {
		runs++
		return runs, nil
	})
	ctx := context.Background()

	v, _ := c.Get(ctx, 7)
	assert.Equal(t, 1, v)
	v, _ = c.Force(ctx, 7)
	assert.Equal(t, 2, v)
	v, _ = c.Get(ctx, 7)
	assert.Equal(t, 2, v)

	c.Forget(7)
	assert.Zero(t, c.Len())
	v, _ = c.Get(ctx, 7)
	assert.Equal(t, 3, v)
}

func TestWaiterHonoursContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	c := NewCache(func(context.Context, string) (string, error) {
		close(started)
		<-release
		return "late", nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Get(context.Background(), "k")
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
}
