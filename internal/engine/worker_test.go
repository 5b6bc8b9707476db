package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/pkg/schema"
)

func TestWorkerPool_ConcurrencyLimit(t *testing.T) {
	pool := NewWorkerPool(3)
	defer pool.Close()

	var current, peak int64
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
			c := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if c <= p || atomic.CompareAndSwapInt64(&peak, p, c) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		}))
	}
	pool.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(3))
	assert.Positive(t, atomic.LoadInt64(&peak))
	assert.Equal(t, int64(10), pool.Metrics().Completed)
	assert.Equal(t, 3, pool.Metrics().Size)
}

func TestWorkerPool_Backpressure(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	started := make(chan struct{})
	block := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started

	submitted := make(chan struct{})
	go func() {
		_ = pool.Submit(context.Background(), func(context.Context) error { return nil })
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("second submit should block while the pool is full")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("second submit did not unblock")
	}
	pool.Wait()
}

func TestWorkerPool_PanicRecovery(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		panic("agent exploded")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(1), m.Failed)

	var ran atomic.Bool
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	pool.Wait()
	assert.True(t, ran.Load())
}

func TestWorkerPool_SubmitCancelled(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	block := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.Submit(ctx, func(context.Context) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("submit did not return after cancellation")
	}
	close(block)
}

func TestWorkerPool_Close(t *testing.T) {
	pool := NewWorkerPool(2)

	var completed int64
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&completed, 1)
			return nil
		}))
	}
	pool.Close()
	pool.Close()
	pool.Wait()
	assert.Equal(t, int64(5), atomic.LoadInt64(&completed))

	err := pool.Submit(context.Background(), func(context.Context) error { return nil })
	assert.True(t, schema.HasCode(err, schema.ErrCodeShutdown))
}

func TestWorkerPool_Metrics(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return nil }))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return errors.New("tool failed") }))
	}
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(3), m.Completed)
	assert.Equal(t, int64(2), m.Failed)
	assert.Zero(t, m.Active)
}

func TestWorkerPool_MetricsByAgent(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	onAgent := func(at schema.AgentType) context.Context {
		return logging.WithAgentType(context.Background(), string(at))
	}
	require.NoError(t, pool.Submit(onAgent(dc), func(context.Context) error { return nil }))
	require.NoError(t, pool.Submit(onAgent(dc), func(context.Context) error { return errors.New("tool failed") }))
	require.NoError(t, pool.Submit(onAgent(loy), func(context.Context) error { panic("loyalty exploded") }))
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return nil }))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(2), m.Completed)
	assert.Equal(t, int64(2), m.Failed)
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, map[schema.AgentType]TaskCounts{
		dc:  {Completed: 1, Failed: 1},
		loy: {Failed: 1, Panics: 1},
	}, m.ByAgent)
}
