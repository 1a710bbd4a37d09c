package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutinePool_BoundsConcurrency(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 3})
	defer p.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.SubmitWait(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			}))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	stats := p.Stats()
	assert.Equal(t, 3, stats.Workers)
	assert.Equal(t, int64(20), stats.Submitted)
	assert.Equal(t, int64(20), stats.Completed)
	assert.LessOrEqual(t, stats.PeakActive, 3)
	assert.Equal(t, 0, stats.Active)
}

func TestGoroutinePool_SubmitWait(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1})
	defer p.Close()

	boom := errors.New("boom")
	err := p.SubmitWait(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestGoroutinePool_SubmitWaitHonoursContext(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1})
	defer p.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- p.SubmitWait(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.SubmitWait(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(release)
	require.NoError(t, <-done)
}

func TestGoroutinePool_PanicRecovered(t *testing.T) {
	var recovered atomic.Value
	p := NewGoroutinePool(GoroutinePoolConfig{
		MaxWorkers:   2,
		PanicHandler: func(r any) { recovered.Store(r) },
	})
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(context.Context) error { panic("kaboom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, "kaboom", recovered.Load())
}

func TestGoroutinePool_Closed(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 0})
	assert.Equal(t, 1, p.Stats().Workers)
	p.Close()
	p.Close()

	err := p.SubmitWait(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}
