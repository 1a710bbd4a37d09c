// Package pool provides goroutine pool for controlled concurrency.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned for submissions after Close.
var ErrPoolClosed = errors.New("pool is closed")

// Task represents a unit of work.
type Task func(ctx context.Context) error

// GoroutinePool runs tasks on at most MaxWorkers goroutines at a time.
// Submission blocks until a worker slot is free, so callers control
// admission order.
type GoroutinePool struct {
	slots  chan struct{}
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	activeCount atomic.Int32
	peakActive  atomic.Int32

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	panicHandler func(any)
}

// GoroutinePoolConfig configures the pool.
type GoroutinePoolConfig struct {
	MaxWorkers   int       `json:"max_workers"`
	PanicHandler func(any) `json:"-"`
}

// NewGoroutinePool creates a new goroutine pool.
func NewGoroutinePool(config GoroutinePoolConfig) *GoroutinePool {
	if config.MaxWorkers < 1 {
		config.MaxWorkers = 1
	}
	return &GoroutinePool{
		slots:        make(chan struct{}, config.MaxWorkers),
		panicHandler: config.PanicHandler,
	}
}

// SubmitWait waits for a free worker slot, runs task on it and returns the
// task's error. A cancelled ctx while waiting rejects the task.
func (p *GoroutinePool) SubmitWait(ctx context.Context, task Task) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	p.submitted.Add(1)

	if err := ctx.Err(); err != nil {
		p.rejected.Add(1)
		p.wg.Done()
		return err
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		p.rejected.Add(1)
		p.wg.Done()
		return ctx.Err()
	}

	result := make(chan error, 1)
	go p.worker(ctx, task, result)
	return <-result
}

func (p *GoroutinePool) worker(ctx context.Context, task Task, result chan<- error) {
	defer p.wg.Done()
	defer func() { <-p.slots }()

	active := p.activeCount.Add(1)
	for {
		peak := p.peakActive.Load()
		if active <= peak || p.peakActive.CompareAndSwap(peak, active) {
			break
		}
	}
	err := p.executeTask(ctx, task)
	p.activeCount.Add(-1)

	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
	result <- err
}

func (p *GoroutinePool) executeTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return task(ctx)
}

// Close rejects new tasks and waits for running ones to finish.
func (p *GoroutinePool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:    cap(p.slots),
		Active:     int(p.activeCount.Load()),
		PeakActive: int(p.peakActive.Load()),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Rejected:   p.rejected.Load(),
	}
}

// GoroutinePoolStats contains pool statistics.
type GoroutinePoolStats struct {
	Workers    int   `json:"workers"`
	Active     int   `json:"active"`
	PeakActive int   `json:"peak_active"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Rejected   int64 `json:"rejected"`
}
