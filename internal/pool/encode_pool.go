// Package pool provides the bounded worker pool behind parallel image
// encoding. The worker count is a hard ceiling on simultaneous encode
// operations; submissions beyond it queue rather than spawn.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("encode pool is closed")
	ErrQueueFull  = errors.New("encode queue is full")
)

// Job is one unit of encode work. It must honor ctx cancellation.
type Job func(ctx context.Context) error

// Config configures an EncodePool.
type Config struct {
	// Workers is the hard ceiling on simultaneous jobs.
	Workers int `json:"workers"`

	// QueueSize bounds the number of jobs waiting for a worker.
	QueueSize int `json:"queue_size"`
}

// DefaultConfig returns sensible defaults sized for image encoding on a
// typical client machine.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 256}
}

// EncodePool runs jobs on a fixed set of worker goroutines.
type EncodePool struct {
	queue  chan job
	wg     sync.WaitGroup
	closed atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

type job struct {
	ctx    context.Context
	fn     Job
	result chan error
}

// New creates an EncodePool and starts its workers.
func New(config Config) *EncodePool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}

	p := &EncodePool{queue: make(chan job, config.QueueSize)}
	p.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues fn and waits for it to run to completion, fail, or be
// cancelled through ctx. Cancellation is propagated into the job.
func (p *EncodePool) Submit(ctx context.Context, fn Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case p.queue <- j:
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		// The job observes the same ctx and stops on its own; the caller
		// does not wait for it.
		return ctx.Err()
	}
}

// TrySubmit enqueues fn without waiting for completion. It fails fast
// with ErrQueueFull instead of blocking the caller.
func (p *EncodePool) TrySubmit(ctx context.Context, fn Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	j := job{ctx: ctx, fn: fn, result: nil}
	select {
	case p.queue <- j:
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

func (p *EncodePool) worker() {
	defer p.wg.Done()

	for j := range p.queue {
		var err error
		if j.ctx.Err() != nil {
			err = j.ctx.Err()
		} else {
			err = p.run(j)
		}

		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		if j.result != nil {
			j.result <- err
			close(j.result)
		}
	}
}

func (p *EncodePool) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("encode job panicked: %v", r)
		}
	}()
	return j.fn(j.ctx)
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

// GetStats returns the current counter values.
func (p *EncodePool) GetStats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Close stops accepting jobs and waits for in-flight work to drain.
func (p *EncodePool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
}
