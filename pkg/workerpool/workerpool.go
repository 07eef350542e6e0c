// Package workerpool runs submitted jobs on a fixed number of goroutines.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andrej220/autopilot/internal/lg"
)

const (
	TotalMaxWorkers = 10
	queueFactor     = 4
)

var ErrPoolStopped = errors.New("worker pool is stopped")

type JobFunc[T any] func(ctx context.Context, payload T) error

// Job is one unit of work. Only ID is logged; payloads may carry secrets.
type Job[T any] struct {
	ID          string
	Payload     T
	Fn          JobFunc[T]
	Ctx         context.Context
	CleanupFunc func()
}

type Pool[T any] struct {
	jobs          chan Job[T]
	activeWorkers int32
	wg            sync.WaitGroup
	mu            sync.RWMutex
	stopped       bool
	maxWorkers    int
}

func NewPool[T any](maxWorkers int) *Pool[T] {
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	p := &Pool[T]{
		jobs:       make(chan Job[T], maxWorkers*queueFactor),
		maxWorkers: maxWorkers,
	}
	p.wg.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues job, blocking while the queue is full. It fails once the
// pool is stopped or when job.Ctx ends before the job could be queued.
func (p *Pool[T]) Submit(job Job[T]) error {
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		lg.FromContext(job.Ctx).Debug("job submitted", lg.String("job", job.ID))
		return nil
	case <-job.Ctx.Done():
		return job.Ctx.Err()
	}
}

// Stop rejects new jobs and waits for queued ones to finish.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool[T]) run(job Job[T]) {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)
	defer func() {
		if job.CleanupFunc != nil {
			job.CleanupFunc()
		}
	}()
	logger := lg.FromContext(job.Ctx).With(lg.String("job", job.ID))
	logger.Debug("worker started", lg.Int32("workers", atomic.LoadInt32(&p.activeWorkers)))

	if err := p.attempt(job); err != nil {
		logger.Error("job failed", lg.Err(err))
		return
	}
	logger.Debug("job finished")
}

func (p *Pool[T]) attempt(job Job[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	if err := job.Ctx.Err(); err != nil {
		return err
	}
	return job.Fn(job.Ctx, job.Payload)
}

func (p *Pool[T]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}
