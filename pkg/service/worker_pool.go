package service

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
)

// ErrPoolStopped is returned by Submit after ShutdownNow.
var ErrPoolStopped = errors.New("worker pool is stopped")

// ErrPoolBusy is returned by Submit when the queue is full.
var ErrPoolBusy = errors.New("worker pool queue is full")

// Job is one unit of work. The context passed in is cancelled by
// ShutdownNow so in-flight jobs can observe interruption.
type Job func(ctx context.Context)

// WorkerPool executes submitted jobs on a bounded set of goroutines. It is
// created once at process start; shutdown is immediate and best-effort:
// queued jobs are abandoned and in-flight jobs see their context cancelled.
type WorkerPool struct {
	jobs    chan Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  Logger
	mu      sync.Mutex
	stopped bool
}

func NewWorkerPool(mainCtx context.Context, logger Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(mainCtx)
	return &WorkerPool{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Start begins the worker pool with the specified number of workers
func (wp *WorkerPool) Start(workers int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	wp.jobs = make(chan Job, workers)
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// Submit queues a job without blocking the caller.
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		return ErrPoolStopped
	}
	select {
	case wp.jobs <- job:
		return nil
	default:
		return ErrPoolBusy
	}
}

// ShutdownNow cancels the pool context and stops accepting work. Queued jobs
// are dropped and running jobs are interrupted through their context; the
// pool does not wait for them to drain.
func (wp *WorkerPool) ShutdownNow() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.cancel()
	wp.logger.Infof("Worker pool shut down")
}

// Wait blocks until all workers have exited. Useful after ShutdownNow when
// the process wants to observe that no goroutines leak past teardown.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for {
		select {
		case <-wp.ctx.Done():
			return
		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			if wp.ctx.Err() != nil {
				return
			}
			job(wp.ctx)
		}
	}
}
