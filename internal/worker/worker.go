package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

// Task is a function that represents a background job
type Task func(ctx context.Context) error

type WorkerPool struct {
	taskQueue chan Task
	wg        sync.WaitGroup
	isClosing atomic.Bool // thread-safe value
	log       *zap.Logger

	// held for reading while sending so Shutdown never closes under a sender
	sendMu sync.RWMutex
}

func NewWorkerPool(size int, log *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	wp := &WorkerPool{
		taskQueue: make(chan Task, 1000), // Buffer for 1000 pending tasks
		log:       log,
	}

	// Start the workers
	for range size {
		wp.wg.Add(1) // add to WaitGroup
		go wp.startWorker()
	}

	return wp
}

func (wp *WorkerPool) startWorker() {
	defer wp.wg.Done() // signal when worker finished
	for task := range wp.taskQueue {
		if err := task(context.Background()); err != nil { // run task
			wp.log.Warn("worker task failed", zap.Error(err))
		}
	}
}

// Submit queues a fire-and-forget task. It is dropped when the queue is full.
func (wp *WorkerPool) Submit(t Task) {
	wp.sendMu.RLock()
	defer wp.sendMu.RUnlock()

	if wp.isClosing.Load() {
		wp.log.Warn("task submitted during shutdown, dropping")
		return
	}
	select {
	case wp.taskQueue <- t: // send task to worker pool
	default:
		wp.log.Warn("task queue full, dropping task")
	}
}

// Run executes tasks on the pool and waits for all of them. Unlike Submit it
// blocks for queue space instead of dropping. Errors are joined.
func (wp *WorkerPool) Run(ctx context.Context, tasks ...Task) error {
	errs := make([]error, len(tasks))
	var done sync.WaitGroup

	wp.sendMu.RLock()
	if wp.isClosing.Load() {
		wp.sendMu.RUnlock()
		return ErrPoolClosed
	}
	for i, task := range tasks {
		done.Add(1)
		job := func(context.Context) error {
			defer done.Done()
			errs[i] = task(ctx)
			return nil
		}
		select {
		case wp.taskQueue <- job:
		case <-ctx.Done():
			errs[i] = ctx.Err()
			done.Done()
		}
	}
	wp.sendMu.RUnlock()

	done.Wait()
	return errors.Join(errs...)
}

// Shutdown closes the queue and waits for workers to finish
func (wp *WorkerPool) Shutdown() {
	wp.sendMu.Lock()
	if wp.isClosing.Swap(true) {
		wp.sendMu.Unlock()
		return
	}
	close(wp.taskQueue) // Stop accepting new tasks
	wp.sendMu.Unlock()

	wp.wg.Wait() // Wait for all active workers to finish tasks
}
