package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be executed
type Task struct {
	ID string
	Fn func(context.Context) error
}

// WorkerPool runs tasks on a bounded set of goroutines and collects the first
// task error. With FailFast set, that error also cancels the context handed to
// every running and queued task.
type WorkerPool struct {
	name       string
	maxWorkers int
	queueSize  int
	failFast   bool
	taskQueue  chan Task
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup // workers
	pending  sync.WaitGroup // accepted tasks not yet finished
	stopOnce sync.Once
	stopChan chan struct{}

	errMu    sync.Mutex
	firstErr error

	activeWorkers  int32
	totalTasks     uint64
	completedTasks uint64
	failedTasks    uint64
	rejectedTasks  uint64
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	FailFast   bool
	Logger     *zap.Logger
}

// NewWorkerPool creates a worker pool whose tasks run under a child of ctx
func NewWorkerPool(ctx context.Context, cfg *Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	poolCtx, cancel := context.WithCancel(ctx)
	pool := &WorkerPool{
		name:       cfg.Name,
		maxWorkers: cfg.MaxWorkers,
		queueSize:  cfg.QueueSize,
		failFast:   cfg.FailFast,
		taskQueue:  make(chan Task, cfg.QueueSize),
		logger:     cfg.Logger,
		ctx:        poolCtx,
		cancel:     cancel,
		stopChan:   make(chan struct{}),
	}

	for i := 0; i < pool.maxWorkers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	pool.logger.Debug("Worker pool started",
		zap.String("name", pool.name),
		zap.Int("max_workers", pool.maxWorkers),
		zap.Int("queue_size", pool.queueSize))

	return pool
}

// worker is the main worker goroutine
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return

		case task := <-p.taskQueue:
			p.executeTask(id, task)
		}
	}
}

// executeTask executes a single task
func (p *WorkerPool) executeTask(workerID int, task Task) {
	defer p.pending.Done()

	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)

	start := time.Now()
	err := p.safeExecute(task)
	duration := time.Since(start)

	if err != nil {
		atomic.AddUint64(&p.failedTasks, 1)
		p.recordError(err)
		p.logger.Error("Task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.Duration("duration", duration),
			zap.Error(err))
		return
	}

	atomic.AddUint64(&p.completedTasks, 1)
	p.logger.Debug("Task completed",
		zap.String("pool", p.name),
		zap.Int("worker_id", workerID),
		zap.String("task_id", task.ID),
		zap.Duration("duration", duration))
}

// safeExecute executes a task with panic recovery
func (p *WorkerPool) safeExecute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
			p.logger.Error("Task panic recovered",
				zap.String("pool", p.name),
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
		}
	}()

	if err := p.ctx.Err(); err != nil {
		return err
	}
	return task.Fn(p.ctx)
}

func (p *WorkerPool) recordError(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()

	if p.firstErr == nil {
		p.firstErr = err
		if p.failFast {
			p.cancel()
		}
	}
}

// Submit enqueues a task without blocking.
// Returns error if the queue is full or pool is stopped.
func (p *WorkerPool) Submit(task Task) error {
	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	default:
	}

	p.pending.Add(1)
	select {
	case p.taskQueue <- task:
		atomic.AddUint64(&p.totalTasks, 1)
		return nil
	default:
		p.pending.Done()
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("worker pool '%s' queue is full", p.name)
	}
}

// SubmitWithContext blocks until the task is accepted or ctx is canceled
func (p *WorkerPool) SubmitWithContext(ctx context.Context, task Task) error {
	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	default:
	}

	p.pending.Add(1)
	select {
	case <-p.stopChan:
		p.pending.Done()
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	case <-ctx.Done():
		p.pending.Done()
		atomic.AddUint64(&p.rejectedTasks, 1)
		return ctx.Err()
	case p.taskQueue <- task:
		atomic.AddUint64(&p.totalTasks, 1)
		return nil
	}
}

// Wait blocks until every accepted task has finished and returns the first
// task error, if any
func (p *WorkerPool) Wait() error {
	p.pending.Wait()

	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.firstErr
}

// Stop stops the workers, waiting up to timeout for running tasks to return.
// Tasks still queued are dropped.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.cancel()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.drain()
			p.logger.Debug("Worker pool stopped", zap.String("name", p.name))
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
			p.logger.Warn("Worker pool stop timeout", zap.String("name", p.name))
		}
	})
	return err
}

// drain releases tasks that were queued but never picked up by a worker
func (p *WorkerPool) drain() {
	for {
		select {
		case task := <-p.taskQueue:
			atomic.AddUint64(&p.rejectedTasks, 1)
			p.logger.Debug("Dropping queued task",
				zap.String("pool", p.name),
				zap.String("task_id", task.ID))
			p.pending.Done()
		default:
			return
		}
	}
}

// Stats returns current worker pool statistics
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.maxWorkers,
		ActiveWorkers:  int(atomic.LoadInt32(&p.activeWorkers)),
		QueueSize:      p.queueSize,
		QueuedTasks:    len(p.taskQueue),
		TotalTasks:     atomic.LoadUint64(&p.totalTasks),
		CompletedTasks: atomic.LoadUint64(&p.completedTasks),
		FailedTasks:    atomic.LoadUint64(&p.failedTasks),
		RejectedTasks:  atomic.LoadUint64(&p.rejectedTasks),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name           string
	MaxWorkers     int
	ActiveWorkers  int
	QueueSize      int
	QueuedTasks    int
	TotalTasks     uint64
	CompletedTasks uint64
	FailedTasks    uint64
	RejectedTasks  uint64
}

// SuccessRate returns the task success rate as a percentage
func (s Stats) SuccessRate() float64 {
	if s.TotalTasks == 0 {
		return 100.0
	}
	return (float64(s.CompletedTasks) / float64(s.TotalTasks)) * 100.0
}
