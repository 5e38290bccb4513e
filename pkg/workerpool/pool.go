// Package workerpool provides a bounded worker pool for controlled concurrency.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrPoolClosed is returned when submitting to a stopped pool
var ErrPoolClosed = errors.New("worker pool is shut down")

// Task represents a unit of work to be processed
type Task struct {
	ID      string
	Payload interface{}
}

// Result represents the outcome of task processing
type Result struct {
	TaskID   string
	Attempts int
	Error    error
}

// Success reports whether the task completed without error
func (r *Result) Success() bool { return r.Error == nil }

// WorkerFunc processes one task. Errors are retried unless wrapped with
// Permanent.
type WorkerFunc func(ctx context.Context, task *Task) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the task queue
	QueueSize int
	// MaxRetries is the maximum number of retries for failed tasks
	MaxRetries int
	// RetryDelay is the base delay between retries, growing linearly
	RetryDelay time.Duration
	// GracefulShutdownTimeout is the timeout for graceful shutdown
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for per-drug stock checks
func DefaultConfig() Config {
	return Config{
		Workers:                 8,
		QueueSize:               256,
		MaxRetries:              3,
		RetryDelay:              100 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

type job struct {
	ctx    context.Context
	task   *Task
	result chan *Result
}

// Pool manages a pool of workers for concurrent task processing
type Pool struct {
	config     Config
	workerFunc WorkerFunc
	logger     *zap.Logger

	jobs   chan job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc

	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	tasksRetried   int64
	activeWorkers  int64
}

// New creates a new worker pool
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = DefaultConfig().GracefulShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config:     cfg,
		workerFunc: fn,
		logger:     logger,
		jobs:       make(chan job, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit queues a task, blocking while the queue is full. The returned
// channel receives exactly one result.
func (p *Pool) Submit(ctx context.Context, task *Task) (<-chan *Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	j := job{ctx: ctx, task: task, result: make(chan *Result, 1)}
	select {
	case p.jobs <- j:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		return j.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	}
}

// SubmitWait queues a task and waits for its result
func (p *Pool) SubmitWait(ctx context.Context, task *Task) (*Result, error) {
	ch, err := p.Submit(ctx, task)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-ch:
		return result, nil
	}
}

// Run submits every task and waits for all of them. Results are returned in
// task order; the error joins every failed task's error.
func (p *Pool) Run(ctx context.Context, tasks []*Task) ([]*Result, error) {
	pending := make([]<-chan *Result, 0, len(tasks))
	for _, task := range tasks {
		ch, err := p.Submit(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("submit %s: %w", task.ID, err)
		}
		pending = append(pending, ch)
	}

	results := make([]*Result, 0, len(tasks))
	var errs []error
	for _, ch := range pending {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			results = append(results, r)
			if r.Error != nil {
				errs = append(errs, fmt.Errorf("%s: %w", r.TaskID, r.Error))
			}
		}
	}
	return results, errors.Join(errs...)
}

// Stop drains queued tasks and waits for workers up to the shutdown timeout
func (p *Pool) Stop() error {
	p.logger.Info("stopping worker pool")

	// unblock submitters waiting on a full queue before taking the write lock
	p.cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
		return errors.New("worker pool shutdown timed out")
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))
	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	for j := range p.jobs {
		j.result <- p.process(id, j)
	}

	p.logger.Debug("worker stopped", zap.Int("worker_id", id))
}

// process runs a task with linear backoff between retries
func (p *Pool) process(workerID int, j job) *Result {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	result := &Result{TaskID: j.task.ID}

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Error = err
			break
		}

		result.Attempts = attempt + 1
		result.Error = p.workerFunc(ctx, j.task)
		if result.Error == nil || IsPermanent(result.Error) || attempt == p.config.MaxRetries {
			break
		}

		atomic.AddInt64(&p.tasksRetried, 1)
		p.logger.Debug("retrying task",
			zap.String("task_id", j.task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(result.Error))

		t := time.NewTimer(p.config.RetryDelay * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			t.Stop()
			result.Error = ctx.Err()
			attempt = p.config.MaxRetries
		case <-t.C:
		}
	}

	if result.Error == nil {
		atomic.AddInt64(&p.tasksCompleted, 1)
	} else {
		atomic.AddInt64(&p.tasksFailed, 1)
		p.logger.Error("task failed",
			zap.String("task_id", j.task.ID),
			zap.Int("worker_id", workerID),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Error))
	}
	return result
}

// Stats holds pool counters
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksRetried   int64
	ActiveWorkers  int64
	QueueDepth     int
	QueueCapacity  int
	Workers        int
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		TasksRetried:   atomic.LoadInt64(&p.tasksRetried),
		ActiveWorkers:  atomic.LoadInt64(&p.activeWorkers),
		QueueDepth:     len(p.jobs),
		QueueCapacity:  p.config.QueueSize,
		Workers:        p.config.Workers,
	}
}

// IsHealthy returns true while the queue is under 90% full
func (p *Pool) IsHealthy() bool {
	stats := p.Stats()
	return float64(stats.QueueDepth)/float64(stats.QueueCapacity) < 0.9
}
