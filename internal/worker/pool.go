// Package worker provides a bounded pool of goroutines with per-job
// cancellation, shared by the download manager and the catalog background
// tasks.
package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Job represents a unit of work submitted to the pool
type Job struct {
	ID   string
	Kind string
	// Task is run by RunTask; handlers that look work up by ID may leave it nil
	Task   func(ctx context.Context) error
	ctx    context.Context
	cancel context.CancelFunc
}

// Result represents the result of a job execution
type Result struct {
	JobID   string
	Kind    string
	Success bool
	Error   error
}

// JobHandler is a function that processes a job
type JobHandler func(ctx context.Context, job *Job) error

// RunTask is a JobHandler that runs the job's own Task
func RunTask(ctx context.Context, job *Job) error {
	if job.Task == nil {
		return fmt.Errorf("job %s has no task", job.ID)
	}
	return job.Task(ctx)
}

// WorkerPool manages a fixed number of worker goroutines
type WorkerPool struct {
	maxWorkers int
	queueSize  int
	jobs       chan *Job
	results    chan *Result
	activeJobs sync.Map // map[string]*Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	handler    JobHandler
	logger     *zap.Logger
	mu         sync.RWMutex
	started    bool
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(maxWorkers int, handler JobHandler, logger *zap.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerPool{
		maxWorkers: maxWorkers,
		queueSize:  1024,
		handler:    handler,
		logger:     logger,
	}
}

// Start spawns worker goroutines and begins processing jobs
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool already started")
	}

	if wp.handler == nil {
		return fmt.Errorf("job handler not set")
	}

	wp.ctx, wp.cancel = context.WithCancel(ctx)
	wp.jobs = make(chan *Job, wp.queueSize)
	wp.results = make(chan *Result, wp.maxWorkers*10)

	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i, wp.ctx, wp.jobs, wp.results)
	}

	wp.started = true
	return nil
}

// worker is the main worker goroutine that processes jobs
func (wp *WorkerPool) worker(id int, ctx context.Context, jobs <-chan *Job, results chan<- *Result) {
	defer wp.wg.Done()

	wp.logger.Debug("worker started", zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			wp.logger.Debug("worker shutting down", zap.Int("worker", id), zap.Error(ctx.Err()))
			return

		case job := <-jobs:
			wp.processJob(ctx, job, results)
		}
	}
}

// processJob processes a single job
func (wp *WorkerPool) processJob(ctx context.Context, job *Job, results chan<- *Result) {
	wp.activeJobs.Store(job.ID, job)
	defer wp.activeJobs.Delete(job.ID)

	if job.ctx == nil {
		job.ctx, job.cancel = context.WithCancel(ctx)
	}
	defer job.cancel()

	err := wp.handler(job.ctx, job)

	result := &Result{
		JobID:   job.ID,
		Kind:    job.Kind,
		Success: err == nil,
		Error:   err,
	}

	select {
	case results <- result:
	case <-ctx.Done():
		// shutting down, discard result
	}
}

// Submit queues a job. It blocks while the queue is full.
func (wp *WorkerPool) Submit(job *Job) error {
	wp.mu.RLock()
	if !wp.started {
		wp.mu.RUnlock()
		return fmt.Errorf("worker pool not started")
	}
	ctx := wp.ctx
	jobs := wp.jobs
	wp.mu.RUnlock()

	job.ctx, job.cancel = context.WithCancel(ctx)

	select {
	case jobs <- job:
		return nil
	case <-ctx.Done():
		job.cancel()
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Stop cancels all jobs and waits for the workers to exit
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return
	}
	wp.started = false
	cancel := wp.cancel
	results := wp.results
	wp.mu.Unlock()

	wp.cancelActive()
	cancel()
	wp.wg.Wait()

	close(results)
}

// Results returns the results channel of the current run
func (wp *WorkerPool) Results() <-chan *Result {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.results
}

// CancelJob cancels a specific running job by ID
func (wp *WorkerPool) CancelJob(jobID string) error {
	value, ok := wp.activeJobs.Load(jobID)
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}

	job, ok := value.(*Job)
	if !ok {
		return fmt.Errorf("invalid job type for ID: %s", jobID)
	}

	if job.cancel != nil {
		job.cancel()
	}

	return nil
}

func (wp *WorkerPool) cancelActive() {
	wp.activeJobs.Range(func(key, value interface{}) bool {
		if job, ok := value.(*Job); ok && job.cancel != nil {
			job.cancel()
		}
		return true
	})
}

// GetActiveJobCount returns the number of currently active jobs
func (wp *WorkerPool) GetActiveJobCount() int {
	count := 0
	wp.activeJobs.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// IsJobActive checks if a job is currently active
func (wp *WorkerPool) IsJobActive(jobID string) bool {
	_, ok := wp.activeJobs.Load(jobID)
	return ok
}

// GetMaxWorkers returns the maximum number of workers
func (wp *WorkerPool) GetMaxWorkers() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.maxWorkers
}
