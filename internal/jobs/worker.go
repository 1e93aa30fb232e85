package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/consultia/billing-api/pkg/logger"
)

// Job is a unit of background work
type Job func(ctx context.Context) error

// Worker runs queued jobs on a fixed pool and named sweeps on tickers.
// Billing sweeps (overdue derivation, recurring generation, gateway sync)
// are registered through ScheduleEvery so their runs show up by name in
// the logs and stats.
type Worker struct {
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	queue         chan Job
	asyncSem      chan struct{}
	maxConcurrent int

	mu       sync.RWMutex
	stats    WorkerStats
	lastRuns map[string]time.Time
}

// WorkerStats is the point-in-time view exposed on the health endpoint
type WorkerStats struct {
	ActiveJobs    int                  `json:"active_jobs"`
	CompletedJobs int64                `json:"completed_jobs"`
	FailedJobs    int64                `json:"failed_jobs"`
	QueueLength   int                  `json:"queue_length"`
	MaxConcurrent int                  `json:"max_concurrent"`
	LastSweepRuns map[string]time.Time `json:"last_sweep_runs,omitempty"`
}

// NewWorker creates a worker with numWorkers queue processors. Async
// fire-and-forget jobs get twice that concurrency, with a floor of 10.
func NewWorker(numWorkers int) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	asyncLimit := numWorkers * 2
	if asyncLimit < 10 {
		asyncLimit = 10
	}

	w := &Worker{
		ctx:           ctx,
		cancel:        cancel,
		queue:         make(chan Job, 100),
		asyncSem:      make(chan struct{}, asyncLimit),
		maxConcurrent: asyncLimit,
		lastRuns:      make(map[string]time.Time),
	}

	for i := 0; i < numWorkers; i++ {
		w.wg.Add(1)
		go w.process(i)
	}

	return w
}

// Enqueue hands a job to the pool. A full queue falls back to running
// the job inline so money-moving side effects are never dropped.
func (w *Worker) Enqueue(job Job) {
	select {
	case w.queue <- job:
	default:
		logger.Warn("[Worker] Queue full, running job synchronously")
		if err := job(w.ctx); err != nil {
			logger.Error(fmt.Sprintf("[Worker] Job error: %v", err))
		}
	}
}

// EnqueueAsync runs a job in its own goroutine, bounded by a semaphore.
// Used for notification and email fan-out after a commit.
func (w *Worker) EnqueueAsync(job Job) {
	go func() {
		w.asyncSem <- struct{}{}
		defer func() { <-w.asyncSem }()

		w.wg.Add(1)
		defer w.wg.Done()

		w.trackJobStart()
		defer w.trackJobEnd()

		defer func() {
			if r := recover(); r != nil {
				logger.Error(fmt.Sprintf("[Worker] Async job panic: %v", r))
				w.trackJobFailure()
			}
		}()

		if err := job(w.ctx); err != nil {
			logger.Error(fmt.Sprintf("[Worker] Async job error: %v", err))
			w.trackJobFailure()
		}
	}()
}

func (w *Worker) process(workerID int) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case job, ok := <-w.queue:
			if !ok {
				return
			}
			w.trackJobStart()
			start := time.Now()
			if err := job(w.ctx); err != nil {
				logger.Error(fmt.Sprintf("[Worker %d] Job error: %v", workerID, err))
				w.trackJobFailure()
			} else {
				logger.Info(fmt.Sprintf("[Worker %d] Job completed in %v", workerID, time.Since(start)))
			}
			w.trackJobEnd()
		}
	}
}

// ScheduleEvery runs a named sweep at fixed intervals. The first run
// waits a full interval, so a restart never double-fires a sweep that
// just ran.
func (w *Worker) ScheduleEvery(name string, interval time.Duration, job Job) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.runSweep(name, job)
			}
		}
	}()
}

// ScheduleEveryImmediate runs the sweep once at startup, then at fixed
// intervals. The recurring-invoice generator uses this so a redeploy on
// a billing date still issues that day's invoices.
func (w *Worker) ScheduleEveryImmediate(name string, interval time.Duration, job Job) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runSweep(name, job)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.runSweep(name, job)
			}
		}
	}()
}

func (w *Worker) runSweep(name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Sprintf("[Sweep %s] panic: %v", name, r))
			w.trackJobFailure()
			w.trackJobEnd()
		}
	}()

	w.trackJobStart()
	w.mu.Lock()
	w.lastRuns[name] = time.Now()
	w.mu.Unlock()

	start := time.Now()
	if err := job(w.ctx); err != nil {
		logger.Error(fmt.Sprintf("[Sweep %s] error: %v", name, err))
		w.trackJobFailure()
	} else {
		logger.Info(fmt.Sprintf("[Sweep %s] completed in %v", name, time.Since(start)))
	}
	w.trackJobEnd()
}

// Shutdown stops accepting work and waits for in-flight jobs
func (w *Worker) Shutdown() {
	w.cancel()
	close(w.queue)
	w.wg.Wait()
}

// Context returns the worker's context for checking cancellation
func (w *Worker) Context() context.Context {
	return w.ctx
}

// GetStats returns a snapshot of the worker counters
func (w *Worker) GetStats() WorkerStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	stats := w.stats
	stats.QueueLength = len(w.queue)
	stats.MaxConcurrent = w.maxConcurrent
	stats.LastSweepRuns = make(map[string]time.Time, len(w.lastRuns))
	for name, t := range w.lastRuns {
		stats.LastSweepRuns[name] = t
	}
	return stats
}

func (w *Worker) trackJobStart() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.ActiveJobs++
}

// trackJobEnd counts every finished job; FailedJobs is the subset that errored
func (w *Worker) trackJobEnd() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.ActiveJobs--
	w.stats.CompletedJobs++
}

func (w *Worker) trackJobFailure() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.FailedJobs++
}
