package optd

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/regenheat/optimization-engine/pkg/logger"
	"github.com/regenheat/optimization-engine/pkg/models"
)

// Scheduler owns the FIFO job queue and the bounded worker pool. Jobs are
// dispatched strictly in submission order; a job waits in pending until a
// worker slot frees up. The queue is unbounded: backpressure delays
// dispatch, it never drops a submission. Cancellation is a cooperative
// flag the run loop polls between iterations.
type Scheduler struct {
	store    Store
	runner   *Runner
	notifier *Notifier

	mu      sync.Mutex
	pending []string
	flags   map[string]*atomic.Bool

	// wake nudges an idle worker after a submission; workers drain the
	// pending list before sleeping on it, so a coalesced signal is enough.
	wake chan struct{}

	workers int
	wg      sync.WaitGroup
}

func NewScheduler(store Store, runner *Runner, notifier *Notifier, workers int) *Scheduler {
	if workers <= 0 {
		workers = 2
	}
	return &Scheduler{
		store:    store,
		runner:   runner,
		notifier: notifier,
		flags:    make(map[string]*atomic.Bool),
		wake:     make(chan struct{}, 1),
		workers:  workers,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled;
// Wait blocks until they do.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	logger.Info("scheduler started", "workers", s.workers)
}

// Wait blocks until every worker has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Submit enqueues a created job for execution. The scenario-level
// single-active-job rule is enforced at job creation, before Submit.
func (s *Scheduler) Submit(jobID string) {
	s.mu.Lock()
	s.flags[jobID] = &atomic.Bool{}
	s.pending = append(s.pending, jobID)
	depth := len(s.pending)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	logger.Debug("job queued", "job_id", jobID, "depth", depth)
}

// Cancel requests cooperative cancellation. A running job stops between
// iterations; a still-queued job is cancelled immediately and skipped by
// the worker that eventually dequeues it.
func (s *Scheduler) Cancel(jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, ErrJobIDMissing
	}
	rec, err := s.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	// Cancel is idempotent: a terminal job is a no-op, not an error.
	if rec.Job.Status.Terminal() {
		return rec, nil
	}

	s.mu.Lock()
	flag, ok := s.flags[jobID]
	s.mu.Unlock()
	if ok {
		flag.Store(true)
	}

	// A pending job has no run loop to observe the flag, so it is moved to
	// cancelled here. Running jobs transition once the loop notices.
	if rec.Job.Status == models.JobStatusPending {
		updated, err := s.store.SetStatus(jobID, models.JobStatusCancelled, "", "")
		if err != nil {
			return nil, err
		}
		s.runner.bus.Publish(&models.EventMessage{
			Type:    models.EventCancelled,
			JobID:   jobID,
			Payload: map[string]any{"iteration": 0},
		})
		logger.Info("pending job cancelled", "job_id", jobID)
		return updated, nil
	}

	logger.Info("cancellation requested", "job_id", jobID)
	return rec, nil
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		if jobID, ok := s.dequeue(); ok {
			s.execute(ctx, jobID)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
	}
}

func (s *Scheduler) dequeue() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return "", false
	}
	jobID := s.pending[0]
	s.pending = s.pending[1:]
	return jobID, true
}

func (s *Scheduler) execute(ctx context.Context, jobID string) {
	defer s.dropFlag(jobID)

	rec, err := s.store.GetJob(jobID)
	if err != nil {
		logger.Warn("queued job no longer exists", "job_id", jobID)
		return
	}
	// Cancelled (or otherwise finished) while queued.
	if rec.Job.Status != models.JobStatusPending {
		logger.Debug("skipping non-pending queued job", "job_id", jobID, "status", string(rec.Job.Status))
		return
	}

	s.mu.Lock()
	flag := s.flags[jobID]
	s.mu.Unlock()
	if flag == nil {
		flag = &atomic.Bool{}
	}

	s.runner.Run(ctx, jobID, flag)

	if s.notifier != nil {
		if final, err := s.store.GetJob(jobID); err == nil && final.Job.Status.Terminal() {
			s.notifier.Notify(final)
		}
	}
}

func (s *Scheduler) dropFlag(jobID string) {
	s.mu.Lock()
	delete(s.flags, jobID)
	s.mu.Unlock()
}

// QueueDepth reports jobs waiting for a worker slot.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
