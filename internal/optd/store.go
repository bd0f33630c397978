package optd

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/regenheat/optimization-engine/pkg/models"
	"github.com/regenheat/optimization-engine/pkg/utils"
)

// JobRecord pairs a job with the immutable scenario it runs.
type JobRecord struct {
	Job      *models.Job
	Scenario *models.Scenario
}

// Store persists jobs, their convergence ledgers and final results.
// All job mutations go through the store; the run loop is the only writer
// for a running job's progress fields. Returned records are caller-owned
// copies, safe to read while the job keeps running.
type Store interface {
	// CreateJob registers a pending job for the scenario. At most one
	// non-terminal job may exist per scenario; a second submission fails
	// with ErrAlreadyRunning. The check and the insert are atomic.
	CreateJob(scenario *models.Scenario) (*JobRecord, error)
	GetJob(jobID string) (*JobRecord, error)
	ListJobs(limit, offset int, status models.JobStatus) ([]*JobRecord, error)
	DeleteJob(jobID string) error

	SetStatus(jobID string, status models.JobStatus, errKind, errMsg string) (*JobRecord, error)
	UpdateProgress(jobID string, iteration int, progress, current, best float64, bestPoint map[string]float64) error

	AppendIteration(rec *models.IterationRecord) error
	Iterations(jobID string, limit int) ([]*models.IterationRecord, error)
	LastIteration(jobID string) (int, error)

	SetResult(jobID string, rs *models.ResultSet) error
	GetResult(jobID string) (*models.ResultSet, error)

	// ActiveJobForScenario returns the pending or running job bound to a
	// scenario, if any. One scenario runs at most one job at a time.
	ActiveJobForScenario(scenarioID string) (string, bool)

	Close() error
}

func nowUnixMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// cloneRecord copies a job record for hand-out. The store's live Job keeps
// being mutated by the owning worker; readers get their own snapshot.
func cloneRecord(rec *JobRecord) *JobRecord {
	job := *rec.Job
	if job.BestPoint != nil {
		point := make(map[string]float64, len(job.BestPoint))
		for k, v := range job.BestPoint {
			point[k] = v
		}
		job.BestPoint = point
	}
	return &JobRecord{Job: &job, Scenario: rec.Scenario}
}

// validTransition encodes the job state machine. Terminal states have no
// outgoing transitions; pending may be cancelled without ever running.
func validTransition(from, to models.JobStatus) bool {
	switch from {
	case models.JobStatusPending:
		return to == models.JobStatusRunning || to == models.JobStatusCancelled || to == models.JobStatusFailed
	case models.JobStatusRunning:
		return to.Terminal()
	}
	return false
}

type memoryJob struct {
	rec        *JobRecord
	iterations []*models.IterationRecord
	result     *models.ResultSet
}

// MemoryStore is the default in-process store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*memoryJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*memoryJob),
	}
}

func (s *MemoryStore) CreateJob(scenario *models.Scenario) (*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The active-job check shares the create lock, so concurrent
	// submissions for one scenario can never both pass it.
	for id, j := range s.jobs {
		if j.rec.Job.ScenarioID == scenario.ID && !j.rec.Job.Status.Terminal() {
			return nil, fmt.Errorf("%w: %s is active for %s", ErrAlreadyRunning, id, scenario.ID)
		}
	}

	jobID := utils.GenerateJobID()
	if _, exists := s.jobs[jobID]; exists {
		return nil, fmt.Errorf("job already exists: %s", jobID)
	}

	rec := &JobRecord{
		Job: &models.Job{
			ID:              jobID,
			ScenarioID:      scenario.ID,
			Status:          models.JobStatusPending,
			CreatedAtUnixMs: nowUnixMs(),
		},
		Scenario: scenario,
	}
	s.jobs[jobID] = &memoryJob{rec: rec}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) GetJob(jobID string) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return cloneRecord(j.rec), nil
}

func (s *MemoryStore) ListJobs(limit, offset int, status models.JobStatus) ([]*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	all := make([]*JobRecord, 0, len(s.jobs))
	for _, j := range s.jobs {
		if status != "" && j.rec.Job.Status != status {
			continue
		}
		all = append(all, j.rec)
	}
	// Newest first, ties broken by ID for a stable order.
	sort.Slice(all, func(i, k int) bool {
		if all[i].Job.CreatedAtUnixMs != all[k].Job.CreatedAtUnixMs {
			return all[i].Job.CreatedAtUnixMs > all[k].Job.CreatedAtUnixMs
		}
		return all[i].Job.ID < all[k].Job.ID
	})

	if offset >= len(all) {
		return []*JobRecord{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]*JobRecord, len(all))
	for i, rec := range all {
		out[i] = cloneRecord(rec)
	}
	return out, nil
}

func (s *MemoryStore) DeleteJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if !j.rec.Job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobNotTerminal, jobID, j.rec.Job.Status)
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *MemoryStore) SetStatus(jobID string, status models.JobStatus, errKind, errMsg string) (*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if !validTransition(j.rec.Job.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidState, j.rec.Job.Status, status)
	}

	j.rec.Job.Status = status
	if errMsg != "" {
		j.rec.Job.ErrorKind = errKind
		j.rec.Job.Error = errMsg
	}

	switch status {
	case models.JobStatusRunning:
		if j.rec.Job.StartedAtUnixMs == 0 {
			j.rec.Job.StartedAtUnixMs = nowUnixMs()
		}
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		j.rec.Job.EndedAtUnixMs = nowUnixMs()
	}
	return cloneRecord(j.rec), nil
}

func (s *MemoryStore) UpdateProgress(jobID string, iteration int, progress, current, best float64, bestPoint map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	j.rec.Job.CurrentIteration = iteration
	j.rec.Job.CurrentObjective = current
	j.rec.Job.BestObjective = best
	if bestPoint != nil {
		j.rec.Job.BestPoint = bestPoint
	}
	// Progress never moves backwards.
	if progress > j.rec.Job.Progress {
		j.rec.Job.Progress = progress
	}
	return nil
}

func (s *MemoryStore) AppendIteration(rec *models.IterationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[rec.JobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, rec.JobID)
	}
	j.iterations = append(j.iterations, rec)
	return nil
}

func (s *MemoryStore) Iterations(jobID string, limit int) ([]*models.IterationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	records := j.iterations
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]*models.IterationRecord, len(records))
	copy(out, records)
	return out, nil
}

func (s *MemoryStore) LastIteration(jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if len(j.iterations) == 0 {
		return 0, nil
	}
	return j.iterations[len(j.iterations)-1].Iteration, nil
}

func (s *MemoryStore) SetResult(jobID string, rs *models.ResultSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	j.result = rs
	return nil
}

func (s *MemoryStore) GetResult(jobID string) (*models.ResultSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if j.result == nil {
		return nil, fmt.Errorf("%w: %s", ErrResultNotReady, jobID)
	}
	return j.result, nil
}

func (s *MemoryStore) ActiveJobForScenario(scenarioID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, j := range s.jobs {
		if j.rec.Job.ScenarioID == scenarioID && !j.rec.Job.Status.Terminal() {
			return id, true
		}
	}
	return "", false
}

func (s *MemoryStore) Close() error { return nil }
