package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/osvaldoandrade/formq/pkg/domain"
)

// Store holds job progress in process memory. Jobs are never evicted and
// do not survive a restart.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	now  func() time.Time

	// subs receive a signal after every change to the job they watch.
	subs map[string]map[chan struct{}]struct{}
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		jobs: make(map[string]*domain.Job),
		subs: make(map[string]map[chan struct{}]struct{}),
		now:  now,
	}
}

// Create registers a pending job with totalRuns expected outcomes.
func (s *Store) Create(jobID string, totalRuns int, testID int64, userID string) error {
	if jobID == "" {
		return fmt.Errorf("%w: empty job id", domain.ErrValidation)
	}
	if totalRuns < 0 {
		return fmt.Errorf("%w: negative total runs", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[jobID]; exists {
		return fmt.Errorf("%w: job %s already exists", domain.ErrValidation, jobID)
	}
	now := s.now().UTC()
	s.jobs[jobID] = &domain.Job{
		ID:        jobID,
		TestID:    testID,
		UserID:    userID,
		Status:    domain.JobPending,
		TotalRuns: totalRuns,
		Results:   make([]domain.RunOutcome, 0, totalRuns),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Get returns a snapshot that later updates do not affect.
func (s *Store) Get(jobID string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	cp := *j
	cp.Results = append([]domain.RunOutcome(nil), j.Results...)
	return cp, nil
}

// AppendResult records one run outcome and bumps the processed counter in a
// single step.
func (s *Store) AppendResult(jobID string, outcome domain.RunOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	if j.ProcessedRuns >= j.TotalRuns {
		return fmt.Errorf("%w: job %s already has %d of %d results", domain.ErrInternal, jobID, j.ProcessedRuns, j.TotalRuns)
	}
	j.Results = append(j.Results, outcome)
	j.ProcessedRuns++
	j.UpdatedAt = s.now().UTC()
	s.notifyLocked(jobID)
	return nil
}

// SetStatus moves the job one step forward. Any other transition is a bug in
// the caller and panics.
func (s *Store) SetStatus(jobID string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	if !j.Status.CanTransitionTo(status) {
		panic(fmt.Sprintf("jobs: illegal status transition %s -> %s for job %s", j.Status, status, jobID))
	}
	j.Status = status
	j.UpdatedAt = s.now().UTC()
	s.notifyLocked(jobID)
	return nil
}

// Counts returns the number of jobs per status.
func (s *Store) Counts() map[domain.JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.JobStatus]int, 3)
	for _, j := range s.jobs {
		out[j.Status]++
	}
	return out
}

// Watch returns a channel that is signalled after each change to the job and
// a func to stop watching. Signals coalesce; readers should call Get.
func (s *Store) Watch(jobID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	if s.subs[jobID] == nil {
		s.subs[jobID] = make(map[chan struct{}]struct{})
	}
	s.subs[jobID][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[jobID], ch)
			if len(s.subs[jobID]) == 0 {
				delete(s.subs, jobID)
			}
			s.mu.Unlock()
		})
	}
}

func (s *Store) notifyLocked(jobID string) {
	for ch := range s.subs[jobID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
