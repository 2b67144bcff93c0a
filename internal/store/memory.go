// Package store holds session-scoped job state. Jobs live in memory only and
// are discarded on process teardown.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/vitrinastudio/server/internal/domain"
)

// Memory is a thread-safe in-memory job store keyed by job ID. Every update is
// addressed by ID so independently scheduled workers cannot clobber each
// other's jobs.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// NewMemory creates an empty job store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*domain.Job)}
}

// Create registers a new job. The stored copy is cloned so the caller cannot
// mutate it afterwards.
func (s *Memory) Create(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
}

// Get returns a clone of the job with the given ID.
func (s *Memory) Get(id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns clones of all jobs ordered by creation time.
func (s *Memory) List() []*domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Delete discards a job.
func (s *Memory) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return domain.ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

// Update applies mutate to the stored job under the store lock and returns a
// clone of the result.
func (s *Memory) Update(id string, mutate func(*domain.Job)) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	mutate(job)
	job.UpdatedAt = time.Now()
	return job.Clone(), nil
}

// Transition moves a job to a new status, applying mutate first and then the
// status entry contract: entering a processing state clears the previous error
// and results, entering a success state clears the error, entering the error
// state releases the operation handle, and returning to pending clears
// everything a reset must discard.
func (s *Memory) Transition(id string, to domain.Status, mutate func(*domain.Job)) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if !domain.CanTransition(job.Status, to) {
		return nil, domain.ErrInvalidTransition
	}
	if mutate != nil {
		mutate(job)
	}
	job.Status = to
	switch to {
	case domain.StatusProcessing:
		job.ErrorMessage = ""
		job.Artifacts = nil
		job.VideoURL = ""
	case domain.StatusProcessingVideo:
		job.ErrorMessage = ""
		job.Artifacts = nil
		job.VideoURL = ""
	case domain.StatusSuccess:
		job.ErrorMessage = ""
	case domain.StatusSuccessVideo:
		job.ErrorMessage = ""
		job.OperationName = ""
	case domain.StatusError:
		job.OperationName = ""
	case domain.StatusPending:
		job.ErrorMessage = ""
		job.Artifacts = nil
		job.VideoURL = ""
		job.OperationName = ""
	}
	job.UpdatedAt = time.Now()
	return job.Clone(), nil
}

