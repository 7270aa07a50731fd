// Package store holds the authoritative set of tracked jobs. It is the only
// shared mutable state between the upload coordinator, the pollers and UI
// consumers; every component writes job state through it and nowhere else.
package store

import (
	"sync"
	"time"

	"doctrack/pkg/domain"
)

// EventKind classifies a store notification.
type EventKind int

const (
	EventPut EventKind = iota
	EventUpdated
	EventRemoved
)

// Event is delivered to subscribers on every mutation. Job is a snapshot;
// for EventRemoved it holds the record as it was before removal.
type Event struct {
	Kind EventKind
	Job  domain.Job
}

// Observer receives store events. Observers are called synchronously under
// the store write lock and must not call any store method, reads included:
// Get and List take the read lock and deadlock just as mutations do. Hand
// the event off to another goroutine instead.
type Observer func(Event)

// Store is an observable in-memory map from job ID to job record.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]domain.Job
	order     []string // insertion order, oldest first
	observers map[int]Observer
	nextObs   int
}

// New initializes an empty job store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]domain.Job),
		observers: make(map[int]Observer),
	}
}

// Subscribe registers an observer and returns its unsubscribe function.
func (s *Store) Subscribe(fn Observer) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) notifyLocked(ev Event) {
	for _, fn := range s.observers {
		fn(ev)
	}
}

// Put inserts or replaces a job by ID and notifies observers. Unlike Update
// it applies unconditionally, so explicit user actions (a retry resetting a
// failed job) go through Put.
func (s *Store) Put(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		s.order = append(s.order, job.ID)
	}
	s.jobs[job.ID] = job
	s.notifyLocked(Event{Kind: EventPut, Job: job})
}

// Patch is a partial job update. Zero-value fields are left unchanged.
type Patch struct {
	Status      domain.JobStatus
	Error       *string
	ProcessedAt *time.Time
}

// Update applies a partial update if it does not regress the recorded status
// in pipeline order. Returns false without notifying when the job is unknown
// or the patch would move the pipeline backward, so late or out-of-order
// responses are discarded.
func (s *Store) Update(id string, patch Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	if patch.Status != "" {
		if !job.Status.CanTransition(patch.Status) {
			return false
		}
		job.Status = patch.Status
	}
	if patch.Error != nil {
		job.Error = *patch.Error
	}
	if patch.ProcessedAt != nil {
		job.ProcessedAt = patch.ProcessedAt
	}
	s.jobs[id] = job
	s.notifyLocked(Event{Kind: EventUpdated, Job: job})
	return true
}

// Replace substitutes the record stored under oldID with job, keeping its
// slot in the insertion order. This is how a placeholder is reconciled with
// the server-issued record: one mutation, one notification, no window where
// both IDs (or neither) are visible.
func (s *Store) Replace(oldID string, job domain.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[oldID]; !ok {
		return false
	}
	delete(s.jobs, oldID)
	for i, id := range s.order {
		if id == oldID {
			s.order[i] = job.ID
			break
		}
	}
	s.jobs[job.ID] = job
	s.notifyLocked(Event{Kind: EventPut, Job: job})
	return true
}

// Remove deletes a job and notifies observers. The poller subscribes to the
// store, so removal stops any active polling loop for the job.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	delete(s.jobs, id)
	filtered := s.order[:0]
	for _, item := range s.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	s.order = filtered
	s.notifyLocked(Event{Kind: EventRemoved, Job: job})
	return true
}

// Get retrieves a job snapshot by ID.
func (s *Store) Get(id string) (domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// List returns a snapshot of all jobs, most recently inserted first.
func (s *Store) List() []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if job, ok := s.jobs[s.order[i]]; ok {
			res = append(res, job)
		}
	}
	return res
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
