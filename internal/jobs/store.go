package jobs

import (
	"sort"
	"sync"

	"media-downloader/internal/domain"
)

// Store is the in-memory job table shared between executors and the API.
// All access goes through its methods; reads return value copies so no
// caller ever holds a reference into the table.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

// NewStore creates an empty job table.
func NewStore() *Store {
	return &Store{jobs: make(map[string]domain.Job)}
}

// Get returns a copy of one record and whether it exists.
func (s *Store) Get(id string) (domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// Upsert stores a full record under its id in one atomic write.
func (s *Store) Upsert(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// Delete removes a record; deleting an unknown id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// SnapshotAll returns a consistent point-in-time copy of every record,
// newest submissions first.
func (s *Store) SnapshotAll() []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveCount returns the number of records in a non-terminal status.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, job := range s.jobs {
		if job.Status.IsActive() {
			count++
		}
	}
	return count
}

// update applies fn to one record under the write lock. The callback
// receives a copy and returns the record to store; it must not block.
func (s *Store) update(id string, fn func(domain.Job) domain.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.jobs[id] = fn(job)
	return true
}
