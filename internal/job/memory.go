package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smap/stt-worker/internal/job/id"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing; production uses MongoStore.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	now func() time.Time
}

// NewMemoryStore creates a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// Insert persists a new job, assigning a fresh ID when none is set.
func (s *MemoryStore) Insert(_ context.Context, j *Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.ID == "" {
		j.ID = id.Generate()
	}
	now := s.now()
	j.Status = StatusPending
	j.CreatedAt = now
	j.UpdatedAt = now
	s.jobs[j.ID] = j.Clone()
	return j.ID, nil
}

// Get retrieves a job by its ID. Returns a clone to prevent external mutations.
func (s *MemoryStore) Get(_ context.Context, jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

// Update applies a partial update to the job.
func (s *MemoryStore) Update(_ context.Context, jobID string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	applyPatch(j, patch)
	j.UpdatedAt = s.now()
	return nil
}

// SetStatus transitions the job status and records lifecycle timestamps.
// Transitions not in the table are refused; repeating the current status
// is an idempotent replay and allowed.
func (s *MemoryStore) SetStatus(_ context.Context, jobID string, status Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != status && !CanTransition(j.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}
	now := s.now()
	j.Status = status
	switch status {
	case StatusProcessing:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case StatusCompleted, StatusFailed:
		if j.CompletedAt == nil {
			j.CompletedAt = &now
		}
	}
	if errMsg != "" {
		j.ErrorMessage = errMsg
	}
	j.UpdatedAt = now
	return nil
}

// IncrementRetry atomically increments the job's retry count.
func (s *MemoryStore) IncrementRetry(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	j.RetryCount++
	j.UpdatedAt = s.now()
	return nil
}

// ListPending returns up to limit PENDING jobs, oldest first.
func (s *MemoryStore) ListPending(ctx context.Context, limit int) ([]*Job, error) {
	return s.List(ctx, StatusPending, limit)
}

// List returns up to limit jobs, optionally filtered by status, oldest first.
func (s *MemoryStore) List(_ context.Context, status Status, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// applyPatch copies the non-nil fields of patch onto j.
func applyPatch(j *Job, patch Patch) {
	if patch.Status != nil {
		j.Status = *patch.Status
	}
	if patch.AudioDurationSec != nil {
		j.AudioDurationSec = *patch.AudioDurationSec
	}
	if patch.Chunks != nil {
		j.Chunks = make([]Chunk, len(patch.Chunks))
		copy(j.Chunks, patch.Chunks)
	}
	if patch.ChunksTotal != nil {
		j.ChunksTotal = *patch.ChunksTotal
	}
	if patch.ChunksCompleted != nil {
		j.ChunksCompleted = *patch.ChunksCompleted
	}
	if patch.TranscriptionText != nil {
		j.TranscriptionText = *patch.TranscriptionText
	}
	if patch.ResultPath != nil {
		j.ResultPath = *patch.ResultPath
	}
	if patch.ErrorMessage != nil {
		j.ErrorMessage = *patch.ErrorMessage
	}
	if patch.StartedAt != nil {
		t := *patch.StartedAt
		j.StartedAt = &t
	}
	if patch.CompletedAt != nil {
		t := *patch.CompletedAt
		j.CompletedAt = &t
	}
}
