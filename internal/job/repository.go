package job

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Patch is a partial update to a job record. Nil fields are left untouched.
// Applying the same patch twice must yield the same stored document, so
// redelivered messages can safely replay their writes.
type Patch struct {
	Status            *Status
	AudioDurationSec  *float64
	Chunks            []Chunk
	ChunksTotal       *int
	ChunksCompleted   *int
	TranscriptionText *string
	ResultPath        *string
	ErrorMessage      *string
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

// Store defines the interface for durable job persistence.
// Updates are atomic per job; UpdatedAt is set together with every patch.
type Store interface {
	// Insert persists a new job, assigning a fresh ID when none is set.
	// The job enters PENDING status with CreatedAt set to now.
	Insert(ctx context.Context, j *Job) (string, error)

	// Get retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	Get(ctx context.Context, id string) (*Job, error)

	// Update applies a partial update to the job.
	Update(ctx context.Context, id string, patch Patch) error

	// SetStatus transitions the job status, recording StartedAt on the move
	// to PROCESSING and CompletedAt on the move to a terminal status. The
	// optional errMsg is stored as the job's error message.
	SetStatus(ctx context.Context, id string, status Status, errMsg string) error

	// IncrementRetry atomically increments the job's retry count.
	IncrementRetry(ctx context.Context, id string) error

	// ListPending returns up to limit PENDING jobs, oldest first.
	ListPending(ctx context.Context, limit int) ([]*Job, error)

	// List returns up to limit jobs, optionally filtered by status.
	List(ctx context.Context, status Status, limit int) ([]*Job, error)
}
