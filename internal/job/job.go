// Package job provides the Job aggregate for speech-to-text transcription
// jobs. It includes the Job entity with its state machine, the Store port
// for persistence, and the Submitter that creates jobs and publishes them
// to the work queue.
package job

import (
	"errors"
	"time"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the job is waiting in the queue.
	StatusPending Status = "PENDING"
	// StatusProcessing indicates the job is being processed by a worker.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job encountered a permanent error.
	StatusFailed Status = "FAILED"
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// PROCESSING -> PENDING is the requeue path and must be accompanied by a
// retry count increment; every other backward move is forbidden.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusPending},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// transitionSources returns the statuses a job may hold for a move to
// `to` to be accepted, including `to` itself: re-applying the current
// status is an idempotent replay under at-least-once delivery.
func transitionSources(to Status) []Status {
	out := []Status{to}
	for _, from := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// ChunkStatus represents the status of a single audio chunk.
type ChunkStatus string

const (
	// ChunkPending indicates the chunk is waiting to be transcribed.
	ChunkPending ChunkStatus = "PENDING"
	// ChunkCompleted indicates the chunk was transcribed successfully.
	ChunkCompleted ChunkStatus = "COMPLETED"
	// ChunkFailed indicates the chunk exhausted its transcription retries.
	ChunkFailed ChunkStatus = "FAILED"
)

// Chunk represents one contiguous sub-interval of the audio that is
// transcribed independently. Indices cover [0, ChunksTotal) without gaps
// and timestamps are non-decreasing across the sequence.
type Chunk struct {
	Index       int         `bson:"index" json:"index"`
	StartSec    float64     `bson:"start_sec" json:"start_sec"`
	EndSec      float64     `bson:"end_sec" json:"end_sec"`
	Status      ChunkStatus `bson:"status" json:"status"`
	Text        string      `bson:"text,omitempty" json:"text,omitempty"`
	Error       string      `bson:"error,omitempty" json:"error,omitempty"`
	ProcessedAt *time.Time  `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// Job is the durable record of one transcription request.
type Job struct {
	ID     string `bson:"job_id" json:"job_id"`
	Status Status `bson:"status" json:"status"`

	// Submission parameters
	Language         string `bson:"language" json:"language"`
	Model            string `bson:"model" json:"model"`
	OriginalFilename string `bson:"original_filename" json:"original_filename"`
	ChunkStrategy    string `bson:"chunk_strategy" json:"chunk_strategy"`

	// Blob store locations
	AudioPath  string `bson:"audio_path" json:"audio_path"`
	ResultPath string `bson:"result_path,omitempty" json:"result_path,omitempty"`

	// File metadata
	FileSizeMB       float64 `bson:"file_size_mb" json:"file_size_mb"`
	AudioDurationSec float64 `bson:"audio_duration_sec,omitempty" json:"audio_duration_sec,omitempty"`

	// Progress
	RetryCount      int     `bson:"retry_count" json:"retry_count"`
	ChunksTotal     int     `bson:"chunks_total" json:"chunks_total"`
	ChunksCompleted int     `bson:"chunks_completed" json:"chunks_completed"`
	Chunks          []Chunk `bson:"chunks" json:"chunks"`

	// Results
	TranscriptionText string `bson:"transcription_text,omitempty" json:"transcription_text,omitempty"`
	ErrorMessage      string `bson:"error_message,omitempty" json:"error_message,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	StartedAt   *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
}

// CompletedChunks returns the successfully transcribed chunks in ascending
// index order. The merger consumes this sequence; failed chunks are skipped.
func (j *Job) CompletedChunks() []Chunk {
	out := make([]Chunk, 0, len(j.Chunks))
	for _, c := range j.Chunks {
		if c.Status == ChunkCompleted {
			out = append(out, c)
		}
	}
	return out
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Chunks = make([]Chunk, len(j.Chunks))
	copy(cp.Chunks, j.Chunks)
	for i := range cp.Chunks {
		if t := cp.Chunks[i].ProcessedAt; t != nil {
			tt := *t
			cp.Chunks[i].ProcessedAt = &tt
		}
	}
	if t := j.StartedAt; t != nil {
		tt := *t
		cp.StartedAt = &tt
	}
	if t := j.CompletedAt; t != nil {
		tt := *t
		cp.CompletedAt = &tt
	}
	return &cp
}

// FileRecord describes an uploaded audio object. A Job refers to a
// FileRecord only by copying its blob path at submission time; the record's
// lifecycle is independent of any job.
type FileRecord struct {
	ID               string    `bson:"file_id" json:"file_id"`
	OriginalFilename string    `bson:"original_filename" json:"original_filename"`
	BlobPath         string    `bson:"blob_path" json:"blob_path"`
	SizeMB           float64   `bson:"size_mb" json:"size_mb"`
	ContentType      string    `bson:"content_type" json:"content_type"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
}
