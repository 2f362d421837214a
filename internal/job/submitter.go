package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/smap/stt-worker/internal/job/id"
	"github.com/smap/stt-worker/internal/queue"
	"github.com/smap/stt-worker/internal/storage"
	"github.com/smap/stt-worker/internal/stterr"
)

// SubmitterConfig holds the submission policy.
type SubmitterConfig struct {
	RoutingKey      string
	MaxUploadMB     float64
	DefaultLanguage string
	DefaultModel    string
}

// SubmitInput describes one transcription request.
type SubmitInput struct {
	Filename string  `validate:"required"`
	Language string  `validate:"omitempty,alpha,len=2"`
	Model    string  `validate:"omitempty,oneof=tiny base small medium large"`
	BlobPath string  `validate:"required"`
	SizeMB   float64 `validate:"gte=0"`
}

// Submitter creates job records and publishes them to the work queue.
type Submitter struct {
	store    Store
	blobs    storage.BlobStore
	queue    queue.Queue
	cfg      SubmitterConfig
	validate *validator.Validate
	logger   *slog.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(store Store, blobs storage.BlobStore, q queue.Queue, cfg SubmitterConfig, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		store:    store,
		blobs:    blobs,
		queue:    q,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
	}
}

// Submit records a new PENDING job for audio already present in the blob
// store and publishes its message at default priority. The job record is
// written before the publish so a consumer can never see a message for a
// job that does not exist yet.
func (s *Submitter) Submit(ctx context.Context, in SubmitInput) (*Job, error) {
	if in.Language == "" {
		in.Language = s.cfg.DefaultLanguage
	}
	if in.Model == "" {
		in.Model = s.cfg.DefaultModel
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid submission: %w", err)
	}
	if s.cfg.MaxUploadMB > 0 && in.SizeMB > s.cfg.MaxUploadMB {
		return nil, stterr.Permanentf(stterr.KindOversizeUpload,
			"file is %.1f MB, limit is %.0f MB", in.SizeMB, s.cfg.MaxUploadMB)
	}

	j := &Job{
		Language:         in.Language,
		Model:            in.Model,
		OriginalFilename: in.Filename,
		ChunkStrategy:    "silence",
		AudioPath:        in.BlobPath,
		FileSizeMB:       in.SizeMB,
		Chunks:           []Chunk{},
	}
	jobID, err := s.store.Insert(ctx, j)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	msg := queue.NewMessage(jobID, in.Language, in.Model, in.Filename)
	if err := s.queue.Publish(ctx, msg, s.cfg.RoutingKey, queue.DefaultPriority); err != nil {
		return nil, fmt.Errorf("publish job %s: %w", jobID, err)
	}

	s.logger.Info("job submitted",
		slog.String("job_id", jobID),
		slog.String("filename", in.Filename),
		slog.String("model", in.Model),
		slog.String("language", in.Language))
	return j, nil
}

// SubmitUpload stages the audio stream into the blob store under
// uploads/<uuid><ext> and then submits the job. sizeMB is checked before
// any bytes are uploaded so oversize files are rejected cheaply.
func (s *Submitter) SubmitUpload(ctx context.Context, filename string, data io.Reader, sizeMB float64, language, model string) (*Job, error) {
	if s.cfg.MaxUploadMB > 0 && sizeMB > s.cfg.MaxUploadMB {
		return nil, stterr.Permanentf(stterr.KindOversizeUpload,
			"file is %.1f MB, limit is %.0f MB", sizeMB, s.cfg.MaxUploadMB)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	rec := FileRecord{
		ID:               id.Generate(),
		OriginalFilename: filename,
		BlobPath:         "uploads/" + id.Generate() + ext,
		SizeMB:           sizeMB,
		ContentType:      contentTypeFor(ext),
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.blobs.Upload(ctx, rec.BlobPath, data, rec.ContentType); err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	return s.SubmitFile(ctx, rec, language, model)
}

// SubmitFile submits a job for an already uploaded FileRecord. The job
// copies the record's blob path; the record's lifecycle stays its own.
func (s *Submitter) SubmitFile(ctx context.Context, rec FileRecord, language, model string) (*Job, error) {
	return s.Submit(ctx, SubmitInput{
		Filename: rec.OriginalFilename,
		Language: language,
		Model:    model,
		BlobPath: rec.BlobPath,
		SizeMB:   rec.SizeMB,
	})
}

// contentTypeFor maps an audio file extension to its MIME type.
func contentTypeFor(ext string) string {
	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".aac":
		return "audio/aac"
	case ".wma":
		return "audio/x-ms-wma"
	default:
		return "application/octet-stream"
	}
}
