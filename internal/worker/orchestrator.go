// Package worker contains the transcription pipeline: the Orchestrator
// that processes one job end to end, the Consumer that maps queue
// deliveries onto orchestrator runs, and the Worker that owns the
// process lifecycle.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/smap/stt-worker/internal/audio"
	"github.com/smap/stt-worker/internal/job"
	"github.com/smap/stt-worker/internal/merge"
	"github.com/smap/stt-worker/internal/storage"
	"github.com/smap/stt-worker/internal/stterr"
	"github.com/smap/stt-worker/internal/transcribe"
)

// OrchestratorConfig holds the per-job processing policy.
type OrchestratorConfig struct {
	MaxParallelWorkers int
	MaxRetries         int
	TempDir            string
	ChunkPolicy        audio.Policy
}

// Orchestrator processes one job end to end: stage, chunk, transcribe,
// merge, persist. Errors it returns carry the stterr classification the
// Consumer uses to pick a disposition.
type Orchestrator struct {
	store       job.Store
	blobs       storage.BlobStore
	chunker     audio.Chunker
	transcriber transcribe.Transcriber
	cfg         OrchestratorConfig
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(store job.Store, blobs storage.BlobStore, chunker audio.Chunker, transcriber transcribe.Transcriber, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:       store,
		blobs:       blobs,
		chunker:     chunker,
		transcriber: transcriber,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run processes the job. On permanent failure the job is marked FAILED
// before the error is returned; on transient failure the job is left
// PROCESSING so a redelivery can pick it up again.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	err := o.run(ctx, jobID)
	if err != nil && stterr.IsPermanent(err) && shouldMarkFailed(err) {
		if setErr := o.store.SetStatus(ctx, jobID, job.StatusFailed, err.Error()); setErr != nil {
			o.logger.Error("mark job failed",
				slog.String("job_id", jobID),
				slog.String("error", setErr.Error()))
		}
	}
	return err
}

// shouldMarkFailed reports whether a permanent failure should be
// recorded on the job. Ghost messages and duplicates of already-failed
// jobs have no record to mark.
func shouldMarkFailed(err error) bool {
	switch stterr.KindOf(err) {
	case stterr.KindJobNotFound, stterr.KindJobAlreadyFailed:
		return false
	}
	return true
}

func (o *Orchestrator) run(ctx context.Context, jobID string) error {
	log := o.logger.With(slog.String("job_id", jobID))

	// Phase 1: load the job and claim it.
	j, err := o.store.Get(ctx, jobID)
	if err != nil {
		if err == job.ErrJobNotFound {
			return stterr.Permanentf(stterr.KindJobNotFound, "job %s", jobID)
		}
		return err
	}
	if j.Status.IsTerminal() {
		if j.Status == job.StatusCompleted {
			// Redelivered message for finished work; acknowledge and move on.
			log.Info("job already completed, skipping")
			return nil
		}
		// A failed job never comes back; the duplicate goes to the DLQ.
		log.Info("job already failed, rejecting redelivery")
		return stterr.Permanentf(stterr.KindJobAlreadyFailed, "job %s: %s", jobID, j.ErrorMessage)
	}
	if err := o.store.SetStatus(ctx, jobID, job.StatusProcessing, ""); err != nil {
		return err
	}
	log.Info("job started",
		slog.String("model", j.Model),
		slog.String("language", j.Language),
		slog.Float64("file_size_mb", j.FileSizeMB))

	// Phase 2: stage the audio to local disk. The temp dir is removed on
	// every exit path, including a panic inside transcription.
	tempDir := filepath.Join(o.cfg.TempDir, "job_"+jobID)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return stterr.Transientf(stterr.KindBlobIO, "create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	audioPath, err := o.stageAudio(ctx, j, tempDir)
	if err != nil {
		return err
	}

	// Phase 3: best-effort duration probe. Failure here is not fatal;
	// chunking does its own probe and reports real decode errors.
	var patch job.Patch
	if dur, err := o.chunker.Duration(ctx, audioPath); err == nil {
		patch.AudioDurationSec = &dur
	} else {
		log.Warn("duration probe failed", slog.String("error", err.Error()))
	}

	// Phase 4: chunk.
	segments, err := o.chunker.Chunk(ctx, audioPath, tempDir, o.cfg.ChunkPolicy)
	if err != nil {
		return err
	}

	chunks := make([]job.Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = job.Chunk{
			Index:    seg.Index,
			StartSec: seg.StartSec,
			EndSec:   seg.EndSec,
			Status:   job.ChunkPending,
		}
	}
	total := len(chunks)
	patch.Chunks = chunks
	patch.ChunksTotal = &total
	if err := o.store.Update(ctx, jobID, patch); err != nil {
		return err
	}
	log.Info("audio chunked", slog.Int("chunks", total))

	// Phase 5: transcribe chunks over a bounded pool. A chunk that fails
	// after its retries is recorded FAILED and does not abort the job.
	completed := o.transcribeAll(ctx, jobID, j.Language, segments, chunks)

	// Phase 6: merge. Zero successes means the job produced nothing.
	if completed == 0 {
		return stterr.Permanentf(stterr.KindAllChunksFailed, "all %d chunks failed", total)
	}
	text := merge.MergeChunks(chunks)

	// Phase 7: persist the result artifact and close out the job.
	resultPath := fmt.Sprintf("results/result_%s.txt", jobID)
	err = o.blobs.Upload(ctx, resultPath, strings.NewReader(text), "text/plain; charset=utf-8")
	if err != nil {
		return err
	}

	final := job.Patch{
		Chunks:            chunks,
		ChunksCompleted:   &completed,
		TranscriptionText: &text,
		ResultPath:        &resultPath,
	}
	if err := o.store.Update(ctx, jobID, final); err != nil {
		return err
	}
	if err := o.store.SetStatus(ctx, jobID, job.StatusCompleted, ""); err != nil {
		return err
	}

	log.Info("job completed",
		slog.Int("chunks_completed", completed),
		slog.Int("chunks_total", total),
		slog.String("result_path", resultPath))
	return nil
}

// stageAudio downloads the job's audio object into dir and returns the
// local path. The original extension is kept so ffmpeg can sniff the
// container.
func (o *Orchestrator) stageAudio(ctx context.Context, j *job.Job, dir string) (string, error) {
	src, err := o.blobs.Download(ctx, j.AudioPath)
	if err != nil {
		if err == storage.ErrObjectNotFound {
			return "", stterr.Permanentf(stterr.KindCorruptedAudio, "audio object %s missing", j.AudioPath)
		}
		return "", err
	}
	defer src.Close()

	localPath := filepath.Join(dir, "input"+strings.ToLower(filepath.Ext(j.AudioPath)))
	dst, err := os.Create(localPath)
	if err != nil {
		return "", stterr.Transientf(stterr.KindBlobIO, "create staging file: %v", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", stterr.Transientf(stterr.KindBlobIO, "stage audio: %v", err)
	}
	if err := dst.Close(); err != nil {
		return "", stterr.Transientf(stterr.KindBlobIO, "close staging file: %v", err)
	}
	return localPath, nil
}

// transcribeAll fans the segments out over MaxParallelWorkers goroutines,
// records each outcome into chunks, and checkpoints progress at
// milestones. It returns the number of successfully transcribed chunks.
func (o *Orchestrator) transcribeAll(ctx context.Context, jobID, language string, segments []audio.Segment, chunks []job.Chunk) int {
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		completed int
		finished  int
	)
	sem := make(chan struct{}, o.cfg.MaxParallelWorkers)

	for i := range segments {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := o.transcribeChunk(ctx, segments[i].Path, language)
			now := time.Now().UTC()

			mu.Lock()
			defer mu.Unlock()
			finished++
			chunks[i].ProcessedAt = &now
			if err != nil {
				chunks[i].Status = job.ChunkFailed
				chunks[i].Error = err.Error()
				o.logger.Warn("chunk failed",
					slog.String("job_id", jobID),
					slog.Int("chunk", i),
					slog.String("error", err.Error()))
			} else {
				chunks[i].Status = job.ChunkCompleted
				chunks[i].Text = res.Text
				completed++
			}

			if shouldCheckpoint(finished, len(chunks)) {
				o.checkpoint(ctx, jobID, chunks, completed)
			}
		}(i)
	}
	wg.Wait()
	return completed
}

// transcribeChunk runs the retrying transcription for one chunk. A panic
// in the transcriber is contained here, on the chunk's own goroutine,
// and surfaces as a failed chunk rather than a dead worker.
func (o *Orchestrator) transcribeChunk(ctx context.Context, path, language string) (res transcribe.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = stterr.Transientf(stterr.KindTranscriberCrashed, "panic transcribing %s: %v", path, r)
		}
	}()
	return transcribe.TranscribeWithRetry(ctx, o.transcriber, path, language, o.cfg.MaxRetries)
}

// checkpoint persists chunk progress. Failures are logged and ignored;
// progress rows are advisory and the final update is what matters.
func (o *Orchestrator) checkpoint(ctx context.Context, jobID string, chunks []job.Chunk, completed int) {
	snapshot := make([]job.Chunk, len(chunks))
	copy(snapshot, chunks)
	patch := job.Patch{Chunks: snapshot, ChunksCompleted: &completed}
	if err := o.store.Update(ctx, jobID, patch); err != nil {
		o.logger.Warn("progress checkpoint failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
	}
}

// shouldCheckpoint reports whether progress should be persisted after the
// finished-th chunk of total. It fires on the first chunk, the last
// chunk, and the 50% and 75% crossings for jobs with at least 4 chunks,
// which bounds writes at 4 per job regardless of completion order.
func shouldCheckpoint(finished, total int) bool {
	if total <= 0 || finished <= 0 {
		return false
	}
	if finished == 1 || finished == total {
		return true
	}
	if total < 4 {
		return false
	}
	return crossed(finished, total, 1, 2) || crossed(finished, total, 3, 4)
}

// crossed reports whether finished/total reached num/den exactly at this
// step, i.e. the previous count was still below the threshold.
func crossed(finished, total, num, den int) bool {
	return finished*den >= total*num && (finished-1)*den < total*num
}
