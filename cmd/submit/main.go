// Package main provides a CLI for submitting transcription jobs: it
// uploads a local audio file to the blob store and publishes the job.
// It can also report the status of a submitted job.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/smap/stt-worker/internal/audio"
	"github.com/smap/stt-worker/internal/bootstrap"
	"github.com/smap/stt-worker/internal/config"
	"github.com/smap/stt-worker/internal/job"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		filePath = flag.String("file", "", "path to the audio file to transcribe")
		language = flag.String("language", "", "language code (default from DEFAULT_LANGUAGE)")
		model    = flag.String("model", "", "whisper model name (default from DEFAULT_MODEL)")
		status   = flag.String("status", "", "print the status of a job instead of submitting")
		pending  = flag.Bool("pending", false, "list pending jobs instead of submitting")
	)
	flag.Parse()

	if *filePath == "" && *status == "" && !*pending {
		flag.Usage()
		return fmt.Errorf("one of -file, -status, or -pending is required")
	}

	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	deps, err := bootstrap.NewSubmitter(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	switch {
	case *status != "":
		return printStatus(ctx, deps, *status)
	case *pending:
		return printPending(ctx, deps)
	default:
		return submit(ctx, deps, *filePath, *language, *model)
	}
}

func submit(ctx context.Context, deps *bootstrap.Dependencies, filePath, language, model string) error {
	if err := audio.ValidateFormat(filePath); err != nil {
		return err
	}

	fi, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", filePath, err)
	}
	sizeMB := float64(fi.Size()) / (1024 * 1024)

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	j, err := deps.Submitter.SubmitUpload(ctx, filepath.Base(filePath), f, sizeMB, language, model)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	fmt.Printf("job submitted: %s\n", j.ID)
	return nil
}

func printStatus(ctx context.Context, deps *bootstrap.Dependencies, jobID string) error {
	j, err := deps.Store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job %s: %w", jobID, err)
	}

	fmt.Printf("job:      %s\n", j.ID)
	fmt.Printf("status:   %s\n", j.Status)
	fmt.Printf("file:     %s (%.1f MB)\n", j.OriginalFilename, j.FileSizeMB)
	if j.ChunksTotal > 0 {
		fmt.Printf("progress: %d/%d chunks\n", j.ChunksCompleted, j.ChunksTotal)
	}
	if j.RetryCount > 0 {
		fmt.Printf("retries:  %d\n", j.RetryCount)
	}

	switch j.Status {
	case job.StatusCompleted:
		url, err := deps.Blobs.PresignGet(ctx, j.ResultPath, time.Hour)
		if err != nil {
			return fmt.Errorf("presign result: %w", err)
		}
		fmt.Printf("result:   %s\n", url)
	case job.StatusFailed:
		fmt.Printf("error:    %s\n", j.ErrorMessage)
	}
	return nil
}

func printPending(ctx context.Context, deps *bootstrap.Dependencies) error {
	jobs, err := deps.Store.ListPending(ctx, 50)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	for _, j := range jobs {
		fmt.Printf("%s  %s  %s\n", j.ID, j.CreatedAt.Format(time.RFC3339), j.OriginalFilename)
	}
	fmt.Printf("%d pending job(s)\n", len(jobs))
	return nil
}
