package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/smap/stt-worker/internal/merge"
	"github.com/smap/stt-worker/internal/stterr"
)

// WhisperConfig holds the whisper-cli invocation settings.
type WhisperConfig struct {
	// Executable is the whisper-cli binary. Defaults to "whisper-cli".
	Executable string
	// ModelPath is the ggml model file to load.
	ModelPath string
	// ChunkTimeout bounds one Transcribe call. Zero disables the bound.
	ChunkTimeout time.Duration
}

// Compile-time check that Whisper implements Transcriber.
var _ Transcriber = (*Whisper)(nil)

// Whisper transcribes chunks by invoking whisper-cli as a subprocess.
// The mutex serializes invocations: each run loads the model into the
// process, so running several at once would thrash memory without
// finishing any faster.
type Whisper struct {
	mu  sync.Mutex
	cfg WhisperConfig
}

// NewWhisper validates the binary and model file and returns a Whisper.
func NewWhisper(cfg WhisperConfig) (*Whisper, error) {
	if cfg.Executable == "" {
		cfg.Executable = "whisper-cli"
	}
	if _, err := exec.LookPath(cfg.Executable); err != nil {
		return nil, stterr.Permanentf(stterr.KindMissingDependency, "whisper binary: %v", err)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, stterr.Permanentf(stterr.KindMissingDependency, "whisper model: %v", err)
	}
	return &Whisper{cfg: cfg}, nil
}

// Transcribe runs whisper-cli on one chunk file. The flags suppress
// hallucinated repetitions on silent or noisy chunks.
func (w *Whisper) Transcribe(ctx context.Context, chunkPath, language string) (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cfg.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.ChunkTimeout)
		defer cancel()
	}

	args := []string{
		"-m", w.cfg.ModelPath,
		"-f", chunkPath,
		"-l", language,
		"--output-txt",
		"--no-timestamps",
		"--no-context",
		"--suppress-hallucination",
	}
	cmd := exec.CommandContext(ctx, w.cfg.Executable, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	txtPath := chunkPath + ".txt"
	defer os.Remove(txtPath)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, stterr.Transientf(stterr.KindTranscriberTimeout,
				"whisper timed out after %s on %s", w.cfg.ChunkTimeout, chunkPath)
		}
		if strings.Contains(stderr.String(), "failed to read") ||
			strings.Contains(stderr.String(), "failed to open") {
			return Result{}, stterr.Permanentf(stterr.KindInvalidAudioFormat,
				"whisper rejected %s: %s", chunkPath, strings.TrimSpace(stderr.String()))
		}
		return Result{}, stterr.Transientf(stterr.KindTranscriberCrashed,
			"whisper exited: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	text, err := readTranscript(txtPath, stdout.String())
	if err != nil {
		return Result{}, stterr.Transientf(stterr.KindTranscriberCrashed, "read transcript: %v", err)
	}
	return Result{Text: text}, nil
}

// Close releases the transcriber. The subprocess adapter holds no
// persistent engine, so this only blocks until in-flight runs finish.
func (w *Whisper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return nil
}

// readTranscript prefers the --output-txt file and falls back to stdout
// when the file is missing, which older whisper-cli builds produce.
func readTranscript(txtPath, stdout string) (string, error) {
	data, err := os.ReadFile(txtPath)
	if err == nil {
		return merge.Clean(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	return merge.Clean(stdout), nil
}

// TranscribeWithRetry runs t.Transcribe with up to maxRetries additional
// attempts, backing off 2^attempt seconds. Only timeouts and crashes are
// retried; permanent classifications fail immediately.
func TranscribeWithRetry(ctx context.Context, t Transcriber, chunkPath, language string, maxRetries int) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		res, err := t.Transcribe(ctx, chunkPath, language)
		if err == nil {
			return res, nil
		}
		lastErr = err

		switch stterr.KindOf(err) {
		case stterr.KindTranscriberTimeout, stterr.KindTranscriberCrashed:
			continue
		default:
			return Result{}, err
		}
	}
	return Result{}, fmt.Errorf("transcribe %s after %d retries: %w", chunkPath, maxRetries, lastErr)
}
