package transcribe

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/smap/stt-worker/internal/storage"
	"github.com/smap/stt-worker/internal/stterr"
)

// modelBlobPrefix is where model files live in the blob store.
const modelBlobPrefix = "whisper-models/"

// ModelInfo describes one known whisper model.
type ModelInfo struct {
	Name      string
	FileName  string
	SizeBytes int64
	// MD5 is the expected checksum; empty skips the checksum check.
	MD5 string
}

// modelCatalog lists the known ggml model files with their download
// sizes. Size validation accepts anything within 90% of these values, so
// minor upstream revisions do not break startup.
var modelCatalog = map[string]ModelInfo{
	"tiny":   {Name: "tiny", FileName: "ggml-tiny.bin", SizeBytes: 77_691_713},
	"base":   {Name: "base", FileName: "ggml-base.bin", SizeBytes: 147_951_465},
	"small":  {Name: "small", FileName: "ggml-small.bin", SizeBytes: 487_601_967},
	"medium": {Name: "medium", FileName: "ggml-medium.bin", SizeBytes: 1_533_763_059},
	"large":  {Name: "large", FileName: "ggml-large-v3.bin", SizeBytes: 3_095_033_483},
}

// LookupModel returns the catalog entry for a model name.
func LookupModel(name string) (ModelInfo, error) {
	info, ok := modelCatalog[name]
	if !ok {
		return ModelInfo{}, stterr.Permanentf(stterr.KindMissingDependency, "unknown model %q", name)
	}
	return info, nil
}

// ModelNames returns the known model names.
func ModelNames() []string {
	return []string{"tiny", "base", "small", "medium", "large"}
}

// Downloader fetches whisper models from the blob store into a local
// directory and validates them. Validated paths are cached so repeated
// Ensure calls are free.
type Downloader struct {
	blobs  storage.BlobStore
	dir    string
	logger *slog.Logger

	mu        sync.Mutex
	validated map[string]string
}

// NewDownloader creates a Downloader that stores models under dir.
func NewDownloader(blobs storage.BlobStore, dir string, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		blobs:     blobs,
		dir:       dir,
		logger:    logger,
		validated: make(map[string]string),
	}
}

// Ensure returns the local path of a validated model file, downloading it
// from the blob store when the local copy is missing or undersized.
func (d *Downloader) Ensure(ctx context.Context, model string) (string, error) {
	info, err := LookupModel(model)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if path, ok := d.validated[model]; ok {
		return path, nil
	}

	localPath := filepath.Join(d.dir, info.FileName)
	if valid, _ := d.validateLocal(localPath, info); valid {
		d.validated[model] = localPath
		return localPath, nil
	}

	if err := d.download(ctx, info, localPath); err != nil {
		return "", err
	}
	if valid, reason := d.validateLocal(localPath, info); !valid {
		os.Remove(localPath)
		return "", stterr.Transientf(stterr.KindBlobIO, "downloaded model %s invalid: %s", model, reason)
	}

	d.validated[model] = localPath
	return localPath, nil
}

// validateLocal checks the size bound and, when the catalog carries one,
// the MD5 checksum.
func (d *Downloader) validateLocal(path string, info ModelInfo) (bool, string) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, "missing"
	}
	minSize := info.SizeBytes * 9 / 10
	if fi.Size() < minSize {
		return false, fmt.Sprintf("size %d below minimum %d", fi.Size(), minSize)
	}
	if info.MD5 != "" {
		sum, err := fileMD5(path)
		if err != nil || sum != info.MD5 {
			return false, "checksum mismatch"
		}
	}
	return true, ""
}

// download streams the model from the blob store to localPath, removing
// the partial file on any failure.
func (d *Downloader) download(ctx context.Context, info ModelInfo, localPath string) error {
	d.logger.Info("downloading model",
		slog.String("model", info.Name),
		slog.Int64("size_bytes", info.SizeBytes))

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	src, err := d.blobs.Download(ctx, modelBlobPrefix+info.FileName)
	if err != nil {
		return stterr.Transientf(stterr.KindBlobIO, "fetch model %s: %v", info.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(localPath)
		return stterr.Transientf(stterr.KindBlobIO, "write model %s: %v", info.Name, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("close model file: %w", err)
	}
	return nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
