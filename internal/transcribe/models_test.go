package transcribe

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smap/stt-worker/internal/storage"
	"github.com/smap/stt-worker/internal/stterr"
)

func TestLookupModel(t *testing.T) {
	for _, name := range ModelNames() {
		info, err := LookupModel(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, info.Name)
		assert.True(t, strings.HasPrefix(info.FileName, "ggml-"))
		assert.Greater(t, info.SizeBytes, int64(0))
	}
}

func TestLookupModel_Unknown(t *testing.T) {
	_, err := LookupModel("gigantic")
	require.Error(t, err)
	assert.True(t, stterr.IsPermanent(err))
	assert.Equal(t, stterr.KindMissingDependency, stterr.KindOf(err))
}

func TestValidateLocal_SizeBound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ggml-test.bin")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 95), 0o644))

	d := NewDownloader(storage.NewMemoryStore(), dir, nil)

	ok, _ := d.validateLocal(path, ModelInfo{SizeBytes: 100})
	assert.True(t, ok, "95 bytes is within 90%% of 100")

	ok, reason := d.validateLocal(path, ModelInfo{SizeBytes: 200})
	assert.False(t, ok, "95 bytes is under 90%% of 200")
	assert.Contains(t, reason, "size")

	ok, reason = d.validateLocal(filepath.Join(dir, "absent.bin"), ModelInfo{SizeBytes: 10})
	assert.False(t, ok)
	assert.Equal(t, "missing", reason)
}

func TestValidateLocal_Checksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ggml-test.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	d := NewDownloader(storage.NewMemoryStore(), dir, nil)

	// md5("hello")
	ok, _ := d.validateLocal(path, ModelInfo{SizeBytes: 5, MD5: "5d41402abc4b2a76b9719d911017c592"})
	assert.True(t, ok)

	ok, reason := d.validateLocal(path, ModelInfo{SizeBytes: 5, MD5: "deadbeef"})
	assert.False(t, ok)
	assert.Equal(t, "checksum mismatch", reason)
}

func TestDownloader_Ensure_MissingBlob(t *testing.T) {
	d := NewDownloader(storage.NewMemoryStore(), t.TempDir(), nil)

	_, err := d.Ensure(context.Background(), "tiny")
	require.Error(t, err)
	assert.True(t, stterr.IsTransient(err))
	assert.Equal(t, stterr.KindBlobIO, stterr.KindOf(err))
}

func TestDownloader_Ensure_UndersizedDownloadRemoved(t *testing.T) {
	blobs := storage.NewMemoryStore()
	ctx := context.Background()
	// A few bytes where a ~75 MB model should be.
	require.NoError(t, blobs.Upload(ctx, "whisper-models/ggml-tiny.bin", strings.NewReader("stub"), ""))

	dir := t.TempDir()
	d := NewDownloader(blobs, dir, nil)

	_, err := d.Ensure(ctx, "tiny")
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "ggml-tiny.bin"))
	assert.True(t, os.IsNotExist(statErr), "partial download must be removed")
}

func TestDownloader_Ensure_UnknownModel(t *testing.T) {
	d := NewDownloader(storage.NewMemoryStore(), t.TempDir(), nil)

	_, err := d.Ensure(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, stterr.KindMissingDependency, stterr.KindOf(err))
}
