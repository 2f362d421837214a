package worker

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smap/stt-worker/internal/job"
	"github.com/smap/stt-worker/internal/queue"
	"github.com/smap/stt-worker/internal/storage"
)

func TestWorker_ProcessesQueueAndShutsDown(t *testing.T) {
	store := &countingStore{MemoryStore: job.NewMemoryStore()}
	blobs := storage.NewMemoryStore()
	q := queue.NewMemoryQueue()
	ctx := context.Background()

	sub := job.NewSubmitter(store, blobs, q, job.SubmitterConfig{
		RoutingKey:      "stt.process",
		MaxUploadMB:     500,
		DefaultLanguage: "en",
		DefaultModel:    "tiny",
	}, nil)

	j1, err := sub.SubmitUpload(ctx, "one.mp3", strings.NewReader("audio-1"), 0.1, "", "")
	require.NoError(t, err)
	j2, err := sub.SubmitUpload(ctx, "two.mp3", strings.NewReader("audio-2"), 0.1, "", "")
	require.NoError(t, err)

	transcriber := indexedTranscriber()
	orch := NewOrchestrator(store, blobs, &fakeChunker{segments: segmentsOfLen(2), duration: 60}, transcriber, OrchestratorConfig{
		MaxParallelWorkers: 2,
		TempDir:            t.TempDir(),
	}, nil)

	closed := false
	w := &Worker{
		Queue:        q,
		Blobs:        blobs,
		Consumer:     NewConsumer(orch, store, nil),
		Transcriber:  transcriber,
		Prefetch:     2,
		DrainTimeout: time.Second,
		Closers:      []func() error{func() error { closed = true; return nil }},
		Logger:       testLogger(),
	}

	// MemoryQueue.Consume returns once drained, so Start comes back
	// after both jobs are settled.
	require.NoError(t, w.Start(ctx))
	w.Shutdown()

	assert.True(t, closed, "closers must run during shutdown")
	assert.Equal(t, 2, q.Acked())

	for _, id := range []string{j1.ID, j2.ID} {
		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, got.Status)
		assert.NotEmpty(t, got.TranscriptionText)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_StartFailsWhenBucketUnavailable(t *testing.T) {
	blobs := &failingBucketStore{MemoryStore: storage.NewMemoryStore()}
	w := &Worker{
		Queue:        queue.NewMemoryQueue(),
		Blobs:        blobs,
		Transcriber:  indexedTranscriber(),
		Prefetch:     1,
		DrainTimeout: time.Second,
		Logger:       testLogger(),
	}

	err := w.Start(context.Background())
	require.Error(t, err)
}

type failingBucketStore struct {
	*storage.MemoryStore
}

func (s *failingBucketStore) EnsureBucket(context.Context) error {
	return assert.AnError
}
