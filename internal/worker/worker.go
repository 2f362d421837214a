package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smap/stt-worker/internal/queue"
	"github.com/smap/stt-worker/internal/storage"
	"github.com/smap/stt-worker/internal/transcribe"
)

// Worker owns the process lifecycle: startup checks, the consume loop,
// and ordered shutdown. Dependencies are plain exported fields; the
// bootstrap package fills them in.
type Worker struct {
	Queue       queue.Queue
	Blobs       storage.BlobStore
	Consumer    *Consumer
	Transcriber transcribe.Transcriber

	// Prefetch bounds concurrent job processing; it is passed straight
	// to the queue as the unacknowledged-delivery limit.
	Prefetch int

	// DrainTimeout bounds how long Shutdown waits for in-flight jobs.
	DrainTimeout time.Duration

	// Closers are released during Shutdown after the drain, in order.
	// The Transcriber is always released last.
	Closers []func() error

	Logger *slog.Logger

	wg sync.WaitGroup
}

// Start verifies the blob store and consumes deliveries until ctx is
// cancelled. It blocks; run it from main and cancel ctx on SIGTERM.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Blobs.EnsureBucket(ctx); err != nil {
		return err
	}

	w.Logger.Info("worker started", slog.Int("prefetch", w.Prefetch))
	err := w.Queue.Consume(ctx, w.handle, w.Prefetch)
	if err == context.Canceled {
		return nil
	}
	return err
}

// handle tracks in-flight deliveries so Shutdown can drain them.
func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	w.wg.Add(1)
	defer w.wg.Done()
	w.Consumer.Handle(ctx, d)
}

// Shutdown waits for in-flight jobs within the drain window, then closes
// the queue connection, releases the closers, and finally the
// transcriber. Jobs still running after the window are abandoned; their
// unacknowledged messages will be redelivered.
func (w *Worker) Shutdown() {
	w.Logger.Info("draining in-flight jobs", slog.Duration("timeout", w.DrainTimeout))

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.Logger.Info("drain complete")
	case <-time.After(w.DrainTimeout):
		w.Logger.Warn("drain timeout exceeded, abandoning in-flight jobs")
	}

	if err := w.Queue.Close(); err != nil {
		w.Logger.Error("close queue", slog.String("error", err.Error()))
	}
	for _, closeFn := range w.Closers {
		if err := closeFn(); err != nil {
			w.Logger.Error("close dependency", slog.String("error", err.Error()))
		}
	}
	if err := w.Transcriber.Close(); err != nil {
		w.Logger.Error("close transcriber", slog.String("error", err.Error()))
	}
	w.Logger.Info("worker stopped")
}
