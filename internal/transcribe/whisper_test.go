package transcribe

import (
	"context"
	"testing"

	"github.com/smap/stt-worker/internal/stterr"
)

func TestTranscribeWithRetry_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	fake := Func(func(_ context.Context, _, _ string) (Result, error) {
		calls++
		if calls < 2 {
			return Result{}, stterr.Transientf(stterr.KindTranscriberCrashed, "boom")
		}
		return Result{Text: "recovered"}, nil
	})

	res, err := TranscribeWithRetry(context.Background(), fake, "chunk.wav", "en", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "recovered" {
		t.Errorf("expected recovered text, got %q", res.Text)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestTranscribeWithRetry_PermanentNotRetried(t *testing.T) {
	calls := 0
	fake := Func(func(_ context.Context, _, _ string) (Result, error) {
		calls++
		return Result{}, stterr.Permanentf(stterr.KindInvalidAudioFormat, "not audio")
	})

	_, err := TranscribeWithRetry(context.Background(), fake, "chunk.wav", "en", 3)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error must not be retried, got %d calls", calls)
	}
	if !stterr.IsPermanent(err) {
		t.Errorf("classification lost: %v", err)
	}
}

func TestTranscribeWithRetry_Exhausted(t *testing.T) {
	calls := 0
	fake := Func(func(_ context.Context, _, _ string) (Result, error) {
		calls++
		return Result{}, stterr.Transientf(stterr.KindTranscriberTimeout, "slow")
	})

	_, err := TranscribeWithRetry(context.Background(), fake, "chunk.wav", "en", 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected initial call plus 1 retry, got %d calls", calls)
	}
}

func TestTranscribeWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := Func(func(_ context.Context, _, _ string) (Result, error) {
		cancel()
		return Result{}, stterr.Transientf(stterr.KindTranscriberCrashed, "boom")
	})

	_, err := TranscribeWithRetry(ctx, fake, "chunk.wav", "en", 3)
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
