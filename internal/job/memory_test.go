package job

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_Insert(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Insert(ctx, &Job{OriginalFilename: "a.mp3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated job ID")
	}

	saved, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, saved.Status)
	}
	if saved.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestMemoryStore_Get_NotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "nonexistent")
	if err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryStore_Get_ReturnsClone(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	id, _ := store.Insert(ctx, &Job{Chunks: []Chunk{{Index: 0}}})

	found, _ := store.Get(ctx, id)
	found.Chunks[0].Text = "mutated"
	found.RetryCount = 99

	original, _ := store.Get(ctx, id)
	if original.Chunks[0].Text != "" || original.RetryCount != 0 {
		t.Error("modifying returned job should not affect store")
	}
}

func TestMemoryStore_SetStatus_Timestamps(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	id, _ := store.Insert(ctx, &Job{})

	if err := store.SetStatus(ctx, id, StatusProcessing, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	j, _ := store.Get(ctx, id)
	if j.StartedAt == nil {
		t.Fatal("expected StartedAt after PROCESSING")
	}
	started := *j.StartedAt

	// Redelivery hits PROCESSING again; the original timestamp stays.
	time.Sleep(time.Millisecond)
	_ = store.SetStatus(ctx, id, StatusProcessing, "")
	j, _ = store.Get(ctx, id)
	if !j.StartedAt.Equal(started) {
		t.Error("StartedAt must not change on repeated PROCESSING")
	}

	if err := store.SetStatus(ctx, id, StatusCompleted, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	j, _ = store.Get(ctx, id)
	if j.CompletedAt == nil {
		t.Error("expected CompletedAt after COMPLETED")
	}
}

func TestMemoryStore_SetStatus_ErrorMessage(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	id, _ := store.Insert(ctx, &Job{})

	_ = store.SetStatus(ctx, id, StatusFailed, "all 5 chunks failed")
	j, _ := store.Get(ctx, id)
	if j.Status != StatusFailed {
		t.Errorf("expected FAILED, got %s", j.Status)
	}
	if j.ErrorMessage != "all 5 chunks failed" {
		t.Errorf("unexpected error message %q", j.ErrorMessage)
	}
}

func TestMemoryStore_Update_PatchIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	id, _ := store.Insert(ctx, &Job{})

	total := 3
	text := "hello"
	patch := Patch{ChunksTotal: &total, TranscriptionText: &text}

	if err := store.Update(ctx, id, patch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Update(ctx, id, patch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	j, _ := store.Get(ctx, id)
	if j.ChunksTotal != 3 || j.TranscriptionText != "hello" {
		t.Errorf("patch not applied: total=%d text=%q", j.ChunksTotal, j.TranscriptionText)
	}
}

func TestMemoryStore_SetStatus_EnforcesTransitions(t *testing.T) {
	statuses := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	for _, from := range statuses {
		for _, to := range statuses {
			store := NewMemoryStore()
			ctx := context.Background()
			id, _ := store.Insert(ctx, &Job{})
			seed := from
			if err := store.Update(ctx, id, Patch{Status: &seed}); err != nil {
				t.Fatalf("seed %s: %v", from, err)
			}

			err := store.SetStatus(ctx, id, to, "")
			allowed := from == to || CanTransition(from, to)
			if allowed && err != nil {
				t.Errorf("SetStatus(%s -> %s): unexpected error %v", from, to, err)
			}
			if !allowed {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("SetStatus(%s -> %s): expected ErrInvalidTransition, got %v", from, to, err)
				}
				j, _ := store.Get(ctx, id)
				if j.Status != from {
					t.Errorf("SetStatus(%s -> %s): status moved to %s despite refusal", from, to, j.Status)
				}
			}
		}
	}
}

func TestMemoryStore_SetStatus_TerminalIsFinal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	id, _ := store.Insert(ctx, &Job{})

	_ = store.SetStatus(ctx, id, StatusProcessing, "")
	_ = store.SetStatus(ctx, id, StatusFailed, "decoder rejected input")

	// A redelivered message must not revive the record.
	if err := store.SetStatus(ctx, id, StatusProcessing, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FAILED -> PROCESSING: expected ErrInvalidTransition, got %v", err)
	}
	if err := store.SetStatus(ctx, id, StatusCompleted, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FAILED -> COMPLETED: expected ErrInvalidTransition, got %v", err)
	}

	j, _ := store.Get(ctx, id)
	if j.Status != StatusFailed || j.ErrorMessage != "decoder rejected input" {
		t.Errorf("terminal record changed: status=%s error=%q", j.Status, j.ErrorMessage)
	}
}

func TestMemoryStore_IncrementRetry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	id, _ := store.Insert(ctx, &Job{})

	for i := 0; i < 3; i++ {
		if err := store.IncrementRetry(ctx, id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	j, _ := store.Get(ctx, id)
	if j.RetryCount != 3 {
		t.Errorf("expected retry count 3, got %d", j.RetryCount)
	}
}

func TestMemoryStore_ListPending_OldestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	first, _ := store.Insert(ctx, &Job{})
	second, _ := store.Insert(ctx, &Job{})
	third, _ := store.Insert(ctx, &Job{})
	_ = store.SetStatus(ctx, second, StatusProcessing, "")

	pending, err := store.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", len(pending))
	}
	if pending[0].ID != first || pending[1].ID != third {
		t.Errorf("expected [%s %s], got [%s %s]", first, third, pending[0].ID, pending[1].ID)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, true}, // requeue path
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusPending, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCompletedChunks(t *testing.T) {
	j := &Job{Chunks: []Chunk{
		{Index: 0, Status: ChunkCompleted, Text: "a"},
		{Index: 1, Status: ChunkFailed},
		{Index: 2, Status: ChunkCompleted, Text: "b"},
	}}

	done := j.CompletedChunks()
	if len(done) != 2 {
		t.Fatalf("expected 2 completed chunks, got %d", len(done))
	}
	if done[0].Text != "a" || done[1].Text != "b" {
		t.Errorf("unexpected chunks %v", done)
	}
}
