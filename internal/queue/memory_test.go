package queue

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMemoryQueue_PublishConsumeAck(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	msg := NewMessage("j1", "vi", "medium", "a.mp3")
	if err := q.Publish(ctx, msg, "stt.process", DefaultPriority); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got Message
	err := q.Consume(ctx, func(_ context.Context, d Delivery) {
		if err := json.Unmarshal(d.Body(), &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		_ = d.Ack()
	}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.JobID != "j1" {
		t.Errorf("expected job j1, got %q", got.JobID)
	}
	if q.Acked() != 1 {
		t.Errorf("expected 1 ack, got %d", q.Acked())
	}
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Errorf("expected empty queue, got depth %d", depth)
	}
}

func TestMemoryQueue_RequeuePutsMessageBack(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	_ = q.PublishRaw([]byte(`{"job_id":"j1"}`))

	deliveries := 0
	err := q.Consume(ctx, func(_ context.Context, d Delivery) {
		deliveries++
		if deliveries == 1 {
			_ = d.Requeue()
			return
		}
		_ = d.Ack()
	}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if deliveries != 2 {
		t.Errorf("expected redelivery, got %d deliveries", deliveries)
	}
}

func TestMemoryQueue_RejectDeadLetters(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	_ = q.PublishRaw([]byte(`not json`))

	err := q.Consume(ctx, func(_ context.Context, d Delivery) {
		_ = d.Reject()
	}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dead := q.DeadLetters()
	if len(dead) != 1 || string(dead[0]) != "not json" {
		t.Errorf("expected 1 dead letter, got %v", dead)
	}
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Errorf("expected empty queue, got depth %d", depth)
	}
}

func TestMemoryQueue_ClosedRejectsPublish(t *testing.T) {
	q := NewMemoryQueue()
	_ = q.Close()

	if err := q.Publish(context.Background(), Message{JobID: "j1"}, "k", 0); err == nil {
		t.Error("expected publish to closed queue to fail")
	}
}
