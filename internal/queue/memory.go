package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Compile-time check that MemoryQueue implements Queue.
var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is an in-memory implementation of Queue. Requeued messages
// go back to the pending list; rejected messages land in a dead letter
// list inspectable by tests.
type MemoryQueue struct {
	mu         sync.Mutex
	pending    [][]byte
	deadLetter [][]byte
	acked      int
	closed     bool
}

// NewMemoryQueue creates a new in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Publish appends the message to the pending list. Priority is ignored;
// the in-memory queue is FIFO.
func (q *MemoryQueue) Publish(_ context.Context, msg Message, _ string, _ uint8) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return q.PublishRaw(body)
}

// PublishRaw enqueues a raw payload. Test helper for malformed messages.
func (q *MemoryQueue) PublishRaw(body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	q.pending = append(q.pending, body)
	return nil
}

// Consume delivers pending messages to handler one at a time until the
// queue is empty or ctx is cancelled. Unlike the broker-backed queue it
// returns nil when drained, which lets tests run it synchronously.
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler, _ int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		body := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		handler(ctx, &memoryDelivery{q: q, body: body})
	}
}

// Depth returns the number of pending messages.
func (q *MemoryQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

// Close marks the queue closed; further publishes fail.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Acked returns the number of acknowledged deliveries. Test helper.
func (q *MemoryQueue) Acked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

// DeadLetters returns the rejected payloads. Test helper.
func (q *MemoryQueue) DeadLetters() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out
}

// memoryDelivery adapts a queued payload to the Delivery interface.
type memoryDelivery struct {
	q    *MemoryQueue
	body []byte
}

func (d *memoryDelivery) Body() []byte { return d.body }

func (d *memoryDelivery) Ack() error {
	d.q.mu.Lock()
	defer d.q.mu.Unlock()
	d.q.acked++
	return nil
}

func (d *memoryDelivery) Requeue() error {
	d.q.mu.Lock()
	defer d.q.mu.Unlock()
	d.q.pending = append(d.q.pending, d.body)
	return nil
}

func (d *memoryDelivery) Reject() error {
	d.q.mu.Lock()
	defer d.q.mu.Unlock()
	d.q.deadLetter = append(d.q.deadLetter, d.body)
	return nil
}
