// Package queue provides the work queue port for transcription jobs.
// It defines the Queue interface and implementations for RabbitMQ and
// in-memory testing. Delivery is at-least-once; consumers must tolerate
// redelivered messages.
package queue

import (
	"context"
	"time"
)

// Message is the wire payload published for each submitted job.
// PublishedAt is seconds since the Unix epoch.
type Message struct {
	JobID       string  `json:"job_id"`
	Language    string  `json:"language"`
	Model       string  `json:"model"`
	Filename    string  `json:"filename"`
	PublishedAt float64 `json:"published_at"`
}

// NewMessage builds the payload for a job, stamping the publish time.
func NewMessage(jobID, language, model, filename string) Message {
	return Message{
		JobID:       jobID,
		Language:    language,
		Model:       model,
		Filename:    filename,
		PublishedAt: float64(time.Now().UnixMilli()) / 1000,
	}
}

// Priority bounds for published messages.
const (
	MinPriority     uint8 = 0
	DefaultPriority uint8 = 5
	MaxPriority     uint8 = 10
)

// Delivery is one received message together with its disposition controls.
// Exactly one of Ack, Requeue, or Reject must be called per delivery.
type Delivery interface {
	// Body returns the raw message payload.
	Body() []byte

	// Ack acknowledges the message; the broker removes it.
	Ack() error

	// Requeue returns the message to the queue for another attempt.
	Requeue() error

	// Reject drops the message to the dead letter queue.
	Reject() error
}

// Handler processes one delivery. It is responsible for calling exactly
// one disposition method before returning.
type Handler func(ctx context.Context, d Delivery)

// Queue defines the interface for the job work queue.
type Queue interface {
	// Publish sends a message with the given routing key and priority.
	Publish(ctx context.Context, msg Message, routingKey string, priority uint8) error

	// Consume delivers messages to handler until ctx is cancelled. At most
	// prefetch messages are outstanding without a disposition at once.
	Consume(ctx context.Context, handler Handler, prefetch int) error

	// Depth returns the number of messages waiting in the queue.
	Depth(ctx context.Context) (int, error)

	// Close releases the broker connection.
	Close() error
}
