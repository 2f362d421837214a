package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/smap/stt-worker/internal/job"
	"github.com/smap/stt-worker/internal/queue"
	"github.com/smap/stt-worker/internal/stterr"
)

// Consumer maps queue deliveries onto orchestrator runs and settles each
// message according to the error classification: success acks, permanent
// failures dead-letter, transient failures requeue after bumping the
// job's retry count.
type Consumer struct {
	orchestrator *Orchestrator
	store        job.Store
	logger       *slog.Logger
}

// NewConsumer creates a Consumer.
func NewConsumer(orchestrator *Orchestrator, store job.Store, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{orchestrator: orchestrator, store: store, logger: logger}
}

// Handle processes one delivery and calls exactly one disposition method.
// It never returns an error: every failure mode maps to a disposition.
func (c *Consumer) Handle(ctx context.Context, d queue.Delivery) {
	msg, err := decodeMessage(d.Body())
	if err != nil {
		// Malformed payloads can never succeed; retrying burns the queue.
		c.logger.Error("rejecting malformed message", slog.String("error", err.Error()))
		c.settle(d.Reject, "reject")
		return
	}

	log := c.logger.With(slog.String("job_id", msg.JobID))
	err = c.runSafely(ctx, msg.JobID)
	if err == nil {
		c.settle(d.Ack, "ack")
		return
	}

	if stterr.IsPermanent(err) {
		log.Error("job failed permanently",
			slog.String("kind", string(stterr.KindOf(err))),
			slog.String("error", err.Error()))
		c.settle(d.Reject, "reject")
		return
	}

	// Transient, or unclassified which we treat the same: count the
	// attempt and give the message back to the broker.
	log.Warn("job failed transiently, requeueing",
		slog.String("kind", string(stterr.KindOf(err))),
		slog.String("error", err.Error()))
	if incErr := c.store.IncrementRetry(ctx, msg.JobID); incErr != nil {
		log.Error("increment retry count", slog.String("error", incErr.Error()))
	}
	c.settle(d.Requeue, "requeue")
}

// runSafely runs the orchestrator, converting a panic into a transient
// error so one poisoned job cannot take the worker down.
func (c *Consumer) runSafely(ctx context.Context, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = stterr.Transientf(stterr.KindTranscriberCrashed, "panic processing job %s: %v", jobID, r)
		}
	}()
	return c.orchestrator.Run(ctx, jobID)
}

// settle invokes a disposition and logs broker failures; there is nothing
// else to do with them, the broker will redeliver unsettled messages.
func (c *Consumer) settle(fn func() error, name string) {
	if err := fn(); err != nil {
		c.logger.Error("settle delivery",
			slog.String("disposition", name),
			slog.String("error", err.Error()))
	}
}

// decodeMessage parses and minimally validates a queue payload.
func decodeMessage(body []byte) (queue.Message, error) {
	var msg queue.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return queue.Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.JobID == "" {
		return queue.Message{}, fmt.Errorf("message missing job_id")
	}
	return msg, nil
}
