package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/smap/stt-worker/internal/stterr"
)

// RabbitConfig holds the RabbitMQ topology settings.
type RabbitConfig struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
	DeadLetter string
	// MessageTTL bounds how long a message may wait before it is
	// dead-lettered. Zero disables the per-message TTL.
	MessageTTL time.Duration
}

// Compile-time check that RabbitQueue implements Queue.
var _ Queue = (*RabbitQueue)(nil)

// RabbitQueue is a Queue backed by RabbitMQ. The queue is durable with
// priority support and a dead letter exchange for rejected messages.
type RabbitQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	cfg  RabbitConfig
}

// NewRabbitQueue connects to RabbitMQ and declares the exchange, queue,
// and dead letter topology. Declarations are idempotent.
func NewRabbitQueue(cfg RabbitConfig) (*RabbitQueue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, stterr.Transientf(stterr.KindBrokerConnect, "dial rabbitmq: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, stterr.Transientf(stterr.KindBrokerConnect, "open channel: %v", err)
	}

	q := &RabbitQueue{conn: conn, ch: ch, cfg: cfg}
	if err := q.declare(); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitQueue) declare() error {
	if err := q.ch.ExchangeDeclare(q.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return stterr.Transientf(stterr.KindBrokerConnect, "declare exchange: %v", err)
	}

	dlx := q.cfg.Exchange + ".dlx"
	if err := q.ch.ExchangeDeclare(dlx, "topic", true, false, false, false, nil); err != nil {
		return stterr.Transientf(stterr.KindBrokerConnect, "declare dead letter exchange: %v", err)
	}
	if _, err := q.ch.QueueDeclare(q.cfg.DeadLetter, true, false, false, false, nil); err != nil {
		return stterr.Transientf(stterr.KindBrokerConnect, "declare dead letter queue: %v", err)
	}
	if err := q.ch.QueueBind(q.cfg.DeadLetter, "#", dlx, false, nil); err != nil {
		return stterr.Transientf(stterr.KindBrokerConnect, "bind dead letter queue: %v", err)
	}

	args := amqp.Table{
		"x-max-priority":         int32(MaxPriority),
		"x-dead-letter-exchange": dlx,
	}
	if _, err := q.ch.QueueDeclare(q.cfg.Queue, true, false, false, false, args); err != nil {
		return stterr.Transientf(stterr.KindBrokerConnect, "declare queue: %v", err)
	}
	if err := q.ch.QueueBind(q.cfg.Queue, q.cfg.RoutingKey, q.cfg.Exchange, false, nil); err != nil {
		return stterr.Transientf(stterr.KindBrokerConnect, "bind queue: %v", err)
	}
	return nil
}

// Publish sends a persistent message with the given routing key and priority.
func (q *RabbitQueue) Publish(ctx context.Context, msg Message, routingKey string, priority uint8) error {
	if priority > MaxPriority {
		priority = MaxPriority
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     priority,
		Timestamp:    time.Unix(int64(msg.PublishedAt), 0),
		Body:         body,
		Headers: amqp.Table{
			"x-job-id":       msg.JobID,
			"x-published-at": msg.PublishedAt,
		},
	}
	if q.cfg.MessageTTL > 0 {
		pub.Expiration = strconv.FormatInt(q.cfg.MessageTTL.Milliseconds(), 10)
	}

	if err := q.ch.PublishWithContext(ctx, q.cfg.Exchange, routingKey, false, false, pub); err != nil {
		return stterr.Transientf(stterr.KindBrokerConnect, "publish: %v", err)
	}
	return nil
}

// Consume delivers messages to handler until ctx is cancelled. Each
// delivery runs on its own goroutine; the prefetch window bounds how
// many can be outstanding, which is what limits worker concurrency.
func (q *RabbitQueue) Consume(ctx context.Context, handler Handler, prefetch int) error {
	if err := q.ch.Qos(prefetch, 0, false); err != nil {
		return stterr.Transientf(stterr.KindBrokerConnect, "set qos: %v", err)
	}

	deliveries, err := q.ch.Consume(q.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return stterr.Transientf(stterr.KindBrokerConnect, "start consume: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return stterr.Transientf(stterr.KindBrokerConnect, "delivery channel closed")
			}
			go handler(ctx, &rabbitDelivery{d: d})
		}
	}
}

// Depth returns the number of messages waiting in the queue.
func (q *RabbitQueue) Depth(_ context.Context) (int, error) {
	state, err := q.ch.QueueDeclarePassive(q.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return 0, stterr.Transientf(stterr.KindBrokerConnect, "inspect queue: %v", err)
	}
	return state.Messages, nil
}

// Close releases the channel and connection.
func (q *RabbitQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}

// rabbitDelivery adapts an amqp delivery to the Delivery interface.
type rabbitDelivery struct {
	d amqp.Delivery
}

func (r *rabbitDelivery) Body() []byte { return r.d.Body }

func (r *rabbitDelivery) Ack() error { return r.d.Ack(false) }

func (r *rabbitDelivery) Requeue() error { return r.d.Nack(false, true) }

func (r *rabbitDelivery) Reject() error { return r.d.Nack(false, false) }
