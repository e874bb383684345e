package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"mediagen/internal/infra"
)

const (
	amqpExchange  = "mediagen.tasks"
	amqpWorkQueue = "mediagen.tasks.work"
	// Expired messages on the holding queue dead-letter back into the work
	// queue, which is how SubmitAfter delays delivery without blocking a
	// consumer.
	amqpDelayQueue = "mediagen.tasks.delay"
	amqpRoutingKey = "task"
)

// AMQPQueue is the RabbitMQ-backed TaskQueue. Deliveries are acknowledged
// only after the handler returns, so a worker crash mid-task results in
// redelivery rather than loss.
type AMQPQueue struct {
	channel *amqp.Channel
	logger  infra.Logger

	// OnDrop, when set, is invoked with the decoded task and the handler
	// error whenever a delivery is discarded for good, so the failure can be
	// recorded on the affected job instead of vanishing with the message.
	OnDrop func(ctx context.Context, task Task, taskErr error)
}

// NewAMQPQueue declares the exchange and queues on a fresh channel.
func NewAMQPQueue(conn *amqp.Connection, logger infra.Logger) (*AMQPQueue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(amqpExchange, "direct", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(amqpWorkQueue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare work queue: %w", err)
	}
	if err := ch.QueueBind(amqpWorkQueue, amqpRoutingKey, amqpExchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind work queue: %w", err)
	}

	if _, err := ch.QueueDeclare(amqpDelayQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    amqpExchange,
		"x-dead-letter-routing-key": amqpRoutingKey,
	}); err != nil {
		return nil, fmt.Errorf("declare delay queue: %w", err)
	}

	return &AMQPQueue{channel: ch, logger: logger}, nil
}

// Submit publishes the task to the work queue.
func (q *AMQPQueue) Submit(ctx context.Context, task Task) (string, error) {
	return q.publish(ctx, task, "", 0)
}

// SubmitAfter publishes the task to the delay queue with a per-message TTL.
func (q *AMQPQueue) SubmitAfter(ctx context.Context, task Task, delay time.Duration) (string, error) {
	if delay <= 0 {
		return q.Submit(ctx, task)
	}
	return q.publish(ctx, task, amqpDelayQueue, delay)
}

func (q *AMQPQueue) publish(ctx context.Context, task Task, directQueue string, ttl time.Duration) (string, error) {
	if task.Ref == "" {
		task.Ref = uuid.NewString()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.Ref,
		Body:         body,
	}

	if directQueue != "" {
		pub.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
		// Default exchange routes straight to the holding queue.
		if err := q.channel.PublishWithContext(ctx, "", directQueue, false, false, pub); err != nil {
			return "", fmt.Errorf("publish delayed task: %w", err)
		}
		return task.Ref, nil
	}

	if err := q.channel.PublishWithContext(ctx, amqpExchange, amqpRoutingKey, false, false, pub); err != nil {
		return "", fmt.Errorf("publish task: %w", err)
	}
	return task.Ref, nil
}

// Consume pulls tasks from the work queue and dispatches them to the handlers
// keyed by task type until ctx is done. Unknown task types are dropped after
// logging. Backoff retries are the coordinator's decision, not the broker's;
// the broker only redelivers when a handler fails outright.
func (q *AMQPQueue) Consume(ctx context.Context, handlers map[TaskType]Handler) error {
	if err := q.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := q.channel.Consume(amqpWorkQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqp channel closed")
			}
			q.dispatch(ctx, msg, handlers)
		}
	}
}

func (q *AMQPQueue) dispatch(ctx context.Context, msg amqp.Delivery, handlers map[TaskType]Handler) {
	var task Task
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		q.logger.Error().Err(err).Msg("queue: failed to decode task")
		_ = msg.Nack(false, false)
		return
	}
	handler, ok := handlers[task.Type]
	if !ok {
		q.logger.Error().Str("task_type", string(task.Type)).Msg("queue: no handler for task type")
		if q.OnDrop != nil {
			q.OnDrop(ctx, task, fmt.Errorf("no handler for task type %q", task.Type))
		}
		_ = msg.Nack(false, false)
		return
	}
	if err := handler(ctx, task); err != nil {
		q.logger.Error().Err(err).
			Str("task_type", string(task.Type)).
			Str("job_id", task.JobID).
			Msg("queue: task handler failed")
		// Requeue a first failure so a transient store outage gets one more
		// delivery; drop on the second to keep a poisoned task from looping.
		if msg.Redelivered {
			if q.OnDrop != nil {
				q.OnDrop(ctx, task, err)
			}
			_ = msg.Nack(false, false)
			return
		}
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
