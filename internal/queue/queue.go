package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/verticut/internal/config"
	"github.com/therealutkarshpriyadarshi/verticut/internal/logging"
)

const (
	DefaultQueueName = "export_jobs"
	ExchangeName     = "verticut"
)

// ErrRetry marks a handler error as transient: the message is retried later
var ErrRetry = errors.New("retry later")

// Retry wraps err so the consumer schedules another attempt
func Retry(err error) error {
	return fmt.Errorf("%w: %w", ErrRetry, err)
}

// ExportMessage is the body of a queued export
type ExportMessage struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue provides message queue operations
type Queue struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	logger    *logging.Logger
}

// New creates a new queue client and declares the export topology
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	queueName := cfg.QueueName
	if queueName == "" {
		queueName = DefaultQueueName
	}
	if logger == nil {
		logger = logging.Nop()
	}
	q := &Queue{conn: conn, channel: channel, queueName: queueName, logger: logger}

	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}
	if err := q.SetupDeadLetterQueue(); err != nil {
		q.Close()
		return nil, err
	}

	return q, nil
}

func (q *Queue) declare() error {
	// Declare exchange
	err := q.channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	_, err = q.channel.QueueDeclare(
		q.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	if err := q.channel.QueueBind(q.queueName, q.queueName, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishExport queues an export job by ID
func (q *Queue) PublishExport(ctx context.Context, jobID string) error {
	body, err := encodeMessage(ExportMessage{JobID: jobID, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	err = q.channel.PublishWithContext(ctx,
		ExchangeName,
		q.queueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			MessageId:    jobID,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish export: %w", err)
	}

	return nil
}

// Handler processes one export message
type Handler func(ctx context.Context, msg ExportMessage) error

// ConsumeExports starts consuming exports one at a time. Handler errors wrapped
// with Retry go to the retry queue; other errors are final and the message is acked,
// since the job record already carries the failure.
func (q *Queue) ConsumeExports(ctx context.Context, handler Handler) error {
	// one unacked export per consumer
	err := q.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		q.queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				q.handle(ctx, msg, handler)
			}
		}
	}()

	return nil
}

func (q *Queue) handle(ctx context.Context, msg amqp.Delivery, handler Handler) {
	export, err := decodeMessage(msg.Body)
	if err != nil {
		if dlqErr := q.PublishToDeadLetterQueue(ctx, msg.Body, err.Error()); dlqErr != nil {
			q.logger.ErrorWithErr("failed to dead-letter message", dlqErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryCount := retryCountOf(msg.Headers)
	switch action := decideAction(handler(ctx, export), retryCount); action {
	case actionAck:
		msg.Ack(false)
	case actionRetry:
		if err := q.PublishToRetryQueue(ctx, export, retryCount); err != nil {
			q.logger.WithJobID(export.JobID).ErrorWithErr("failed to schedule retry", err)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
	case actionDeadLetter:
		if err := q.PublishToDeadLetterQueue(ctx, msg.Body, "max retries exceeded"); err != nil {
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
	}
}

type action int

const (
	actionAck action = iota
	actionRetry
	actionDeadLetter
)

func decideAction(err error, retryCount int) action {
	if err == nil || !errors.Is(err, ErrRetry) {
		return actionAck
	}
	if retryCount >= MaxRetries {
		return actionDeadLetter
	}
	return actionRetry
}

func retryCountOf(headers amqp.Table) int {
	switch v := headers["x-retry-count"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

func encodeMessage(msg ExportMessage) ([]byte, error) {
	if msg.JobID == "" {
		return nil, fmt.Errorf("export message without job id")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export message: %w", err)
	}
	return body, nil
}

func decodeMessage(body []byte) (ExportMessage, error) {
	var msg ExportMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("malformed export message: %w", err)
	}
	if msg.JobID == "" {
		return msg, fmt.Errorf("export message without job id")
	}
	return msg, nil
}

// GetQueueDepth returns the number of messages in the queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(q.queueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}
