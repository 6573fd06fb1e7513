// Package consumer receives worker result messages from the broker and
// hands them to the ingestion pipeline.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/domain"
)

const (
	resultQueue = "job-results"

	// Reconnection parameters
	maxReconnectDelay  = 30 * time.Second
	baseReconnectDelay = 1 * time.Second
)

// Ingestor processes one result message. A domain.ErrUnprocessableResult
// error dead-letters the delivery; any other error requeues it.
type Ingestor interface {
	Execute(ctx context.Context, msg *domain.ResultMessage) error
}

// Consumer listens on the result queue and dispatches messages to the
// ingestor with manual acknowledgement.
type Consumer struct {
	url      string
	conn     *amqplib.Connection
	channel  *amqplib.Channel
	ingestor Ingestor
	logger   *zap.Logger

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// NewConsumer creates a new result consumer.
func NewConsumer(url string, ingestor Ingestor, logger *zap.Logger) (*Consumer, error) {
	c := &Consumer{
		url:      url,
		ingestor: ingestor,
		logger:   logger,
		closeCh:  make(chan struct{}),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Consumer) connect() error {
	conn, err := amqplib.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	// Ingestion is I/O-bound and idempotent; a modest prefetch keeps the
	// pipe full without unbounded in-flight deliveries.
	if err := ch.Qos(16, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp qos: %w", err)
	}

	_, err = ch.QueueDeclare(
		resultQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqplib.Table{
			"x-queue-type":           "quorum",
			"x-dead-letter-exchange": "conduit.dlx",
		},
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp queue declare: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	return nil
}

// Start begins consuming messages. It blocks until the context is cancelled.
// On connection loss it automatically reconnects with exponential backoff.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if err == nil {
			// Context cancelled, clean shutdown.
			return nil
		}

		select {
		case <-c.closeCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		c.logger.Warn("Result consumer lost connection, reconnecting...", zap.Error(err))

		for attempt := 0; ; attempt++ {
			select {
			case <-c.closeCh:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}

			delay := time.Duration(math.Min(
				float64(baseReconnectDelay)*math.Pow(2, float64(attempt)),
				float64(maxReconnectDelay),
			))
			c.logger.Info("Reconnect attempt",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			time.Sleep(delay)

			if err := c.connect(); err != nil {
				c.logger.Error("Reconnect failed", zap.Error(err))
				continue
			}

			c.logger.Info("Reconnected to RabbitMQ")
			break
		}
	}
}

// consume runs one consume session until the delivery channel closes or
// the context is cancelled.
func (c *Consumer) consume(ctx context.Context) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("channel is nil")
	}

	deliveries, err := ch.Consume(
		resultQueue,
		"",    // auto-generated consumer tag
		false, // auto-ack disabled (manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	c.logger.Info("Result consumer started", zap.String("queue", resultQueue))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Result consumer stopping (context cancelled)")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery dispatches one delivery to the ingestor and settles it.
// Deterministic failures (unparseable bodies, domain-invalid messages) go
// to the dead-letter queue; only transient ingestion failures are
// requeued, so a poison message can never hot-loop through redelivery.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqplib.Delivery) {
	var msg domain.ResultMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.Error("Failed to unmarshal result message",
			zap.Error(err),
			zap.String("body", string(delivery.Body)),
		)
		delivery.Nack(false, false) // reject → DLQ
		return
	}

	if err := c.ingestor.Execute(ctx, &msg); err != nil {
		if errors.Is(err, domain.ErrUnprocessableResult) {
			c.logger.Error("Result message rejected",
				zap.Error(err),
				zap.String("job_id", msg.JobID.String()),
			)
			delivery.Nack(false, false) // reject → DLQ
			return
		}
		// Ingestion is idempotent by job ID, so a requeue cannot
		// double-write; it only retries the ledger.
		c.logger.Error("Result ingestion failed",
			zap.Error(err),
			zap.String("job_id", msg.JobID.String()),
		)
		delivery.Nack(false, true)
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK result message",
			zap.Error(err),
			zap.String("job_id", msg.JobID.String()),
		)
	}
}

// Close gracefully shuts down the consumer.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)

	var firstErr error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
