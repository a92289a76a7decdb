package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

// RabbitMQConsumer runs a handler over one queue with manual acks. Failed
// jobs are requeued once, then dead-lettered.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx is canceled, resubscribing after broker errors.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for ctx.Err() == nil {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("resend consumer interrupted",
			zap.String("queue", queue),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}

	return nil
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.openChannel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", queue)
			}
			if err := settle(d, c.process(ctx, d, handler)); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) process(ctx context.Context, d amqp.Delivery, handler MessageHandler) settlement {
	job, err := DecodeResendJob(d.Body)
	if err != nil {
		c.logger.Warn("dead-lettering malformed resend job",
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		return settleDeadLetter
	}

	if err := handler(ctx, job); err != nil {
		outcome := settleRequeue
		if d.Redelivered {
			outcome = settleDeadLetter
		}
		c.logger.Warn("resend job failed",
			zap.String("jobId", job.JobID),
			zap.Bool("requeue", outcome == settleRequeue),
			zap.Error(err),
		)
		return outcome
	}

	return settleAck
}

func settle(d amqp.Delivery, outcome settlement) error {
	var err error
	switch outcome {
	case settleAck:
		err = d.Ack(false)
	case settleRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		return fmt.Errorf("failed to settle delivery %d: %w", d.DeliveryTag, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
