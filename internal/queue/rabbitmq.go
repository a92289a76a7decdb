package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	deadLetterExchange = "mailtrack.dlx"
	connectionName     = "mailtrack"
	dialTimeout        = 15 * time.Second
	heartbeat          = 10 * time.Second
	reconnectBackoff   = time.Second
	maxBackoff         = 30 * time.Second
)

// RabbitMQ owns one broker connection shared by publishers and consumers.
// The connection is redialed lazily when it drops.
type RabbitMQ struct {
	url string

	mu       sync.Mutex
	conn     *amqp.Connection
	declared *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	ch, err := r.openChannel(ctx)
	if err != nil {
		return nil, err
	}
	_ = ch.Close()

	return r, nil
}

// Ping opens and closes a channel to prove the broker is reachable.
func (r *RabbitMQ) Ping(ctx context.Context) error {
	ch, err := r.openChannel(ctx)
	if err != nil {
		return err
	}
	return ch.Close()
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// openChannel returns a channel on a live connection, declaring the topology
// once per connection.
func (r *RabbitMQ) openChannel(ctx context.Context) (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if err := r.connectLocked(ctx); err != nil {
			return nil, err
		}

		ch, err := r.conn.Channel()
		if err != nil {
			// Stale connection; drop it and redial once.
			_ = r.conn.Close()
			r.conn = nil
			continue
		}

		if r.declared != r.conn {
			if err := declareTopology(ch); err != nil {
				_ = ch.Close()
				return nil, err
			}
			r.declared = r.conn
		}
		return ch, nil
	}

	return nil, fmt.Errorf("failed to open rabbitmq channel")
}

func (r *RabbitMQ) connectLocked(ctx context.Context) error {
	if r.conn != nil && !r.conn.IsClosed() {
		return nil
	}

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(connectionName)
	cfg := amqp.Config{Heartbeat: heartbeat, Properties: props}

	wait := reconnectBackoff
	for {
		conn, err := amqp.DialConfig(r.url, cfg)
		if err == nil {
			r.conn = conn
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq dial canceled: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// declareTopology declares every work queue with a dead-letter twin bound to
// the shared dead-letter exchange under the work queue's name.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(deadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", deadLetterExchange, err)
	}

	for _, work := range WorkQueueNames() {
		dlq := DLQName(work)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, work, deadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q: %w", dlq, err)
		}

		args := amqp.Table{
			"x-dead-letter-exchange":    deadLetterExchange,
			"x-dead-letter-routing-key": work,
		}
		if _, err := ch.QueueDeclare(work, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", work, err)
		}
	}

	return nil
}
