package queue

import (
	"context"
	"fmt"
)

// Publisher publishes resend jobs to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, job ResendJob) error
	Close() error
}

// MessageHandler handles a consumed resend job.
type MessageHandler func(ctx context.Context, job ResendJob) error

// Consumer consumes resend jobs from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// ResendQueue is the work queue for operator resend jobs.
const ResendQueue = "mailtrack.resend"

// DLQName returns the dead-letter queue name for a work queue, e.g.
// dlq.mailtrack.resend.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns every work queue declared by the topology.
func WorkQueueNames() []string {
	return []string{ResendQueue}
}

// DLQNames returns the dead-letter queue of every work queue.
func DLQNames() []string {
	work := WorkQueueNames()
	queues := make([]string, 0, len(work))
	for _, name := range work {
		queues = append(queues, DLQName(name))
	}
	return queues
}
