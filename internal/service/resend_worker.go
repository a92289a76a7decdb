package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/mailtrack/internal/domain"
	"github.com/kursadbilgin/mailtrack/internal/observability"
	"github.com/kursadbilgin/mailtrack/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minResendConcurrency = 1

// BounceResender is the operation resend jobs run.
type BounceResender interface {
	ResendBounces(ctx context.Context, bounceIDs []int64, opts ResendOptions) ([]domain.ResendOutcome, error)
}

// ResendEnqueuer publishes operator resend requests for asynchronous
// processing.
type ResendEnqueuer struct {
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewResendEnqueuer(publisher queue.Publisher, logger *zap.Logger) (*ResendEnqueuer, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ResendEnqueuer{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// Enqueue publishes one job for the selection and returns its id.
func (e *ResendEnqueuer) Enqueue(ctx context.Context, bounceIDs []int64, opts ResendOptions) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	job := queue.ResendJob{
		JobID:              e.newID(),
		BounceIDs:          uniqueBounceIDs(bounceIDs),
		ReactivateInactive: opts.ReactivateInactive,
		RequestedAt:        e.now().UTC(),
	}
	if requestID, ok := observability.RequestIDFromContext(ctx); ok {
		job.RequestID = requestID
	}
	if err := job.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if err := e.publisher.Publish(ctx, queue.ResendQueue, job); err != nil {
		return "", fmt.Errorf("failed to enqueue resend job: %w", err)
	}

	observability.WithContextLogger(e.logger, ctx).Info("resend job enqueued",
		zap.String("jobId", job.JobID),
		zap.Int("bounces", len(job.BounceIDs)),
	)
	return job.JobID, nil
}

// ResendWorker consumes resend jobs and runs them through the resender.
type ResendWorker struct {
	consumer    queue.Consumer
	resender    BounceResender
	concurrency int
	logger      *zap.Logger
}

func NewResendWorker(consumer queue.Consumer, resender BounceResender, concurrency int, logger *zap.Logger) (*ResendWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if resender == nil {
		return nil, fmt.Errorf("resender is required")
	}
	if concurrency < minResendConcurrency {
		concurrency = minResendConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ResendWorker{
		consumer:    consumer,
		resender:    resender,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Start consumes the resend queue until context cancellation.
func (w *ResendWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("resend worker started", zap.Int("workerId", workerID))

			if err := w.consumer.Consume(groupCtx, queue.ResendQueue, w.processJob); err != nil {
				w.logger.Error("resend worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("resend worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *ResendWorker) processJob(ctx context.Context, job queue.ResendJob) error {
	if job.RequestID != "" {
		ctx = observability.WithRequestID(ctx, job.RequestID)
	}
	logger := observability.WithContextLogger(w.logger, ctx).With(zap.String("jobId", job.JobID))

	outcomes, err := w.resender.ResendBounces(ctx, job.BounceIDs, ResendOptions{
		ReactivateInactive: job.ReactivateInactive,
	})
	if err != nil {
		return fmt.Errorf("resend job %s: %w", job.JobID, err)
	}

	counts := make(map[domain.ResendResult]int, 3)
	for _, outcome := range outcomes {
		counts[outcome.Result]++
	}
	logger.Info("resend job completed",
		zap.Int("resent", counts[domain.ResendResultResent]),
		zap.Int("skipped", counts[domain.ResendResultSkipped]),
		zap.Int("failed", counts[domain.ResendResultFailed]),
	)
	return nil
}
