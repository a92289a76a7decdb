package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/mailtrack/internal/domain"
	"github.com/kursadbilgin/mailtrack/internal/observability"
	"github.com/kursadbilgin/mailtrack/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultPurgeRetention    = 90 * 24 * time.Hour
	defaultPurgeScanInterval = 24 * time.Hour
)

// Purger deletes Messages created before a cutoff. Emails, bounces and
// deliveries go with them through cascading foreign keys.
type Purger struct {
	messages repository.MessageRepository
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewPurger(messages repository.MessageRepository, metrics *observability.Metrics, logger *zap.Logger) (*Purger, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Purger{
		messages: messages,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Purge removes Messages with created_at strictly before the cutoff.
func (p *Purger) Purge(ctx context.Context, before time.Time) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if before.IsZero() {
		return 0, fmt.Errorf("%w: purge cutoff is required", domain.ErrValidation)
	}

	deleted, err := p.messages.DeleteCreatedBefore(ctx, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge messages: %w", err)
	}

	p.metrics.AddPurgedMessages(deleted)
	observability.WithContextLogger(p.logger, ctx).Info("messages purged",
		zap.Time("before", before.UTC()),
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}

// PurgeOlderThan purges Messages older than the given number of days.
func (p *Purger) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("%w: days must not be negative", domain.ErrValidation)
	}
	return p.Purge(ctx, p.now().Add(-time.Duration(days)*24*time.Hour))
}

// PurgeScanner runs Purge periodically with a rolling cutoff.
type PurgeScanner struct {
	purger    *Purger
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

func NewPurgeScanner(purger *Purger, retention, interval time.Duration, logger *zap.Logger) (*PurgeScanner, error) {
	if purger == nil {
		return nil, fmt.Errorf("purger is required")
	}
	if retention <= 0 {
		retention = DefaultPurgeRetention
	}
	if interval <= 0 {
		interval = defaultPurgeScanInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PurgeScanner{
		purger:    purger,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}, nil
}

func (s *PurgeScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Purge once at startup so a restarted process does not wait a full interval.
	if err := s.scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("purge scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("purge scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *PurgeScanner) scan(ctx context.Context) error {
	_, err := s.purger.Purge(ctx, s.purger.now().Add(-s.retention))
	return err
}
