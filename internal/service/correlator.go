package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/mailtrack/internal/domain"
	"github.com/kursadbilgin/mailtrack/internal/lock"
	"github.com/kursadbilgin/mailtrack/internal/observability"
	"github.com/kursadbilgin/mailtrack/internal/repository"
	"go.uber.org/zap"
)

const (
	eventKindBounce   = "bounce"
	eventKindDelivery = "delivery"

	eventOutcomeRecorded  = "recorded"
	eventOutcomeDuplicate = "duplicate"
	eventOutcomeUnmatched = "unmatched"
)

// BouncePayload is the provider bounce webhook body.
type BouncePayload struct {
	ID          int64  `json:"ID"`
	MessageID   string `json:"MessageID"`
	Email       string `json:"Email"`
	BouncedAt   string `json:"BouncedAt"`
	TypeCode    int    `json:"TypeCode"`
	Type        string `json:"Type"`
	Description string `json:"Description"`
	Inactive    bool   `json:"Inactive"`
	CanActivate bool   `json:"CanActivate"`
}

// DeliveryPayload is the provider delivery webhook body.
type DeliveryPayload struct {
	MessageID   string `json:"MessageID"`
	Recipient   string `json:"Recipient"`
	DeliveredAt string `json:"DeliveredAt"`
}

// Correlator matches provider webhook events to stored Emails and records
// them exactly once.
type Correlator struct {
	store   repository.Store
	locker  lock.Locker
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewCorrelator(
	store repository.Store,
	locker lock.Locker,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Correlator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if locker == nil {
		locker = lock.NopLocker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Correlator{
		store:   store,
		locker:  locker,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// HandleBounce records a bounce event. Unknown provider message ids and
// redelivered events are acknowledged with a nil error.
func (c *Correlator) HandleBounce(ctx context.Context, raw []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var payload BouncePayload
	if err := decodePayload(raw, &payload); err != nil {
		return err
	}
	bouncedAt, err := validateBounce(payload)
	if err != nil {
		return err
	}

	logger := observability.WithContextLogger(c.logger, ctx).With(
		zap.Int64("bounceId", payload.ID),
		zap.String("providerMessageId", payload.MessageID),
	)

	email, err := c.store.Emails().GetByProviderMessageID(ctx, payload.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("bounce does not match any email")
			c.metrics.IncWebhookEvent(eventKindBounce, eventOutcomeUnmatched)
			return nil
		}
		return fmt.Errorf("failed to look up email for bounce: %w", err)
	}

	bounce := &domain.Bounce{
		EmailID:      email.ID,
		BounceID:     payload.ID,
		EmailAddress: domain.NormalizeAddress(payload.Email),
		BouncedAt:    bouncedAt,
		TypeCode:     payload.TypeCode,
		Type:         payload.Type,
		Description:  payload.Description,
		IsInactive:   payload.Inactive,
		CanActivate:  payload.CanActivate,
		RawPayload:   raw,
	}

	var created bool
	err = c.withLock(ctx, logger, "bounce:"+strconv.FormatInt(payload.ID, 10), func() error {
		var createErr error
		created, createErr = c.store.Bounces().GetOrCreate(ctx, bounce)
		return createErr
	})
	if err != nil {
		return fmt.Errorf("failed to record bounce: %w", err)
	}

	c.recordOutcome(logger, eventKindBounce, created)
	return nil
}

// HandleDelivery records a delivery event, one per (email, address).
func (c *Correlator) HandleDelivery(ctx context.Context, raw []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var payload DeliveryPayload
	if err := decodePayload(raw, &payload); err != nil {
		return err
	}
	deliveredAt, err := validateDelivery(payload)
	if err != nil {
		return err
	}

	address := domain.NormalizeAddress(payload.Recipient)
	logger := observability.WithContextLogger(c.logger, ctx).With(
		zap.String("providerMessageId", payload.MessageID),
		zap.String("recipient", address),
	)

	email, err := c.store.Emails().GetByProviderMessageID(ctx, payload.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("delivery does not match any email")
			c.metrics.IncWebhookEvent(eventKindDelivery, eventOutcomeUnmatched)
			return nil
		}
		return fmt.Errorf("failed to look up email for delivery: %w", err)
	}

	delivery := &domain.Delivery{
		EmailID:      email.ID,
		EmailAddress: address,
		DeliveredAt:  deliveredAt,
		RawPayload:   raw,
	}

	var created bool
	err = c.withLock(ctx, logger, "delivery:"+email.ID+":"+address, func() error {
		var createErr error
		created, createErr = c.store.Deliveries().GetOrCreate(ctx, delivery)
		return createErr
	})
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}

	c.recordOutcome(logger, eventKindDelivery, created)
	return nil
}

// withLock runs fn inside the per-key section. A lock that cannot be taken
// does not block recording: storage uniqueness still holds.
func (c *Correlator) withLock(ctx context.Context, logger *zap.Logger, key string, fn func() error) error {
	release, err := c.locker.Acquire(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("proceeding without event lock", zap.String("lockKey", key), zap.Error(err))
		return fn()
	}
	defer func() {
		if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
			logger.Warn("failed to release event lock", zap.String("lockKey", key), zap.Error(releaseErr))
		}
	}()

	return fn()
}

func (c *Correlator) recordOutcome(logger *zap.Logger, kind string, created bool) {
	if created {
		logger.Info(kind + " recorded")
		c.metrics.IncWebhookEvent(kind, eventOutcomeRecorded)
		return
	}
	logger.Debug(kind + " already recorded")
	c.metrics.IncWebhookEvent(kind, eventOutcomeDuplicate)
}

func decodePayload(raw []byte, target any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return fmt.Errorf("%w: request body is required", domain.ErrValidation)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: invalid JSON payload: %v", domain.ErrValidation, err)
	}
	return nil
}

func validateBounce(p BouncePayload) (time.Time, error) {
	if p.ID <= 0 {
		return time.Time{}, fmt.Errorf("%w: ID must be a positive integer", domain.ErrValidation)
	}
	if strings.TrimSpace(p.MessageID) == "" {
		return time.Time{}, fmt.Errorf("%w: MessageID is required", domain.ErrValidation)
	}
	if strings.TrimSpace(p.Email) == "" {
		return time.Time{}, fmt.Errorf("%w: Email is required", domain.ErrValidation)
	}
	return parseEventTime("BouncedAt", p.BouncedAt)
}

func validateDelivery(p DeliveryPayload) (time.Time, error) {
	if strings.TrimSpace(p.MessageID) == "" {
		return time.Time{}, fmt.Errorf("%w: MessageID is required", domain.ErrValidation)
	}
	if strings.TrimSpace(p.Recipient) == "" {
		return time.Time{}, fmt.Errorf("%w: Recipient is required", domain.ErrValidation)
	}
	return parseEventTime("DeliveredAt", p.DeliveredAt)
}

// parseEventTime accepts ISO-8601 timestamps with optional fractional seconds
// and a Z or numeric offset, and returns them in UTC.
func parseEventTime(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s is not an ISO-8601 timestamp: %q", domain.ErrValidation, field, value)
	}
	return parsed.UTC(), nil
}
