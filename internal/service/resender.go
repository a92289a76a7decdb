package service

import (
	"context"
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

const maxResendSelection = 1000

// ResendOptions tunes the resend policy gates.
type ResendOptions struct {
	// ReactivateInactive resends to addresses the provider marked inactive.
	ReactivateInactive bool
}

// MessageSender is the part of Mailer the resender needs.
type MessageSender interface {
	Prepare(msg domain.OutboundMessage) domain.OutboundMessage
	Send(ctx context.Context, msg domain.OutboundMessage) (*domain.SendResult, error)
}

// Resender re-submits bounced email, one message per bounced recipient.
type Resender struct {
	store        repository.Store
	sender       MessageSender
	locker       lock.Locker
	resendHeader string
	metrics      *observability.Metrics
	logger       *zap.Logger
}

func NewResender(
	store repository.Store,
	sender MessageSender,
	locker lock.Locker,
	resendHeader string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Resender, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if locker == nil {
		locker = lock.NopLocker{}
	}
	if strings.TrimSpace(resendHeader) == "" {
		resendHeader = DefaultResendHeader
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resender{
		store:        store,
		sender:       sender,
		locker:       locker,
		resendHeader: resendHeader,
		metrics:      metrics,
		logger:       logger,
	}, nil
}

// resendGroup is the data shared by every bounce of one Message.
type resendGroup struct {
	message    *domain.Message
	content    domain.OutboundMessage
	contentErr error
}

// ResendBounces processes each selected bounce independently and reports one
// outcome per distinct bounce id, in request order. Only a failure to load
// the selection is returned as an error.
func (r *Resender) ResendBounces(ctx context.Context, bounceIDs []int64, opts ResendOptions) ([]domain.ResendOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ids := uniqueBounceIDs(bounceIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one bounce id is required", domain.ErrValidation)
	}
	if len(ids) > maxResendSelection {
		return nil, fmt.Errorf("%w: selection exceeds %d bounces", domain.ErrValidation, maxResendSelection)
	}

	bounces, err := r.store.Bounces().GetByBounceIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load bounces: %w", err)
	}
	groups, emailsByID, err := r.loadGroups(ctx, bounces)
	if err != nil {
		return nil, err
	}

	byBounceID := make(map[int64]domain.Bounce, len(bounces))
	for _, b := range bounces {
		byBounceID[b.BounceID] = b
	}

	logger := observability.WithContextLogger(r.logger, ctx)
	outcomes := make([]domain.ResendOutcome, 0, len(ids))
	for _, id := range ids {
		bounce, ok := byBounceID[id]
		var outcome domain.ResendOutcome
		if !ok {
			outcome = domain.ResendOutcome{BounceID: id, Result: domain.ResendResultFailed, Error: "not found"}
		} else {
			var group *resendGroup
			if email, found := emailsByID[bounce.EmailID]; found {
				group = groups[email.MessageID]
			}
			outcome = r.resendOne(ctx, bounce, group, opts)
		}

		r.metrics.IncResendOutcome(outcome.Result.String(), outcome.Reason.String())
		logger.Info("bounce resend processed",
			zap.Int64("bounceId", outcome.BounceID),
			zap.String("result", outcome.Result.String()),
			zap.String("reason", outcome.Reason.String()),
			zap.String("error", outcome.Error),
			zap.String("sendId", outcome.SendID),
		)
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

func (r *Resender) resendOne(ctx context.Context, bounce domain.Bounce, group *resendGroup, opts ResendOptions) domain.ResendOutcome {
	outcome := domain.ResendOutcome{BounceID: bounce.BounceID, EmailAddress: bounce.EmailAddress}
	fail := func(err error) domain.ResendOutcome {
		outcome.Result = domain.ResendResultFailed
		outcome.Error = err.Error()
		return outcome
	}
	skip := func(reason domain.SkipReason) domain.ResendOutcome {
		outcome.Result = domain.ResendResultSkipped
		outcome.Reason = reason
		return outcome
	}

	release, err := r.locker.Acquire(ctx, "resend:"+strconv.FormatInt(bounce.BounceID, 10))
	if err != nil {
		return fail(fmt.Errorf("bounce is being resent elsewhere: %w", err))
	}
	defer func() { _ = release(context.WithoutCancel(ctx)) }()

	// Re-read under the lock so a concurrent resend is observed.
	current, err := r.store.Bounces().GetByBounceIDs(ctx, []int64{bounce.BounceID})
	if err != nil {
		return fail(fmt.Errorf("failed to reload bounce: %w", err))
	}
	if len(current) == 0 {
		return fail(errors.New("not found"))
	}
	bounce = current[0]

	if bounce.HasBeenResent {
		return skip(domain.SkipReasonAlreadyResent)
	}
	if bounce.IsInactive && !opts.ReactivateInactive {
		return skip(domain.SkipReasonInactiveAddress)
	}
	if group == nil {
		return fail(errors.New("email or message not found"))
	}
	latest, err := r.latestDeliveries(ctx, group.message.ID)
	if err != nil {
		return fail(err)
	}
	if domain.BounceSuperseded(bounce, latest) {
		return skip(domain.SkipReasonSupersededByDelivery)
	}
	if group.contentErr != nil {
		return fail(group.contentErr)
	}

	msg := group.content.Clone()
	msg.To = []string{bounce.EmailAddress}
	msg.Cc = nil
	msg.Bcc = nil
	msg.MessageID = ""
	msg.Date = time.Time{}
	msg.SetHeader(r.resendHeader, group.message.CorrelationKey)

	prepared := r.sender.Prepare(msg)
	outcome.SendID = prepared.MessageID

	if _, err := r.sender.Send(ctx, prepared); err != nil {
		return fail(err)
	}

	if err := r.store.Bounces().MarkResent(context.WithoutCancel(ctx), bounce.BounceID); err != nil {
		return fail(fmt.Errorf("message resent but bounce could not be marked: %w", err))
	}

	outcome.Result = domain.ResendResultResent
	return outcome
}

// loadGroups loads the Emails and Messages behind a bounce selection. Groups
// are keyed by Message.ID.
func (r *Resender) loadGroups(ctx context.Context, bounces []domain.Bounce) (map[string]*resendGroup, map[string]domain.Email, error) {
	emailIDs := make([]string, 0, len(bounces))
	for _, b := range bounces {
		emailIDs = append(emailIDs, b.EmailID)
	}

	emails, err := r.store.Emails().GetByIDs(ctx, emailIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load emails: %w", err)
	}
	emailsByID := make(map[string]domain.Email, len(emails))
	messageIDs := make([]string, 0, len(emails))
	for _, e := range emails {
		emailsByID[e.ID] = e
		messageIDs = append(messageIDs, e.MessageID)
	}

	messages, err := r.store.Messages().GetByIDs(ctx, messageIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load messages: %w", err)
	}

	groups := make(map[string]*resendGroup, len(messages))
	for i := range messages {
		message := messages[i]
		group := &resendGroup{message: &message}
		group.content, group.contentErr = message.Content.Reconstruct()
		groups[message.ID] = group
	}

	return groups, emailsByID, nil
}

// latestDeliveries returns the newest delivery time per address across every
// attempt of a Message. It runs under the resend lock so deliveries recorded
// after the selection was loaded still count.
func (r *Resender) latestDeliveries(ctx context.Context, messageID string) (map[string]time.Time, error) {
	siblings, err := r.store.Emails().ListByMessageIDs(ctx, []string{messageID})
	if err != nil {
		return nil, fmt.Errorf("failed to load message emails: %w", err)
	}
	ids := make([]string, 0, len(siblings))
	for _, e := range siblings {
		ids = append(ids, e.ID)
	}

	deliveries, err := r.store.Deliveries().ListByEmailIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load deliveries: %w", err)
	}

	latest := make(map[string]time.Time, len(deliveries))
	for _, d := range deliveries {
		addr := domain.NormalizeAddress(d.EmailAddress)
		if current, seen := latest[addr]; !seen || d.DeliveredAt.After(current) {
			latest[addr] = d.DeliveredAt
		}
	}
	return latest, nil
}

func uniqueBounceIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
