package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/mailtrack/internal/domain"
	"github.com/kursadbilgin/mailtrack/internal/observability"
	"github.com/kursadbilgin/mailtrack/internal/provider"
	"go.uber.org/zap"
)

const (
	defaultMessageIDDomain = "mailtrack.local"

	sendOutcomeSubmitted    = "submitted"
	sendOutcomeFailed       = "failed"
	sendOutcomeRecordFailed = "record_failed"
)

// SendRecorder stores the outcome of one submission.
type SendRecorder interface {
	RecordSendOutcome(ctx context.Context, msg domain.OutboundMessage, result *domain.SendResult, sendErr error) error
}

// Mailer submits messages through the transport and records every outcome
// synchronously before returning.
type Mailer struct {
	transport       provider.Transport
	recorder        SendRecorder
	messageIDDomain string
	metrics         *observability.Metrics
	logger          *zap.Logger
	now             func() time.Time
	newID           func() string
}

func NewMailer(
	transport provider.Transport,
	recorder SendRecorder,
	messageIDDomain string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Mailer, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}
	messageIDDomain = strings.TrimSpace(messageIDDomain)
	if messageIDDomain == "" {
		messageIDDomain = defaultMessageIDDomain
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Mailer{
		transport:       transport,
		recorder:        recorder,
		messageIDDomain: messageIDDomain,
		metrics:         metrics,
		logger:          logger,
		now:             time.Now,
		newID:           uuid.NewString,
	}, nil
}

// Prepare assigns a send id and a Date when msg lacks them.
func (m *Mailer) Prepare(msg domain.OutboundMessage) domain.OutboundMessage {
	prepared := msg.Clone()
	prepared.MessageID = strings.TrimSpace(prepared.MessageID)
	if prepared.MessageID == "" {
		prepared.MessageID = fmt.Sprintf("<%s@%s>", m.newID(), m.messageIDDomain)
	}
	if prepared.Date.IsZero() {
		prepared.Date = m.now().UTC()
	}
	return prepared
}

// Send submits one message. The transport error, if any, is returned after
// the failure has been recorded. A recording failure is logged and counted
// but does not turn a submitted message into a failed send.
func (m *Mailer) Send(ctx context.Context, msg domain.OutboundMessage) (*domain.SendResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	prepared := m.Prepare(msg)
	if err := prepared.Validate(); err != nil {
		return nil, err
	}

	start := m.now()
	result, sendErr := m.transport.Send(ctx, prepared)
	m.metrics.ObserveSendDuration(m.now().Sub(start))

	m.record(ctx, prepared, result, sendErr)
	if sendErr != nil {
		return nil, sendErr
	}
	return result, nil
}

// SendBatch submits msgs in one transport call. Outcomes are keyed by send
// id; a message the transport returned nothing for is recorded as failed.
func (m *Mailer) SendBatch(ctx context.Context, msgs []domain.OutboundMessage) (map[string]provider.BatchOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(msgs) == 0 {
		return map[string]provider.BatchOutcome{}, nil
	}

	prepared := make([]domain.OutboundMessage, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for i := range msgs {
		p := m.Prepare(msgs[i])
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		if _, dup := seen[p.MessageID]; dup {
			return nil, fmt.Errorf("%w: duplicate message id %q in batch", domain.ErrValidation, p.MessageID)
		}
		seen[p.MessageID] = struct{}{}
		prepared = append(prepared, p)
	}

	start := m.now()
	outcomes, batchErr := m.transport.SendBatch(ctx, prepared)
	m.metrics.ObserveSendDuration(m.now().Sub(start))

	results := make(map[string]provider.BatchOutcome, len(prepared))
	for _, msg := range prepared {
		outcome, ok := outcomes[msg.MessageID]
		switch {
		case batchErr != nil:
			outcome = provider.BatchOutcome{Err: batchErr}
		case !ok:
			outcome = provider.BatchOutcome{Err: fmt.Errorf("transport returned no outcome for %s", msg.MessageID)}
		}

		m.record(ctx, msg, outcome.Result, outcome.Err)
		results[msg.MessageID] = outcome
	}

	return results, batchErr
}

func (m *Mailer) record(ctx context.Context, msg domain.OutboundMessage, result *domain.SendResult, sendErr error) {
	logger := observability.WithContextLogger(m.logger, ctx).With(zap.String("sendId", msg.MessageID))

	if sendErr != nil {
		logger.Warn("message submission failed",
			zap.Bool("transient", provider.IsTransient(sendErr)),
			zap.Bool("inactiveAddress", provider.IsInactiveAddress(sendErr)),
			zap.Error(sendErr),
		)
		m.metrics.IncSend(sendOutcomeFailed)
	} else {
		m.metrics.IncSend(sendOutcomeSubmitted)
	}

	if err := m.recorder.RecordSendOutcome(context.WithoutCancel(ctx), msg, result, sendErr); err != nil {
		logger.Error("failed to record send outcome", zap.Error(err))
		m.metrics.IncSend(sendOutcomeRecordFailed)
	}
}
