package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/mailtrack/internal/domain"
	"github.com/kursadbilgin/mailtrack/internal/observability"
	"github.com/kursadbilgin/mailtrack/internal/provider"
	"github.com/kursadbilgin/mailtrack/internal/repository"
	"go.uber.org/zap"
)

// DefaultResendHeader names the header that links a resend to the
// correlation key of its original message.
const DefaultResendHeader = "X-Mailtrack-Resend-For"

// Recorder persists the outcome of every outbound submission as a Message
// plus one Email per send id.
type Recorder struct {
	store        repository.Store
	resendHeader string
	logger       *zap.Logger
	now          func() time.Time
}

func NewRecorder(store repository.Store, resendHeader string, logger *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if strings.TrimSpace(resendHeader) == "" {
		resendHeader = DefaultResendHeader
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Recorder{
		store:        store,
		resendHeader: resendHeader,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// RecordSendOutcome stores msg and its provider result or send error. It is
// idempotent per send id and tolerates any call order: a later successful
// outcome fills in provider fields left empty by an earlier failure.
func (r *Recorder) RecordSendOutcome(ctx context.Context, msg domain.OutboundMessage, result *domain.SendResult, sendErr error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	sendID := strings.TrimSpace(msg.MessageID)
	if sendID == "" {
		return fmt.Errorf("%w: message id is required to record a send", domain.ErrValidation)
	}

	resendFor := msg.Header(r.resendHeader)
	correlationKey := sendID
	if resendFor != "" {
		correlationKey = resendFor
	}

	date := msg.Date
	if date.IsZero() {
		date = r.now()
	}

	email := &domain.Email{
		SendID:   sendID,
		IsResend: resendFor != "",
		Date:     date.UTC(),
	}
	if sendErr != nil {
		email.SendingError = sendErr.Error()
		if code, ok := provider.ErrorCodeOf(sendErr); ok {
			email.ProviderErrorCode = &code
		}
	}
	fields, hasFields := providerFields(result)
	if hasFields {
		email.SubmittedAt = fields.SubmittedAt
		email.ProviderMessageID = fields.ProviderMessageID
		email.ProviderErrorCode = fields.ProviderErrorCode
		email.ProviderMessage = fields.ProviderMessage
	}

	logger := observability.WithContextLogger(r.logger, ctx).With(
		zap.String("sendId", sendID),
		zap.String("correlationKey", correlationKey),
	)

	err := r.store.WithinTx(ctx, func(tx repository.Store) error {
		message := &domain.Message{
			CorrelationKey: correlationKey,
			Content:        domain.NewContent(msg),
			Subject:        msg.Subject,
			FromEmail:      msg.From,
			ToEmails:       domain.JoinAddresses(msg.To),
			CcEmails:       domain.JoinAddresses(msg.Cc),
			BccEmails:      domain.JoinAddresses(msg.Bcc),
		}
		messageCreated, err := tx.Messages().GetOrCreate(ctx, message)
		if err != nil {
			return fmt.Errorf("failed to get or create message: %w", err)
		}

		email.MessageID = message.ID
		emailCreated, err := tx.Emails().GetOrCreate(ctx, email)
		if err != nil {
			return fmt.Errorf("failed to get or create email: %w", err)
		}

		if !emailCreated && hasFields && fields.ProviderMessageID != nil && !email.HasProviderResponse() {
			attached, err := tx.Emails().AttachProviderResponse(ctx, sendID, fields)
			if err != nil {
				return fmt.Errorf("failed to attach provider response: %w", err)
			}
			if attached {
				logger.Info("provider response attached to existing email")
			}
		}

		logger.Debug("send outcome recorded",
			zap.Bool("messageCreated", messageCreated),
			zap.Bool("emailCreated", emailCreated),
			zap.Bool("failed", sendErr != nil),
		)
		return nil
	})
	if err != nil {
		logger.Error("failed to record send outcome", zap.Error(err))
		return err
	}

	return nil
}

func providerFields(result *domain.SendResult) (repository.ProviderFields, bool) {
	if result == nil {
		return repository.ProviderFields{}, false
	}

	fields := repository.ProviderFields{ProviderMessage: result.Message}
	if !result.SubmittedAt.IsZero() {
		submittedAt := result.SubmittedAt.UTC()
		fields.SubmittedAt = &submittedAt
	}
	if id := strings.TrimSpace(result.ProviderMessageID); id != "" {
		fields.ProviderMessageID = &id
	}
	code := result.ErrorCode
	fields.ProviderErrorCode = &code

	return fields, true
}
