package provider

import (
	"context"

	"github.com/kursadbilgin/mailtrack/internal/domain"
)

// Transport is the outbound email submission port.
type Transport interface {
	Send(ctx context.Context, msg domain.OutboundMessage) (*domain.SendResult, error)
	// SendBatch submits several messages at once. Outcomes are keyed by each
	// message's MessageID, never by position.
	SendBatch(ctx context.Context, msgs []domain.OutboundMessage) (map[string]BatchOutcome, error)
}

// BatchOutcome is the per-message result of a batch submission.
type BatchOutcome struct {
	Result *domain.SendResult
	Err    error
}
