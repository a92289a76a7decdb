package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/mailtrack/internal/domain"
	"github.com/kursadbilgin/mailtrack/internal/provider"
)

const maxBatchMessages = 500

// OutboundMailer submits messages and records their outcome.
type OutboundMailer interface {
	Prepare(msg domain.OutboundMessage) domain.OutboundMessage
	Send(ctx context.Context, msg domain.OutboundMessage) (*domain.SendResult, error)
	SendBatch(ctx context.Context, msgs []domain.OutboundMessage) (map[string]provider.BatchOutcome, error)
}

type MessageHandler struct {
	mailer OutboundMailer
}

func NewMessageHandler(mailer OutboundMailer) (*MessageHandler, error) {
	if mailer == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	return &MessageHandler{mailer: mailer}, nil
}

func RegisterMessageRoutes(router fiber.Router, mailer OutboundMailer) error {
	h, err := NewMessageHandler(mailer)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/messages", h.SendMessage)
	v1.Post("/messages/batch", h.SendBatch)

	return nil
}

type sendBatchRequest struct {
	Messages []domain.OutboundMessage `json:"messages"`
}

type sendResultResponse struct {
	MessageID         string     `json:"messageId"`
	SubmittedAt       *time.Time `json:"submittedAt,omitempty"`
	ProviderMessageID string     `json:"providerMessageId,omitempty"`
	ErrorCode         int        `json:"errorCode"`
	Message           string     `json:"message,omitempty"`
	Error             string     `json:"error,omitempty"`
}

type sendBatchResponse struct {
	Results []sendResultResponse `json:"results"`
	Warning string               `json:"warning,omitempty"`
}

func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	var req domain.OutboundMessage
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	msg := h.mailer.Prepare(req)
	result, err := h.mailer.Send(c.UserContext(), msg)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusBadGateway).JSON(toSendResultResponse(msg.MessageID, nil, err))
	}

	return c.Status(fiber.StatusAccepted).JSON(toSendResultResponse(msg.MessageID, result, nil))
}

func (h *MessageHandler) SendBatch(c *fiber.Ctx) error {
	var req sendBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Messages) == 0 {
		return toHTTPError(fmt.Errorf("%w: messages is required", domain.ErrValidation))
	}
	if len(req.Messages) > maxBatchMessages {
		return toHTTPError(fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchMessages))
	}

	prepared := make([]domain.OutboundMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		prepared = append(prepared, h.mailer.Prepare(msg))
	}

	outcomes, err := h.mailer.SendBatch(c.UserContext(), prepared)
	if err != nil && errors.Is(err, domain.ErrValidation) {
		return toHTTPError(err)
	}

	resp := sendBatchResponse{Results: make([]sendResultResponse, 0, len(prepared))}
	for _, msg := range prepared {
		outcome := outcomes[msg.MessageID]
		resp.Results = append(resp.Results, toSendResultResponse(msg.MessageID, outcome.Result, outcome.Err))
	}
	if err != nil {
		resp.Warning = err.Error()
		return c.Status(fiber.StatusBadGateway).JSON(resp)
	}

	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func toSendResultResponse(messageID string, result *domain.SendResult, err error) sendResultResponse {
	resp := sendResultResponse{MessageID: messageID}
	if result != nil {
		if !result.SubmittedAt.IsZero() {
			submittedAt := result.SubmittedAt
			resp.SubmittedAt = &submittedAt
		}
		resp.ProviderMessageID = result.ProviderMessageID
		resp.ErrorCode = result.ErrorCode
		resp.Message = result.Message
	}
	if err != nil {
		resp.Error = err.Error()
		if code, ok := provider.ErrorCodeOf(err); ok {
			resp.ErrorCode = code
		}
	}
	return resp
}
