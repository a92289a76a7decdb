package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/mailtrack/internal/domain"
)

// EventCorrelator records provider webhook events.
type EventCorrelator interface {
	HandleBounce(ctx context.Context, raw []byte) error
	HandleDelivery(ctx context.Context, raw []byte) error
}

type WebhookHandler struct {
	correlator EventCorrelator
	secret     string
}

func NewWebhookHandler(correlator EventCorrelator, secret string) (*WebhookHandler, error) {
	if correlator == nil {
		return nil, fmt.Errorf("event correlator is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &WebhookHandler{correlator: correlator, secret: secret}, nil
}

func RegisterWebhookRoutes(router fiber.Router, correlator EventCorrelator, secret string) error {
	h, err := NewWebhookHandler(correlator, secret)
	if err != nil {
		return err
	}

	webhooks := router.Group("/webhooks")
	webhooks.Post("/:secret/bounce", h.Bounce)
	webhooks.Post("/:secret/delivery", h.Delivery)

	return nil
}

func (h *WebhookHandler) Bounce(c *fiber.Ctx) error {
	return h.handle(c, h.correlator.HandleBounce)
}

func (h *WebhookHandler) Delivery(c *fiber.Ctx) error {
	return h.handle(c, h.correlator.HandleDelivery)
}

// handle authenticates before touching the body. Correlation misses and
// duplicates come back as nil and are acknowledged with 204.
func (h *WebhookHandler) handle(c *fiber.Ctx, record func(ctx context.Context, raw []byte) error) error {
	if !secretsEqual(c.Params("secret"), h.secret) {
		return toHTTPError(fmt.Errorf("%w: invalid webhook secret", domain.ErrForbidden))
	}

	// The request buffer is reused after the handler returns.
	raw := append([]byte(nil), c.Body()...)
	if err := record(c.UserContext(), raw); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
