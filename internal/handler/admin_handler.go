package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/mailtrack/internal/domain"
	"github.com/kursadbilgin/mailtrack/internal/repository"
	"github.com/kursadbilgin/mailtrack/internal/service"
)

const (
	maxResendBounces  = 1000
	defaultPurgeDays  = 90
	bearerTokenPrefix = "Bearer "
)

// AdminCatalog serves read-only admin listings.
type AdminCatalog interface {
	ListMessages(ctx context.Context, params repository.ListParams) ([]domain.Message, int64, error)
	ListEmails(ctx context.Context, params repository.ListParams) ([]service.EmailView, int64, error)
	ListBounces(ctx context.Context, params repository.ListParams) ([]domain.Bounce, int64, error)
	ListDeliveries(ctx context.Context, params repository.ListParams) ([]domain.Delivery, int64, error)
	MessageDetail(ctx context.Context, messageID string) (*service.MessageView, error)
}

type BounceResender interface {
	ResendBounces(ctx context.Context, bounceIDs []int64, opts service.ResendOptions) ([]domain.ResendOutcome, error)
}

type ResendEnqueuer interface {
	Enqueue(ctx context.Context, bounceIDs []int64, opts service.ResendOptions) (string, error)
}

type MessagePurger interface {
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}

// AdminDeps groups the admin collaborators. Enqueuer may be nil when no
// broker is configured.
type AdminDeps struct {
	Catalog  AdminCatalog
	Resender BounceResender
	Enqueuer ResendEnqueuer
	Purger   MessagePurger
	Token    string

	// PurgeDays is used when a purge request omits daysAgo.
	PurgeDays int
}

type AdminHandler struct {
	deps AdminDeps
}

func NewAdminHandler(deps AdminDeps) (*AdminHandler, error) {
	if deps.Catalog == nil {
		return nil, fmt.Errorf("admin catalog is required")
	}
	if deps.Resender == nil {
		return nil, fmt.Errorf("bounce resender is required")
	}
	if deps.Purger == nil {
		return nil, fmt.Errorf("message purger is required")
	}
	if strings.TrimSpace(deps.Token) == "" {
		return nil, fmt.Errorf("admin token is required")
	}
	return &AdminHandler{deps: deps}, nil
}

func RegisterAdminRoutes(router fiber.Router, deps AdminDeps) error {
	h, err := NewAdminHandler(deps)
	if err != nil {
		return err
	}

	admin := router.Group("/admin/v1", h.Authenticate)
	admin.Get("/messages", h.ListMessages)
	admin.Get("/messages/:id", h.GetMessage)
	admin.Get("/emails", h.ListEmails)
	admin.Get("/bounces", h.ListBounces)
	admin.Get("/deliveries", h.ListDeliveries)
	admin.Post("/bounces/resend", h.ResendBounces)
	admin.Post("/purge", h.Purge)

	return nil
}

type messageResponse struct {
	ID             string    `json:"id"`
	CorrelationKey string    `json:"correlationKey"`
	Subject        string    `json:"subject"`
	FromEmail      string    `json:"fromEmail"`
	ToEmails       string    `json:"toEmails"`
	CcEmails       string    `json:"ccEmails,omitempty"`
	BccEmails      string    `json:"bccEmails,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type emailResponse struct {
	ID                string             `json:"id"`
	MessageID         string             `json:"messageId"`
	SendID            string             `json:"sendId"`
	IsResend          bool               `json:"isResend"`
	Date              time.Time          `json:"date"`
	Status            string             `json:"status"`
	SendingError      string             `json:"sendingError,omitempty"`
	SubmittedAt       *time.Time         `json:"submittedAt,omitempty"`
	ProviderMessageID *string            `json:"providerMessageId,omitempty"`
	ProviderErrorCode *int               `json:"providerErrorCode,omitempty"`
	ProviderMessage   string             `json:"providerMessage,omitempty"`
	Bounces           []bounceResponse   `json:"bounces,omitempty"`
	Deliveries        []deliveryResponse `json:"deliveries,omitempty"`
}

type bounceResponse struct {
	ID            string    `json:"id"`
	EmailID       string    `json:"emailId"`
	BounceID      int64     `json:"bounceId"`
	EmailAddress  string    `json:"emailAddress"`
	BouncedAt     time.Time `json:"bouncedAt"`
	TypeCode      int       `json:"typeCode"`
	Type          string    `json:"type,omitempty"`
	Description   string    `json:"description,omitempty"`
	IsInactive    bool      `json:"isInactive"`
	CanActivate   bool      `json:"canActivate"`
	HasBeenResent bool      `json:"hasBeenResent"`
}

type deliveryResponse struct {
	ID           string    `json:"id"`
	EmailID      string    `json:"emailId"`
	EmailAddress string    `json:"emailAddress"`
	DeliveredAt  time.Time `json:"deliveredAt"`
}

type messageDetailResponse struct {
	messageResponse
	Status string          `json:"status"`
	Emails []emailResponse `json:"emails"`
}

type listResponse[T any] struct {
	Data []T      `json:"data"`
	Meta listMeta `json:"meta"`
}

type resendRequest struct {
	BounceIDs          []int64 `json:"bounceIds"`
	ReactivateInactive bool    `json:"reactivateInactive"`
	Async              bool    `json:"async"`
}

type resendOutcomeResponse struct {
	BounceID     int64  `json:"bounceId"`
	EmailAddress string `json:"emailAddress,omitempty"`
	Result       string `json:"result"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
	SendID       string `json:"sendId,omitempty"`
}

type purgeRequest struct {
	DaysAgo *int `json:"daysAgo"`
}

// Authenticate checks the static bearer token.
func (h *AdminHandler) Authenticate(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(header, bearerTokenPrefix) {
		return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
	}
	if !secretsEqual(strings.TrimSpace(strings.TrimPrefix(header, bearerTokenPrefix)), h.deps.Token) {
		return toHTTPError(fmt.Errorf("%w: invalid admin token", domain.ErrForbidden))
	}
	return c.Next()
}

func (h *AdminHandler) ListMessages(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	messages, total, err := h.deps.Catalog.ListMessages(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]messageResponse, 0, len(messages))
	for i := range messages {
		data = append(data, toMessageResponse(&messages[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listResponse[messageResponse]{Data: data, Meta: toListMeta(params, total)})
}

func (h *AdminHandler) GetMessage(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	view, err := h.deps.Catalog.MessageDetail(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	emails := make([]emailResponse, 0, len(view.Emails))
	for _, emailView := range view.Emails {
		emails = append(emails, toEmailResponse(emailView, true))
	}

	return c.Status(fiber.StatusOK).JSON(messageDetailResponse{
		messageResponse: toMessageResponse(&view.Message),
		Status:          view.Status.String(),
		Emails:          emails,
	})
}

func (h *AdminHandler) ListEmails(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	views, total, err := h.deps.Catalog.ListEmails(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]emailResponse, 0, len(views))
	for _, view := range views {
		data = append(data, toEmailResponse(view, false))
	}
	return c.Status(fiber.StatusOK).JSON(listResponse[emailResponse]{Data: data, Meta: toListMeta(params, total)})
}

func (h *AdminHandler) ListBounces(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	bounces, total, err := h.deps.Catalog.ListBounces(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listResponse[bounceResponse]{Data: toBounceResponses(bounces), Meta: toListMeta(params, total)})
}

func (h *AdminHandler) ListDeliveries(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	deliveries, total, err := h.deps.Catalog.ListDeliveries(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listResponse[deliveryResponse]{Data: toDeliveryResponses(deliveries), Meta: toListMeta(params, total)})
}

func (h *AdminHandler) ResendBounces(c *fiber.Ctx) error {
	var req resendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.BounceIDs) == 0 {
		return toHTTPError(fmt.Errorf("%w: bounceIds is required", domain.ErrValidation))
	}
	if len(req.BounceIDs) > maxResendBounces {
		return toHTTPError(fmt.Errorf("%w: bounceIds exceeds %d entries", domain.ErrValidation, maxResendBounces))
	}

	opts := service.ResendOptions{ReactivateInactive: req.ReactivateInactive}

	if req.Async {
		if h.deps.Enqueuer == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "async resend is not configured")
		}
		jobID, err := h.deps.Enqueuer.Enqueue(c.UserContext(), req.BounceIDs, opts)
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"jobId":  jobID,
			"status": "queued",
		})
	}

	outcomes, err := h.deps.Resender.ResendBounces(c.UserContext(), req.BounceIDs, opts)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]resendOutcomeResponse, 0, len(outcomes))
	for _, outcome := range outcomes {
		data = append(data, resendOutcomeResponse{
			BounceID:     outcome.BounceID,
			EmailAddress: outcome.EmailAddress,
			Result:       outcome.Result.String(),
			Reason:       outcome.Reason.String(),
			Error:        outcome.Error,
			SendID:       outcome.SendID,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"outcomes": data})
}

func (h *AdminHandler) Purge(c *fiber.Ctx) error {
	var req purgeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	days := h.deps.PurgeDays
	if days <= 0 {
		days = defaultPurgeDays
	}
	if req.DaysAgo != nil {
		days = *req.DaysAgo
	}

	deleted, err := h.deps.Purger.PurgeOlderThan(c.UserContext(), days)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"daysAgo": days,
		"deleted": deleted,
	})
}

func toListMeta(params repository.ListParams, total int64) listMeta {
	return listMeta{Page: params.Page, PageSize: params.PageSize, Total: total}
}

func toMessageResponse(m *domain.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		CorrelationKey: m.CorrelationKey,
		Subject:        m.Subject,
		FromEmail:      m.FromEmail,
		ToEmails:       m.ToEmails,
		CcEmails:       m.CcEmails,
		BccEmails:      m.BccEmails,
		CreatedAt:      m.CreatedAt,
	}
}

func toEmailResponse(view service.EmailView, withEvents bool) emailResponse {
	e := view.Email
	resp := emailResponse{
		ID:                e.ID,
		MessageID:         e.MessageID,
		SendID:            e.SendID,
		IsResend:          e.IsResend,
		Date:              e.Date,
		Status:            view.Status.String(),
		SendingError:      e.SendingError,
		SubmittedAt:       e.SubmittedAt,
		ProviderMessageID: e.ProviderMessageID,
		ProviderErrorCode: e.ProviderErrorCode,
		ProviderMessage:   e.ProviderMessage,
	}
	if withEvents {
		resp.Bounces = toBounceResponses(view.Bounces)
		resp.Deliveries = toDeliveryResponses(view.Deliveries)
	}
	return resp
}

func toBounceResponses(bounces []domain.Bounce) []bounceResponse {
	out := make([]bounceResponse, 0, len(bounces))
	for _, b := range bounces {
		out = append(out, bounceResponse{
			ID:            b.ID,
			EmailID:       b.EmailID,
			BounceID:      b.BounceID,
			EmailAddress:  b.EmailAddress,
			BouncedAt:     b.BouncedAt,
			TypeCode:      b.TypeCode,
			Type:          b.Type,
			Description:   b.Description,
			IsInactive:    b.IsInactive,
			CanActivate:   b.CanActivate,
			HasBeenResent: b.HasBeenResent,
		})
	}
	return out
}

func toDeliveryResponses(deliveries []domain.Delivery) []deliveryResponse {
	out := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, deliveryResponse{
			ID:           d.ID,
			EmailID:      d.EmailID,
			EmailAddress: d.EmailAddress,
			DeliveredAt:  d.DeliveredAt,
		})
	}
	return out
}
