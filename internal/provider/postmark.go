package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/mailtrack/internal/domain"
)

const (
	defaultPostmarkTimeout = 15 * time.Second
	serverTokenHeader      = "X-Postmark-Server-Token"
	messageIDHeader        = "Message-ID"
)

type postmarkHeader struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type postmarkAttachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
	ContentID   string `json:"ContentID,omitempty"`
}

type postmarkEmail struct {
	From        string               `json:"From"`
	To          string               `json:"To"`
	Cc          string               `json:"Cc,omitempty"`
	Bcc         string               `json:"Bcc,omitempty"`
	Subject     string               `json:"Subject"`
	Tag         string               `json:"Tag,omitempty"`
	HTMLBody    string               `json:"HtmlBody,omitempty"`
	TextBody    string               `json:"TextBody,omitempty"`
	ReplyTo     string               `json:"ReplyTo,omitempty"`
	Headers     []postmarkHeader     `json:"Headers,omitempty"`
	Attachments []postmarkAttachment `json:"Attachments,omitempty"`
}

type postmarkResponse struct {
	To          string `json:"To"`
	SubmittedAt string `json:"SubmittedAt"`
	MessageID   string `json:"MessageID"`
	ErrorCode   int    `json:"ErrorCode"`
	Message     string `json:"Message"`
}

var _ Transport = (*PostmarkTransport)(nil)

// PostmarkTransport submits email through the Postmark HTTP API.
type PostmarkTransport struct {
	client  *resty.Client
	baseURL string
	token   string
}

func NewPostmarkTransport(baseURL, serverToken string) (*PostmarkTransport, error) {
	client := resty.New()
	client.SetTimeout(defaultPostmarkTimeout)
	client.SetRetryCount(0)

	return NewPostmarkTransportWithClient(baseURL, serverToken, client)
}

func NewPostmarkTransportWithClient(baseURL, serverToken string, client *resty.Client) (*PostmarkTransport, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, fmt.Errorf("postmark api url is required")
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid postmark api url: %w", err)
	}
	if strings.TrimSpace(serverToken) == "" {
		return nil, fmt.Errorf("postmark server token is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultPostmarkTimeout)
	}
	client.SetRetryCount(0)

	return &PostmarkTransport{
		client:  client,
		baseURL: trimmedURL,
		token:   strings.TrimSpace(serverToken),
	}, nil
}

func (p *PostmarkTransport) Send(ctx context.Context, msg domain.OutboundMessage) (*domain.SendResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("transport is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	response, err := p.request(ctx).
		SetBody(toPostmarkEmail(msg)).
		Post(p.baseURL + "/email")
	if err != nil {
		return nil, requestError(err)
	}

	statusCode := response.StatusCode()
	var body postmarkResponse
	decodeErr := json.Unmarshal(response.Body(), &body)

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, statusError(statusCode, body, strings.TrimSpace(response.String()))
	}
	if decodeErr != nil {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    "failed to decode provider response",
			Cause:      decodeErr,
		}
	}

	return toSendResult(body)
}

func (p *PostmarkTransport) SendBatch(ctx context.Context, msgs []domain.OutboundMessage) (map[string]BatchOutcome, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("transport is not initialized")
	}

	outcomes := make(map[string]BatchOutcome, len(msgs))
	payload := make([]postmarkEmail, 0, len(msgs))
	submitted := make([]string, 0, len(msgs))
	for i := range msgs {
		if err := msgs[i].Validate(); err != nil {
			outcomes[msgs[i].MessageID] = BatchOutcome{Err: fmt.Errorf("invalid message: %w", err)}
			continue
		}
		if _, dup := outcomes[msgs[i].MessageID]; dup || strings.TrimSpace(msgs[i].MessageID) == "" {
			return nil, fmt.Errorf("%w: batch messages need unique message ids", domain.ErrValidation)
		}
		payload = append(payload, toPostmarkEmail(msgs[i]))
		submitted = append(submitted, msgs[i].MessageID)
		outcomes[msgs[i].MessageID] = BatchOutcome{}
	}
	if len(payload) == 0 {
		return outcomes, nil
	}

	response, err := p.request(ctx).
		SetBody(payload).
		Post(p.baseURL + "/email/batch")
	if err != nil {
		return nil, requestError(err)
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		var body postmarkResponse
		_ = json.Unmarshal(response.Body(), &body)
		return nil, statusError(statusCode, body, strings.TrimSpace(response.String()))
	}

	var results []postmarkResponse
	if err := json.Unmarshal(response.Body(), &results); err != nil {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    "failed to decode provider batch response",
			Cause:      err,
		}
	}
	if len(results) != len(submitted) {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    fmt.Sprintf("provider returned %d results for %d messages", len(results), len(submitted)),
		}
	}

	// Results of one synchronous batch call come back in request order.
	for i, id := range submitted {
		result, err := toSendResult(results[i])
		outcomes[id] = BatchOutcome{Result: result, Err: err}
	}

	return outcomes, nil
}

func (p *PostmarkTransport) request(ctx context.Context) *resty.Request {
	return p.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetHeader(serverTokenHeader, p.token)
}

func toPostmarkEmail(msg domain.OutboundMessage) postmarkEmail {
	headers := make([]postmarkHeader, 0, len(msg.Headers)+1)
	if id := strings.TrimSpace(msg.MessageID); id != "" {
		headers = append(headers, postmarkHeader{Name: messageIDHeader, Value: id})
	}
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Name, messageIDHeader) {
			continue
		}
		headers = append(headers, postmarkHeader{Name: h.Name, Value: h.Value})
	}

	attachments := make([]postmarkAttachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, postmarkAttachment{
			Name:        a.Name,
			Content:     a.Content,
			ContentType: a.ContentType,
			ContentID:   a.ContentID,
		})
	}

	return postmarkEmail{
		From:        msg.From,
		To:          strings.Join(msg.To, ","),
		Cc:          strings.Join(msg.Cc, ","),
		Bcc:         strings.Join(msg.Bcc, ","),
		Subject:     msg.Subject,
		Tag:         msg.Tag,
		HTMLBody:    msg.HTMLBody,
		TextBody:    msg.TextBody,
		ReplyTo:     msg.ReplyTo,
		Headers:     headers,
		Attachments: attachments,
	}
}

func toSendResult(body postmarkResponse) (*domain.SendResult, error) {
	if body.ErrorCode != 0 {
		return nil, &ProviderError{
			StatusCode: http.StatusUnprocessableEntity,
			ErrorCode:  body.ErrorCode,
			Message:    body.Message,
		}
	}

	result := &domain.SendResult{
		ProviderMessageID: strings.TrimSpace(body.MessageID),
		ErrorCode:         body.ErrorCode,
		Message:           body.Message,
	}
	if submittedAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(body.SubmittedAt)); err == nil {
		result.SubmittedAt = submittedAt.UTC()
	}
	return result, nil
}

func requestError(err error) error {
	return &ProviderError{
		Message:   "provider request failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

func statusError(statusCode int, body postmarkResponse, raw string) error {
	message := strings.TrimSpace(body.Message)
	if message == "" {
		message = providerErrorMessage(statusCode, raw)
	}
	return &ProviderError{
		StatusCode: statusCode,
		ErrorCode:  body.ErrorCode,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
