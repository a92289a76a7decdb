package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/mailtrack/internal/domain"
	"github.com/kursadbilgin/mailtrack/internal/observability"
)

const testWebhookSecret = "0123456789abcdef"

type stubCorrelator struct {
	bounceFn   func(ctx context.Context, raw []byte) error
	deliveryFn func(ctx context.Context, raw []byte) error
	calls      int
}

func (s *stubCorrelator) HandleBounce(ctx context.Context, raw []byte) error {
	s.calls++
	if s.bounceFn != nil {
		return s.bounceFn(ctx, raw)
	}
	return nil
}

func (s *stubCorrelator) HandleDelivery(ctx context.Context, raw []byte) error {
	s.calls++
	if s.deliveryFn != nil {
		return s.deliveryFn(ctx, raw)
	}
	return nil
}

func newWebhookTestApp(t *testing.T, correlator EventCorrelator) *fiber.App {
	t.Helper()

	app := newTestApp(t)
	if err := RegisterWebhookRoutes(app, correlator, testWebhookSecret); err != nil {
		t.Fatalf("RegisterWebhookRoutes() error = %v", err)
	}
	return app
}

func TestWebhookRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	correlator := &stubCorrelator{}
	app := newWebhookTestApp(t, correlator)

	for _, path := range []string{"/webhooks/wrong-secret/bounce", "/webhooks/wrong-secret/delivery"} {
		resp, body := performRequest(t, app, http.MethodPost, path, `{"ID":1}`)
		if resp.StatusCode != fiber.StatusForbidden {
			t.Fatalf("%s status = %d, want 403, body=%s", path, resp.StatusCode, string(body))
		}
	}
	if correlator.calls != 0 {
		t.Fatalf("correlator calls = %d, want 0", correlator.calls)
	}
}

func TestWebhookBounceForwardsBodyAndRequestID(t *testing.T) {
	t.Parallel()

	payload := `{"ID":42,"MessageID":"pm-1","Email":"a@x.com","BouncedAt":"2024-01-01T00:00:00Z","TypeCode":1}`
	var gotBody string
	var gotRequestID string
	correlator := &stubCorrelator{
		bounceFn: func(ctx context.Context, raw []byte) error {
			gotBody = string(raw)
			gotRequestID, _ = observability.RequestIDFromContext(ctx)
			return nil
		},
	}
	app := newWebhookTestApp(t, correlator)

	resp, body := performRequest(t, app, http.MethodPost, "/webhooks/"+testWebhookSecret+"/bounce", payload,
		fiber.HeaderXRequestID, "req-123")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", resp.StatusCode, string(body))
	}
	if gotBody != payload {
		t.Fatalf("body = %q, want %q", gotBody, payload)
	}
	if gotRequestID != "req-123" {
		t.Fatalf("request id = %q, want req-123", gotRequestID)
	}
}

func TestWebhookErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "recorded", err: nil, wantStatus: fiber.StatusNoContent},
		{name: "malformed payload", err: fmt.Errorf("%w: invalid payload", domain.ErrValidation), wantStatus: fiber.StatusBadRequest},
		{name: "storage failure", err: errors.New("db down"), wantStatus: fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			correlator := &stubCorrelator{
				deliveryFn: func(context.Context, []byte) error { return tt.err },
			}
			app := newWebhookTestApp(t, correlator)

			resp, body := performRequest(t, app, http.MethodPost, "/webhooks/"+testWebhookSecret+"/delivery", `{}`)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, string(body))
			}
		})
	}
}

func TestNewWebhookHandlerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewWebhookHandler(nil, testWebhookSecret); err == nil {
		t.Fatal("NewWebhookHandler(nil) error = nil, want error")
	}
	if _, err := NewWebhookHandler(&stubCorrelator{}, " "); err == nil {
		t.Fatal("NewWebhookHandler(blank secret) error = nil, want error")
	}
}
