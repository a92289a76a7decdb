package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/mailtrack/internal/domain"
	"github.com/kursadbilgin/mailtrack/internal/lock"
	"github.com/kursadbilgin/mailtrack/internal/observability"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const bouncePayloadM1 = `{"ID":42,"MessageID":"pm-M1","Email":"a@x.com","BouncedAt":"2020-01-01T00:00:00Z","TypeCode":1,"Inactive":false,"CanActivate":true}`

func newTestCorrelator(t *testing.T, store *memStore, locker lock.Locker, logger *zap.Logger) *Correlator {
	t.Helper()

	correlator, err := NewCorrelator(store, locker, observability.NewMetrics(), logger)
	if err != nil {
		t.Fatalf("NewCorrelator() error = %v", err)
	}
	return correlator
}

func TestCorrelatorBounceIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	_, email := store.seedSent(outboundFixture("M1"), "pm-M1", time.Now().UTC())
	locker := &fakeLocker{}
	correlator := newTestCorrelator(t, store, locker, nil)

	for i := 0; i < 2; i++ {
		if err := correlator.HandleBounce(context.Background(), []byte(bouncePayloadM1)); err != nil {
			t.Fatalf("HandleBounce() call %d error = %v", i+1, err)
		}
	}

	if got := store.bounceCount(); got != 1 {
		t.Fatalf("bounces = %d, want 1", got)
	}
	bounce, ok := store.bounceByBounceID(42)
	if !ok {
		t.Fatal("bounce 42 not recorded")
	}
	if bounce.EmailID != email.ID {
		t.Fatalf("bounce.EmailID = %q, want %q", bounce.EmailID, email.ID)
	}
	if bounce.EmailAddress != "a@x.com" || bounce.TypeCode != 1 || !bounce.CanActivate || bounce.IsInactive {
		t.Fatalf("unexpected bounce fields: %+v", bounce)
	}
	if !bounce.BouncedAt.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("BouncedAt = %v", bounce.BouncedAt)
	}
	if len(locker.acquired) != 2 || locker.acquired[0] != "bounce:42" {
		t.Fatalf("lock keys = %v, want two bounce:42", locker.acquired)
	}
}

func TestCorrelatorConcurrentBounceRedeliveries(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.seedSent(outboundFixture("M1"), "pm-M1", time.Now().UTC())
	correlator := newTestCorrelator(t, store, nil, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- correlator.HandleBounce(context.Background(), []byte(bouncePayloadM1))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("HandleBounce() error = %v", err)
		}
	}
	if got := store.bounceCount(); got != 1 {
		t.Fatalf("bounces = %d, want 1", got)
	}
}

func TestCorrelatorBounceCorrelationMissIsAcknowledged(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.WarnLevel)
	store := newMemStore()
	correlator := newTestCorrelator(t, store, nil, zap.New(core))

	if err := correlator.HandleBounce(context.Background(), []byte(bouncePayloadM1)); err != nil {
		t.Fatalf("HandleBounce() error = %v, want nil", err)
	}
	if got := store.bounceCount(); got != 0 {
		t.Fatalf("bounces = %d, want 0", got)
	}
	if recorded.FilterMessage("bounce does not match any email").Len() != 1 {
		t.Fatal("expected a correlation-miss warning")
	}
}

func TestCorrelatorDeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	_, email := store.seedSent(outboundFixture("M1"), "pm-M1", time.Now().UTC())
	locker := &fakeLocker{}
	correlator := newTestCorrelator(t, store, locker, nil)

	payloads := []string{
		`{"MessageID":"pm-M1","Recipient":"a@x.com","DeliveredAt":"2014-08-01T13:28:10.2735393-04:00"}`,
		`{"MessageID":"pm-M1","Recipient":" A@X.com ","DeliveredAt":"2014-08-01T13:28:10.2735393-04:00"}`,
	}
	for _, payload := range payloads {
		if err := correlator.HandleDelivery(context.Background(), []byte(payload)); err != nil {
			t.Fatalf("HandleDelivery() error = %v", err)
		}
	}

	if got := store.deliveryCount(); got != 1 {
		t.Fatalf("deliveries = %d, want 1", got)
	}
	deliveries, _ := store.Deliveries().ListByEmailIDs(context.Background(), []string{email.ID})
	want := time.Date(2014, 8, 1, 17, 28, 10, 273539300, time.UTC)
	if !deliveries[0].DeliveredAt.Equal(want) {
		t.Fatalf("DeliveredAt = %v, want %v", deliveries[0].DeliveredAt, want)
	}
	if locker.acquired[0] != "delivery:"+email.ID+":a@x.com" {
		t.Fatalf("lock key = %q", locker.acquired[0])
	}
}

func TestCorrelatorDeliveryPerRecipient(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.seedSent(outboundFixture("M1"), "pm-M1", time.Now().UTC())
	correlator := newTestCorrelator(t, store, nil, nil)

	for _, recipient := range []string{"a@x.com", "b@x.com"} {
		payload := `{"MessageID":"pm-M1","Recipient":"` + recipient + `","DeliveredAt":"2020-01-02T00:00:00Z"}`
		if err := correlator.HandleDelivery(context.Background(), []byte(payload)); err != nil {
			t.Fatalf("HandleDelivery() error = %v", err)
		}
	}

	if got := store.deliveryCount(); got != 2 {
		t.Fatalf("deliveries = %d, want 2", got)
	}
}

func TestCorrelatorDeliveryUnknownMessageIsAcknowledged(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.WarnLevel)
	store := newMemStore()
	correlator := newTestCorrelator(t, store, nil, zap.New(core))

	payload := `{"MessageID":"unknown","Recipient":"a@x.com","DeliveredAt":"2020-01-02T00:00:00Z"}`
	if err := correlator.HandleDelivery(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("HandleDelivery() error = %v, want nil", err)
	}
	if got := store.deliveryCount(); got != 0 {
		t.Fatalf("deliveries = %d, want 0", got)
	}
	if recorded.FilterMessage("delivery does not match any email").Len() != 1 {
		t.Fatal("expected a correlation-miss warning")
	}
}

func TestCorrelatorRejectsInvalidPayloads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handle  func(c *Correlator, raw []byte) error
		payload string
	}{
		{name: "bounce empty body", handle: bounceHandler, payload: ""},
		{name: "bounce malformed json", handle: bounceHandler, payload: `{"ID":`},
		{name: "bounce missing id", handle: bounceHandler, payload: `{"MessageID":"pm","Email":"a@x.com","BouncedAt":"2020-01-01T00:00:00Z"}`},
		{name: "bounce missing message id", handle: bounceHandler, payload: `{"ID":1,"Email":"a@x.com","BouncedAt":"2020-01-01T00:00:00Z"}`},
		{name: "bounce missing email", handle: bounceHandler, payload: `{"ID":1,"MessageID":"pm","BouncedAt":"2020-01-01T00:00:00Z"}`},
		{name: "bounce bad timestamp", handle: bounceHandler, payload: `{"ID":1,"MessageID":"pm","Email":"a@x.com","BouncedAt":"yesterday"}`},
		{name: "delivery missing recipient", handle: deliveryHandler, payload: `{"MessageID":"pm","DeliveredAt":"2020-01-01T00:00:00Z"}`},
		{name: "delivery missing timestamp", handle: deliveryHandler, payload: `{"MessageID":"pm","Recipient":"a@x.com"}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			correlator := newTestCorrelator(t, newMemStore(), nil, nil)
			err := tt.handle(correlator, []byte(tt.payload))
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestCorrelatorStorageErrorIsReturned(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.emailLookupErr = errors.New("db down")
	correlator := newTestCorrelator(t, store, nil, nil)

	err := correlator.HandleBounce(context.Background(), []byte(bouncePayloadM1))
	if err == nil || errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want storage error", err)
	}
}

func TestCorrelatorProceedsWhenLockUnavailable(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.seedSent(outboundFixture("M1"), "pm-M1", time.Now().UTC())
	correlator := newTestCorrelator(t, store, &fakeLocker{err: lock.ErrNotAcquired}, nil)

	if err := correlator.HandleBounce(context.Background(), []byte(bouncePayloadM1)); err != nil {
		t.Fatalf("HandleBounce() error = %v", err)
	}
	if got := store.bounceCount(); got != 1 {
		t.Fatalf("bounces = %d, want 1", got)
	}
}

func bounceHandler(c *Correlator, raw []byte) error {
	return c.HandleBounce(context.Background(), raw)
}

func deliveryHandler(c *Correlator, raw []byte) error {
	return c.HandleDelivery(context.Background(), raw)
}
