package service

import (
	"context"
	"testing"
	"time"

	"github.com/kursadbilgin/mailtrack/internal/domain"
	"github.com/kursadbilgin/mailtrack/internal/repository"
)

func TestCatalogListEmailsIncludesStatus(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	_, email := store.seedSent(outboundFixture("M1"), "pm-M1", time.Now().UTC())
	store.seedBounce(domain.Bounce{EmailID: email.ID, BounceID: 7, EmailAddress: "a@x.com"})

	status, _ := NewStatusService(store, nil)
	catalog, err := NewCatalog(store, status)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	views, total, err := catalog.ListEmails(context.Background(), repository.ListParams{})
	if err != nil {
		t.Fatalf("ListEmails() error = %v", err)
	}
	if total != 1 || len(views) != 1 {
		t.Fatalf("views = %d total = %d, want 1/1", len(views), total)
	}
	if views[0].Status != domain.DeliveryStatusBounced {
		t.Fatalf("status = %s, want bounced", views[0].Status)
	}
	if len(views[0].Bounces) != 1 {
		t.Fatalf("bounces = %d, want 1", len(views[0].Bounces))
	}
}

func TestNewCatalogValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewCatalog(nil, &StatusService{}); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewCatalog(newMemStore(), nil); err == nil {
		t.Fatal("expected error for nil status service")
	}
}
