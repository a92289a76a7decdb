package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/mailtrack/internal/domain"
	"github.com/kursadbilgin/mailtrack/internal/repository"
)

// Catalog serves the read-only admin listings.
type Catalog struct {
	store  repository.Store
	status *StatusService
}

func NewCatalog(store repository.Store, status *StatusService) (*Catalog, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if status == nil {
		return nil, fmt.Errorf("status service is required")
	}
	return &Catalog{store: store, status: status}, nil
}

func (c *Catalog) ListMessages(ctx context.Context, params repository.ListParams) ([]domain.Message, int64, error) {
	return c.store.Messages().List(ctx, params)
}

// ListEmails returns a page of emails with their derived status.
func (c *Catalog) ListEmails(ctx context.Context, params repository.ListParams) ([]EmailView, int64, error) {
	emails, total, err := c.store.Emails().List(ctx, params)
	if err != nil {
		return nil, 0, err
	}

	views, err := c.status.EmailViews(ctx, emails)
	if err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

func (c *Catalog) ListBounces(ctx context.Context, params repository.ListParams) ([]domain.Bounce, int64, error) {
	return c.store.Bounces().List(ctx, params)
}

func (c *Catalog) ListDeliveries(ctx context.Context, params repository.ListParams) ([]domain.Delivery, int64, error) {
	return c.store.Deliveries().List(ctx, params)
}

func (c *Catalog) MessageDetail(ctx context.Context, messageID string) (*MessageView, error) {
	return c.status.MessageDetail(ctx, messageID)
}
