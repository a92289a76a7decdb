package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/mailtrack/internal/domain"
	"github.com/kursadbilgin/mailtrack/internal/repository"
	"go.uber.org/zap"
)

// EmailView is an Email with its events and derived status.
type EmailView struct {
	Email      domain.Email
	Status     domain.DeliveryStatus
	Bounces    []domain.Bounce
	Deliveries []domain.Delivery
}

// MessageView is a Message with every attempt, newest first.
type MessageView struct {
	Message domain.Message
	Status  domain.DeliveryStatus
	Emails  []EmailView
}

// StatusService derives delivery status on read. It never writes.
type StatusService struct {
	store  repository.Store
	logger *zap.Logger
}

func NewStatusService(store repository.Store, logger *zap.Logger) (*StatusService, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatusService{store: store, logger: logger}, nil
}

func (s *StatusService) EmailStatus(ctx context.Context, emailID string) (domain.DeliveryStatus, error) {
	email, err := s.store.Emails().GetByID(ctx, emailID)
	if err != nil {
		return "", err
	}

	statuses, err := s.EmailStatuses(ctx, []domain.Email{*email})
	if err != nil {
		return "", err
	}
	return statuses[email.ID], nil
}

// MessageStatus is the status of the message's most recent attempt, or
// pending when it has none.
func (s *StatusService) MessageStatus(ctx context.Context, messageID string) (domain.DeliveryStatus, error) {
	view, err := s.MessageDetail(ctx, messageID)
	if err != nil {
		return "", err
	}
	return view.Status, nil
}

func (s *StatusService) MessageDetail(ctx context.Context, messageID string) (*MessageView, error) {
	message, err := s.store.Messages().GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	emails, err := s.store.Emails().ListByMessageIDs(ctx, []string{message.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}

	views, err := s.EmailViews(ctx, emails)
	if err != nil {
		return nil, err
	}

	view := &MessageView{
		Message: *message,
		Status:  domain.DeliveryStatusPending,
		Emails:  views,
	}
	if len(views) > 0 {
		view.Status = views[0].Status
	}
	return view, nil
}

// EmailStatuses derives the status of every email, keyed by Email.ID.
func (s *StatusService) EmailStatuses(ctx context.Context, emails []domain.Email) (map[string]domain.DeliveryStatus, error) {
	views, err := s.EmailViews(ctx, emails)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]domain.DeliveryStatus, len(views))
	for _, view := range views {
		statuses[view.Email.ID] = view.Status
	}
	return statuses, nil
}

// EmailViews loads events for emails in two queries and keeps input order.
func (s *StatusService) EmailViews(ctx context.Context, emails []domain.Email) ([]EmailView, error) {
	if len(emails) == 0 {
		return []EmailView{}, nil
	}

	ids := make([]string, 0, len(emails))
	for _, email := range emails {
		ids = append(ids, email.ID)
	}

	bounces, err := s.store.Bounces().ListByEmailIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list bounces: %w", err)
	}
	deliveries, err := s.store.Deliveries().ListByEmailIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}

	bouncesByEmail := make(map[string][]domain.Bounce, len(emails))
	for _, b := range bounces {
		bouncesByEmail[b.EmailID] = append(bouncesByEmail[b.EmailID], b)
	}
	deliveriesByEmail := make(map[string][]domain.Delivery, len(emails))
	for _, d := range deliveries {
		deliveriesByEmail[d.EmailID] = append(deliveriesByEmail[d.EmailID], d)
	}

	views := make([]EmailView, 0, len(emails))
	for _, email := range emails {
		views = append(views, EmailView{
			Email:      email,
			Status:     domain.DeriveStatus(email, bouncesByEmail[email.ID], deliveriesByEmail[email.ID]),
			Bounces:    bouncesByEmail[email.ID],
			Deliveries: deliveriesByEmail[email.ID],
		})
	}
	return views, nil
}
