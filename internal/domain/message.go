package domain

import (
	"time"
)

// Message groups an original send and all of its resends under one
// correlation key.
type Message struct {
	ID             string
	CorrelationKey string
	Content        *Content
	Subject        string
	FromEmail      string
	ToEmails       string
	CcEmails       string
	BccEmails      string
	CreatedAt      time.Time
}

// Email is one concrete transmission of a Message, either the original send
// or a resend.
type Email struct {
	ID                string
	MessageID         string
	SendID            string
	IsResend          bool
	Date              time.Time
	SendingError      string
	SubmittedAt       *time.Time
	ProviderMessageID *string
	ProviderErrorCode *int
	ProviderMessage   string
	CreatedAt         time.Time
}

// HasProviderResponse reports whether the provider round-trip has been stored.
func (e *Email) HasProviderResponse() bool {
	return e != nil && e.ProviderMessageID != nil && *e.ProviderMessageID != ""
}

// Bounce is a provider-reported delivery failure for one Email.
type Bounce struct {
	ID            string
	EmailID       string
	BounceID      int64
	EmailAddress  string
	BouncedAt     time.Time
	TypeCode      int
	Type          string
	Description   string
	IsInactive    bool
	CanActivate   bool
	HasBeenResent bool
	RawPayload    []byte
	CreatedAt     time.Time
}

// Delivery is a provider-reported successful delivery of one Email to one
// address.
type Delivery struct {
	ID           string
	EmailID      string
	EmailAddress string
	DeliveredAt  time.Time
	RawPayload   []byte
	CreatedAt    time.Time
}
