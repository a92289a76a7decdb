package repository

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/mailtrack/internal/domain"
	"gorm.io/gorm"
)

// MessageModel is the persistence model for the messages table.
type MessageModel struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	CorrelationKey string          `gorm:"type:varchar(255);not null"`
	Content        *domain.Content `gorm:"type:jsonb;serializer:json"`
	Subject        string          `gorm:"type:varchar(255);not null;default:''"`
	FromEmail      string          `gorm:"type:varchar(255);not null;default:''"`
	ToEmails       string          `gorm:"type:text;not null;default:''"`
	CcEmails       string          `gorm:"type:text;not null;default:''"`
	BccEmails      string          `gorm:"type:text;not null;default:''"`
	CreatedAt      time.Time       `gorm:"type:timestamptz;not null"`
}

func (MessageModel) TableName() string {
	return "messages"
}

func (m *MessageModel) BeforeCreate(*gorm.DB) error {
	m.ID = ensureID(m.ID)
	return nil
}

// EmailModel is the persistence model for the emails table.
type EmailModel struct {
	ID                string     `gorm:"type:uuid;primaryKey"`
	MessageID         string     `gorm:"type:uuid;not null"`
	SendID            string     `gorm:"type:varchar(255);not null"`
	IsResend          bool       `gorm:"not null;default:false"`
	Date              time.Time  `gorm:"type:timestamptz;not null"`
	SendingError      string     `gorm:"type:text;not null;default:''"`
	SubmittedAt       *time.Time `gorm:"type:timestamptz"`
	ProviderMessageID *string    `gorm:"type:varchar(255)"`
	ProviderErrorCode *int       `gorm:"type:int"`
	ProviderMessage   string     `gorm:"type:varchar(255);not null;default:''"`
	CreatedAt         time.Time  `gorm:"type:timestamptz;not null"`
}

func (EmailModel) TableName() string {
	return "emails"
}

func (m *EmailModel) BeforeCreate(*gorm.DB) error {
	m.ID = ensureID(m.ID)
	return nil
}

// BounceModel is the persistence model for the bounces table.
type BounceModel struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	EmailID       string    `gorm:"type:uuid;not null"`
	BounceID      int64     `gorm:"type:bigint;not null"`
	EmailAddress  string    `gorm:"type:text;not null"`
	BouncedAt     time.Time `gorm:"type:timestamptz;not null"`
	TypeCode      int       `gorm:"not null"`
	Type          string    `gorm:"type:varchar(64);not null;default:''"`
	Description   string    `gorm:"type:text;not null;default:''"`
	IsInactive    bool      `gorm:"not null"`
	CanActivate   bool      `gorm:"not null"`
	HasBeenResent bool      `gorm:"not null;default:false"`
	RawPayload    []byte    `gorm:"type:jsonb"`
	CreatedAt     time.Time `gorm:"type:timestamptz;not null"`
}

func (BounceModel) TableName() string {
	return "bounces"
}

func (m *BounceModel) BeforeCreate(*gorm.DB) error {
	m.ID = ensureID(m.ID)
	return nil
}

// DeliveryModel is the persistence model for the deliveries table.
type DeliveryModel struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	EmailID      string    `gorm:"type:uuid;not null"`
	EmailAddress string    `gorm:"type:text;not null"`
	DeliveredAt  time.Time `gorm:"type:timestamptz;not null"`
	RawPayload   []byte    `gorm:"type:jsonb"`
	CreatedAt    time.Time `gorm:"type:timestamptz;not null"`
}

func (DeliveryModel) TableName() string {
	return "deliveries"
}

func (m *DeliveryModel) BeforeCreate(*gorm.DB) error {
	m.ID = ensureID(m.ID)
	return nil
}

func messageModelFromDomain(m *domain.Message) *MessageModel {
	if m == nil {
		return nil
	}

	return &MessageModel{
		ID:             m.ID,
		CorrelationKey: m.CorrelationKey,
		Content:        m.Content,
		Subject:        truncate(m.Subject, 255),
		FromEmail:      truncate(m.FromEmail, 255),
		ToEmails:       m.ToEmails,
		CcEmails:       m.CcEmails,
		BccEmails:      m.BccEmails,
		CreatedAt:      m.CreatedAt,
	}
}

func messageModelToDomain(m *MessageModel) *domain.Message {
	if m == nil {
		return nil
	}

	return &domain.Message{
		ID:             m.ID,
		CorrelationKey: m.CorrelationKey,
		Content:        m.Content,
		Subject:        m.Subject,
		FromEmail:      m.FromEmail,
		ToEmails:       m.ToEmails,
		CcEmails:       m.CcEmails,
		BccEmails:      m.BccEmails,
		CreatedAt:      m.CreatedAt,
	}
}

func emailModelFromDomain(e *domain.Email) *EmailModel {
	if e == nil {
		return nil
	}

	return &EmailModel{
		ID:                e.ID,
		MessageID:         e.MessageID,
		SendID:            e.SendID,
		IsResend:          e.IsResend,
		Date:              e.Date,
		SendingError:      e.SendingError,
		SubmittedAt:       e.SubmittedAt,
		ProviderMessageID: e.ProviderMessageID,
		ProviderErrorCode: e.ProviderErrorCode,
		ProviderMessage:   truncate(e.ProviderMessage, 255),
		CreatedAt:         e.CreatedAt,
	}
}

func emailModelToDomain(m *EmailModel) *domain.Email {
	if m == nil {
		return nil
	}

	return &domain.Email{
		ID:                m.ID,
		MessageID:         m.MessageID,
		SendID:            m.SendID,
		IsResend:          m.IsResend,
		Date:              m.Date,
		SendingError:      m.SendingError,
		SubmittedAt:       m.SubmittedAt,
		ProviderMessageID: m.ProviderMessageID,
		ProviderErrorCode: m.ProviderErrorCode,
		ProviderMessage:   m.ProviderMessage,
		CreatedAt:         m.CreatedAt,
	}
}

func bounceModelFromDomain(b *domain.Bounce) *BounceModel {
	if b == nil {
		return nil
	}

	return &BounceModel{
		ID:            b.ID,
		EmailID:       b.EmailID,
		BounceID:      b.BounceID,
		EmailAddress:  b.EmailAddress,
		BouncedAt:     b.BouncedAt,
		TypeCode:      b.TypeCode,
		Type:          truncate(b.Type, 64),
		Description:   b.Description,
		IsInactive:    b.IsInactive,
		CanActivate:   b.CanActivate,
		HasBeenResent: b.HasBeenResent,
		RawPayload:    b.RawPayload,
		CreatedAt:     b.CreatedAt,
	}
}

func bounceModelToDomain(m *BounceModel) *domain.Bounce {
	if m == nil {
		return nil
	}

	return &domain.Bounce{
		ID:            m.ID,
		EmailID:       m.EmailID,
		BounceID:      m.BounceID,
		EmailAddress:  m.EmailAddress,
		BouncedAt:     m.BouncedAt,
		TypeCode:      m.TypeCode,
		Type:          m.Type,
		Description:   m.Description,
		IsInactive:    m.IsInactive,
		CanActivate:   m.CanActivate,
		HasBeenResent: m.HasBeenResent,
		RawPayload:    m.RawPayload,
		CreatedAt:     m.CreatedAt,
	}
}

func deliveryModelFromDomain(d *domain.Delivery) *DeliveryModel {
	if d == nil {
		return nil
	}

	return &DeliveryModel{
		ID:           d.ID,
		EmailID:      d.EmailID,
		EmailAddress: d.EmailAddress,
		DeliveredAt:  d.DeliveredAt,
		RawPayload:   d.RawPayload,
		CreatedAt:    d.CreatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryModel) *domain.Delivery {
	if m == nil {
		return nil
	}

	return &domain.Delivery{
		ID:           m.ID,
		EmailID:      m.EmailID,
		EmailAddress: m.EmailAddress,
		DeliveredAt:  m.DeliveredAt,
		RawPayload:   m.RawPayload,
		CreatedAt:    m.CreatedAt,
	}
}

func truncate(value string, limit int) string {
	runes := []rune(strings.TrimSpace(value))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit])
}

// ensureID keeps a caller-supplied id and mints a UUID otherwise.
func ensureID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
