package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/mailtrack/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProviderFields is the provider round-trip data attached to an Email.
type ProviderFields struct {
	SubmittedAt       *time.Time
	ProviderMessageID *string
	ProviderErrorCode *int
	ProviderMessage   string
}

type EmailRepository interface {
	// GetOrCreate inserts e unless its send id already exists. e is
	// overwritten with the stored row either way.
	GetOrCreate(ctx context.Context, e *domain.Email) (bool, error)
	// AttachProviderResponse fills provider fields on an Email that does not
	// have them yet and clears its sending error. It reports whether a row
	// changed.
	AttachProviderResponse(ctx context.Context, sendID string, fields ProviderFields) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Email, error)
	GetBySendID(ctx context.Context, sendID string) (*domain.Email, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Email, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Email, error)
	ListByMessageIDs(ctx context.Context, messageIDs []string) ([]domain.Email, error)
	List(ctx context.Context, params ListParams) ([]domain.Email, int64, error)
}

type GormEmailRepo struct {
	db *gorm.DB
}

func NewGormEmailRepo(db *gorm.DB) *GormEmailRepo {
	return &GormEmailRepo{db: db}
}

func (r *GormEmailRepo) GetOrCreate(ctx context.Context, e *domain.Email) (bool, error) {
	model := emailModelFromDomain(e)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "send_id"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		if IsUniqueViolation(result.Error) {
			// send_id conflicts are absorbed above, so this is the provider id.
			return false, fmt.Errorf("%w: provider message id already attached to another email: %v", domain.ErrConflict, result.Error)
		}
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		*e = *emailModelToDomain(model)
		return true, nil
	}

	existing, err := r.GetBySendID(ctx, e.SendID)
	if err != nil {
		return false, err
	}
	*e = *existing
	return false, nil
}

func (r *GormEmailRepo) AttachProviderResponse(ctx context.Context, sendID string, fields ProviderFields) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&EmailModel{}).
		Where("send_id = ? AND provider_message_id IS NULL", sendID).
		Updates(map[string]any{
			"submitted_at":        fields.SubmittedAt,
			"provider_message_id": fields.ProviderMessageID,
			"provider_error_code": fields.ProviderErrorCode,
			"provider_message":    truncate(fields.ProviderMessage, 255),
			"sending_error":       "",
		})
	if result.Error != nil {
		if IsUniqueViolation(result.Error) {
			return false, fmt.Errorf("%w: provider message id already attached to another email", domain.ErrConflict)
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormEmailRepo) GetByID(ctx context.Context, id string) (*domain.Email, error) {
	var model EmailModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return emailModelToDomain(&model), nil
}

func (r *GormEmailRepo) GetBySendID(ctx context.Context, sendID string) (*domain.Email, error) {
	var model EmailModel
	if err := r.db.WithContext(ctx).Where("send_id = ?", sendID).First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return emailModelToDomain(&model), nil
}

func (r *GormEmailRepo) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Email, error) {
	var model EmailModel
	err := r.db.WithContext(ctx).
		Where("provider_message_id = ?", providerMessageID).
		First(&model).Error
	if err != nil {
		return nil, notFound(err)
	}
	return emailModelToDomain(&model), nil
}

func (r *GormEmailRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.Email, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []EmailModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	return emailModelsToDomain(models), nil
}

func (r *GormEmailRepo) ListByMessageIDs(ctx context.Context, messageIDs []string) ([]domain.Email, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var models []EmailModel
	err := r.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("date DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return emailModelsToDomain(models), nil
}

func (r *GormEmailRepo) List(ctx context.Context, params ListParams) ([]domain.Email, int64, error) {
	query := r.db.WithContext(ctx).Model(&EmailModel{})

	if params.Query != "" {
		pattern := likePattern(params.Query)
		query = query.Where("send_id ILIKE ? OR provider_message_id ILIKE ? OR sending_error ILIKE ?", pattern, pattern, pattern)
	}
	if params.MessageID != "" {
		query = query.Where("message_id = ?", params.MessageID)
	}
	if params.From != nil {
		query = query.Where("date >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("date <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []EmailModel
	if err := paginate(query.Order("date DESC"), params).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	return emailModelsToDomain(models), total, nil
}

func emailModelsToDomain(models []EmailModel) []domain.Email {
	emails := make([]domain.Email, 0, len(models))
	for i := range models {
		emails = append(emails, *emailModelToDomain(&models[i]))
	}
	return emails
}
