package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/mailtrack/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageRepository interface {
	// GetOrCreate inserts m unless its correlation key already exists. m is
	// overwritten with the stored row either way.
	GetOrCreate(ctx context.Context, m *domain.Message) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetByCorrelationKey(ctx context.Context, key string) (*domain.Message, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Message, error)
	List(ctx context.Context, params ListParams) ([]domain.Message, int64, error)
	DeleteCreatedBefore(ctx context.Context, before time.Time) (int64, error)
}

type GormMessageRepo struct {
	db *gorm.DB
}

func NewGormMessageRepo(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

func (r *GormMessageRepo) GetOrCreate(ctx context.Context, m *domain.Message) (bool, error) {
	model := messageModelFromDomain(m)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "correlation_key"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil && !IsUniqueViolation(result.Error) {
		return false, result.Error
	}
	if result.Error == nil && result.RowsAffected == 1 {
		*m = *messageModelToDomain(model)
		return true, nil
	}

	existing, err := r.GetByCorrelationKey(ctx, m.CorrelationKey)
	if err != nil {
		return false, err
	}
	*m = *existing
	return false, nil
}

func (r *GormMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var model MessageModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return messageModelToDomain(&model), nil
}

func (r *GormMessageRepo) GetByCorrelationKey(ctx context.Context, key string) (*domain.Message, error) {
	var model MessageModel
	err := r.db.WithContext(ctx).
		Where("correlation_key = ?", key).
		First(&model).Error
	if err != nil {
		return nil, notFound(err)
	}
	return messageModelToDomain(&model), nil
}

func (r *GormMessageRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var models []MessageModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(models))
	for i := range models {
		messages = append(messages, *messageModelToDomain(&models[i]))
	}
	return messages, nil
}

func (r *GormMessageRepo) List(ctx context.Context, params ListParams) ([]domain.Message, int64, error) {
	query := r.db.WithContext(ctx).Model(&MessageModel{})

	if params.Query != "" {
		pattern := likePattern(params.Query)
		query = query.Where(
			"correlation_key ILIKE ? OR subject ILIKE ? OR from_email ILIKE ? OR to_emails ILIKE ? OR cc_emails ILIKE ? OR bcc_emails ILIKE ?",
			pattern, pattern, pattern, pattern, pattern, pattern,
		)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []MessageModel
	if err := paginate(query.Order("created_at DESC"), params).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	messages := make([]domain.Message, 0, len(models))
	for i := range models {
		messages = append(messages, *messageModelToDomain(&models[i]))
	}

	return messages, total, nil
}

// DeleteCreatedBefore removes messages strictly older than before. Emails,
// bounces and deliveries go with them through ON DELETE CASCADE.
func (r *GormMessageRepo) DeleteCreatedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&MessageModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
