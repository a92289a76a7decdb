package repository

import (
	"context"

	"github.com/kursadbilgin/mailtrack/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BounceRepository interface {
	// GetOrCreate inserts b unless its provider bounce id already exists. b is
	// overwritten with the stored row either way.
	GetOrCreate(ctx context.Context, b *domain.Bounce) (bool, error)
	GetByBounceIDs(ctx context.Context, bounceIDs []int64) ([]domain.Bounce, error)
	ListByEmailIDs(ctx context.Context, emailIDs []string) ([]domain.Bounce, error)
	MarkResent(ctx context.Context, bounceID int64) error
	List(ctx context.Context, params ListParams) ([]domain.Bounce, int64, error)
}

type DeliveryRepository interface {
	// GetOrCreate inserts d unless (email, address) already exists. d is
	// overwritten with the stored row either way.
	GetOrCreate(ctx context.Context, d *domain.Delivery) (bool, error)
	ListByEmailIDs(ctx context.Context, emailIDs []string) ([]domain.Delivery, error)
	List(ctx context.Context, params ListParams) ([]domain.Delivery, int64, error)
}

type GormBounceRepo struct {
	db *gorm.DB
}

func NewGormBounceRepo(db *gorm.DB) *GormBounceRepo {
	return &GormBounceRepo{db: db}
}

func (r *GormBounceRepo) GetOrCreate(ctx context.Context, b *domain.Bounce) (bool, error) {
	model := bounceModelFromDomain(b)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bounce_id"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil && !IsUniqueViolation(result.Error) {
		return false, result.Error
	}
	if result.Error == nil && result.RowsAffected == 1 {
		*b = *bounceModelToDomain(model)
		return true, nil
	}

	var existing BounceModel
	if err := r.db.WithContext(ctx).Where("bounce_id = ?", b.BounceID).First(&existing).Error; err != nil {
		return false, notFound(err)
	}
	*b = *bounceModelToDomain(&existing)
	return false, nil
}

func (r *GormBounceRepo) GetByBounceIDs(ctx context.Context, bounceIDs []int64) ([]domain.Bounce, error) {
	if len(bounceIDs) == 0 {
		return nil, nil
	}
	var models []BounceModel
	if err := r.db.WithContext(ctx).Where("bounce_id IN ?", bounceIDs).Find(&models).Error; err != nil {
		return nil, err
	}
	return bounceModelsToDomain(models), nil
}

func (r *GormBounceRepo) ListByEmailIDs(ctx context.Context, emailIDs []string) ([]domain.Bounce, error) {
	if len(emailIDs) == 0 {
		return nil, nil
	}
	var models []BounceModel
	err := r.db.WithContext(ctx).
		Where("email_id IN ?", emailIDs).
		Order("bounced_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return bounceModelsToDomain(models), nil
}

func (r *GormBounceRepo) MarkResent(ctx context.Context, bounceID int64) error {
	result := r.db.WithContext(ctx).
		Model(&BounceModel{}).
		Where("bounce_id = ?", bounceID).
		Update("has_been_resent", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormBounceRepo) List(ctx context.Context, params ListParams) ([]domain.Bounce, int64, error) {
	query := r.db.WithContext(ctx).Model(&BounceModel{})

	if params.Query != "" {
		query = query.Where("email_address ILIKE ?", likePattern(params.Query))
	}
	if params.EmailID != "" {
		query = query.Where("email_id = ?", params.EmailID)
	}
	if params.Inactive != nil {
		query = query.Where("is_inactive = ?", *params.Inactive)
	}
	if params.HasBeenResent != nil {
		query = query.Where("has_been_resent = ?", *params.HasBeenResent)
	}
	if params.From != nil {
		query = query.Where("bounced_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("bounced_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []BounceModel
	if err := paginate(query.Order("bounced_at DESC"), params).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	return bounceModelsToDomain(models), total, nil
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

func (r *GormDeliveryRepo) GetOrCreate(ctx context.Context, d *domain.Delivery) (bool, error) {
	model := deliveryModelFromDomain(d)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email_id"}, {Name: "email_address"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil && !IsUniqueViolation(result.Error) {
		return false, result.Error
	}
	if result.Error == nil && result.RowsAffected == 1 {
		*d = *deliveryModelToDomain(model)
		return true, nil
	}

	var existing DeliveryModel
	err := r.db.WithContext(ctx).
		Where("email_id = ? AND email_address = ?", d.EmailID, d.EmailAddress).
		First(&existing).Error
	if err != nil {
		return false, notFound(err)
	}
	*d = *deliveryModelToDomain(&existing)
	return false, nil
}

func (r *GormDeliveryRepo) ListByEmailIDs(ctx context.Context, emailIDs []string) ([]domain.Delivery, error) {
	if len(emailIDs) == 0 {
		return nil, nil
	}
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("email_id IN ?", emailIDs).
		Order("delivered_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveryModelsToDomain(models), nil
}

func (r *GormDeliveryRepo) List(ctx context.Context, params ListParams) ([]domain.Delivery, int64, error) {
	query := r.db.WithContext(ctx).Model(&DeliveryModel{})

	if params.Query != "" {
		query = query.Where("email_address ILIKE ?", likePattern(params.Query))
	}
	if params.EmailID != "" {
		query = query.Where("email_id = ?", params.EmailID)
	}
	if params.From != nil {
		query = query.Where("delivered_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("delivered_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []DeliveryModel
	if err := paginate(query.Order("delivered_at DESC"), params).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	return deliveryModelsToDomain(models), total, nil
}

func bounceModelsToDomain(models []BounceModel) []domain.Bounce {
	bounces := make([]domain.Bounce, 0, len(models))
	for i := range models {
		bounces = append(bounces, *bounceModelToDomain(&models[i]))
	}
	return bounces
}

func deliveryModelsToDomain(models []DeliveryModel) []domain.Delivery {
	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}
	return deliveries
}
