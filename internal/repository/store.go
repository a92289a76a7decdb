package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kursadbilgin/mailtrack/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// ListParams filters admin listings. Zero values mean "no filter".
type ListParams struct {
	Query         string
	MessageID     string
	EmailID       string
	Inactive      *bool
	HasBeenResent *bool
	From          *time.Time
	To            *time.Time
	Page          int
	PageSize      int
}

// Store groups the four record repositories and runs them in one transaction
// when needed.
type Store interface {
	Messages() MessageRepository
	Emails() EmailRepository
	Bounces() BounceRepository
	Deliveries() DeliveryRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Messages() MessageRepository { return NewGormMessageRepo(s.db) }
func (s *GormStore) Emails() EmailRepository { return NewGormEmailRepo(s.db) }
func (s *GormStore) Bounces() BounceRepository { return NewGormBounceRepo(s.db) }
func (s *GormStore) Deliveries() DeliveryRepository { return NewGormDeliveryRepo(s.db) }

func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormStore(tx))
	})
}

// IsUniqueViolation reports whether err comes from a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

func paginate(query *gorm.DB, params ListParams) *gorm.DB {
	page, pageSize := normalizePage(params)
	return query.Offset((page - 1) * pageSize).Limit(pageSize)
}

func normalizePage(params ListParams) (int, int) {
	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return page, min(pageSize, maxPageSize)
}

func likePattern(q string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.TrimSpace(q))
	return "%" + escaped + "%"
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
