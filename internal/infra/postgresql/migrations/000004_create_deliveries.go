package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/mailtrack/internal/repository"
	"gorm.io/gorm"
)

func createDeliveriesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_deliveries",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE deliveries ADD CONSTRAINT fk_deliveries_email FOREIGN KEY (email_id) REFERENCES emails (id) ON DELETE CASCADE`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_deliveries_email_address ON deliveries (email_id, email_address)`,
				`CREATE INDEX IF NOT EXISTS idx_deliveries_delivered_at ON deliveries (delivered_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryModel{})
		},
	}
}
