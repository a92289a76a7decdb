package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/mailtrack/internal/repository"
	"gorm.io/gorm"
)

func createBouncesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_bounces",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BounceModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE bounces ADD CONSTRAINT fk_bounces_email FOREIGN KEY (email_id) REFERENCES emails (id) ON DELETE CASCADE`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_bounces_bounce_id ON bounces (bounce_id)`,
				`CREATE INDEX IF NOT EXISTS idx_bounces_email_id ON bounces (email_id)`,
				`CREATE INDEX IF NOT EXISTS idx_bounces_bounced_at ON bounces (bounced_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BounceModel{})
		},
	}
}
