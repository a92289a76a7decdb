package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/mailtrack/internal/repository"
	"gorm.io/gorm"
)

func createEmailsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_emails",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EmailModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE emails ADD CONSTRAINT fk_emails_message FOREIGN KEY (message_id) REFERENCES messages (id) ON DELETE CASCADE`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_emails_send_id ON emails (send_id)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_emails_provider_message_id ON emails (provider_message_id) WHERE provider_message_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_emails_message_id ON emails (message_id)`,
				`CREATE INDEX IF NOT EXISTS idx_emails_date ON emails (date)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EmailModel{})
		},
	}
}
