package migrations

import (
	"github.com/foodbridge/notify-gateway/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_audit_records",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.AuditRecordModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_audit_records_tenant_created ON audit_records (tenant_id, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_audit_records_tenant_unread ON audit_records (tenant_id) WHERE read = false`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_records_tenant_idempotency_key ON audit_records (tenant_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.AuditRecordModel{})
			},
		},
		{
			ID: "000002_create_dispatch_outcomes",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DispatchOutcomeModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_dispatch_outcomes_record_position ON dispatch_outcomes (record_id, position)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DispatchOutcomeModel{})
			},
		},
	})

	return m.Migrate()
}
