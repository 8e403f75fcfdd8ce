package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createNamespacePoliciesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_namespace_policies",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`CREATE TABLE IF NOT EXISTS namespace_policies (
					name        VARCHAR(128) PRIMARY KEY,
					channel     VARCHAR(12) NOT NULL,
					strategy    VARCHAR(10) NOT NULL DEFAULT '',
					max_calls   INTEGER NOT NULL DEFAULT 0,
					window_ms   BIGINT NOT NULL DEFAULT 0,
					burst_size  INTEGER NOT NULL DEFAULT 0,
					refill_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
					created_at  TIMESTAMPTZ NOT NULL,
					updated_at  TIMESTAMPTZ NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_namespace_policies_channel ON namespace_policies (channel)`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP TABLE IF EXISTS namespace_policies`).Error
		},
	}
}
