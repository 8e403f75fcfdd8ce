package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addNamespacePoliciesRelayEventsColumn() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_add_namespace_policies_relay_events",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`ALTER TABLE namespace_policies ADD COLUMN IF NOT EXISTS relay_events TEXT NOT NULL DEFAULT ''`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`ALTER TABLE namespace_policies DROP COLUMN IF EXISTS relay_events`).Error
		},
	}
}
