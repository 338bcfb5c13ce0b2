package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/bookworm/internal/snapshots"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillSnapshotVersions = "2026-03-01_backfill_snapshot_versions"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillSnapshotVersions, apply: backfillSnapshotVersions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written before versioning start at version 1 so the next upsert yields 2.
func backfillSnapshotVersions(db *gorm.DB) error {
	return db.Model(&snapshots.UserSnapshot{}).
		Where("version = 0").
		Update("version", 1).Error
}
