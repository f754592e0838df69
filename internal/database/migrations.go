package database

import (
	"errors"
	"time"

	"github.com/souldream/backend/internal/calendar"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeSyncStatus = "2026-06-18_normalize_sync_status_case"

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
		{name: migrationNormalizeSyncStatus, apply: normalizeSyncStatusCase},
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
		if err := migration.apply(db); err != nil {
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

// normalizeSyncStatusCase repairs rows imported from the previous system,
// which stored sync status with inconsistent casing.
func normalizeSyncStatusCase(db *gorm.DB) error {
	return db.Model(&calendar.CalendarEvent{}).
		Where("sync_status <> LOWER(sync_status)").
		Update("sync_status", gorm.Expr("LOWER(sync_status)")).Error
}
