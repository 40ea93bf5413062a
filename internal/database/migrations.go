package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/atdaga/skrm-server-sub000/internal/collab"
)

const migrationBackfillUpdateTimestamps = "2026-03-18_backfill_update_timestamps"

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
		{name: migrationBackfillUpdateTimestamps, apply: backfillUpdateTimestamps},
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

// backfillUpdateTimestamps repairs rows written before the ordering column
// existed by deriving the timestamp from the row creation time.
func backfillUpdateTimestamps(db *gorm.DB) error {
	var records []collab.UpdateRecord
	if err := db.Where("timestamp = 0").Find(&records).Error; err != nil {
		return err
	}
	for _, record := range records {
		stamp := float64(record.CreatedAt.Unix())
		err := db.Model(&collab.UpdateRecord{}).
			Where("id = ?", record.ID).
			Update("timestamp", stamp).Error
		if err != nil {
			return err
		}
	}
	return nil
}
