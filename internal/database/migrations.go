package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillStickerStatus = "2026-05-12_backfill_sticker_status"

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
		{name: migrationBackfillStickerStatus, apply: backfillStickerStatus},
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

// backfillStickerStatus stamps the explicit "none" status onto polaroid
// payloads that predate sticker tracking.
func backfillStickerStatus(db *gorm.DB) error {
	const statement = `UPDATE record_rows SET payload_json = json_set(payload_json, '$.stickerStatus', 'none') WHERE collection = ? AND json_extract(payload_json, '$.stickerStatus') IS NULL;`
	return db.Exec(statement, records.CollectionPolaroids).Error
}
