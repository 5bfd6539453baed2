package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeStatusTokens = "2026-03-14_normalize_status_tokens"

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
		{name: migrationNormalizeStatusTokens, apply: normalizeStatusTokens},
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

// normalizeStatusTokens folds rows written by early builds, which stored
// status values in mixed case, onto the canonical upper-case tokens.
func normalizeStatusTokens(db *gorm.DB) error {
	if err := db.Exec("UPDATE tasks SET status = UPPER(status) WHERE status <> UPPER(status);").Error; err != nil {
		return err
	}
	const updateLogs = "UPDATE activity_logs SET old_value = UPPER(old_value), new_value = UPPER(new_value) " +
		"WHERE action_type = 'STATUS_CHANGE' AND (old_value <> UPPER(old_value) OR new_value <> UPPER(new_value));"
	return db.Exec(updateLogs).Error
}
