package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationIndexFlashcardGenerationSource = "2026-10-01_index_flashcard_generation_source"
	migrationLowercaseUserEmails            = "2026-10-08_lowercase_user_emails"
)

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
		{name: migrationIndexFlashcardGenerationSource, apply: indexFlashcardGenerationSource},
		{name: migrationLowercaseUserEmails, apply: lowercaseUserEmails},
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

// indexFlashcardGenerationSource supports acceptance statistics per generation and source.
func indexFlashcardGenerationSource(db *gorm.DB) error {
	return db.Exec("CREATE INDEX IF NOT EXISTS idx_flashcards_generation_source ON flashcards (generation_id, source)").Error
}

// lowercaseUserEmails normalises accounts created before email lookups became case-insensitive.
func lowercaseUserEmails(db *gorm.DB) error {
	return db.Exec("UPDATE users SET email = LOWER(email) WHERE email <> LOWER(email)").Error
}
