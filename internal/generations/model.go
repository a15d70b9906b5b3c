package generations

import (
	"time"

	"gorm.io/datatypes"
)

// Generation records one successful proposal run. The source text itself is never stored.
type Generation struct {
	ID                    int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID                string    `gorm:"column:user_id;size:190;not null;index:idx_generations_user_created,priority:1" json:"user_id"`
	Model                 string    `gorm:"column:model;size:190;not null" json:"model"`
	GeneratedCount        int       `gorm:"column:generated_count;not null" json:"generated_count"`
	AcceptedUneditedCount int       `gorm:"column:accepted_unedited_count;not null;default:0" json:"accepted_unedited_count"`
	AcceptedEditedCount   int       `gorm:"column:accepted_edited_count;not null;default:0" json:"accepted_edited_count"`
	SourceTextHash        string    `gorm:"column:source_text_hash;size:64;not null;index" json:"source_text_hash"`
	SourceTextLength      int       `gorm:"column:source_text_length;not null" json:"source_text_length"`
	GenerationDuration    int64     `gorm:"column:generation_duration;not null" json:"generation_duration"`
	CreatedAt             time.Time `gorm:"column:created_at;not null;index:idx_generations_user_created,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Generation) TableName() string {
	return "generations"
}

// AcceptedCount is the number of proposals saved as flashcards.
func (g Generation) AcceptedCount() int {
	return g.AcceptedUneditedCount + g.AcceptedEditedCount
}

// Curated reports whether proposals from this generation were already accepted.
func (g Generation) Curated() bool {
	return g.AcceptedCount() > 0
}

// ErrorLog is an append-only record of a failed generation.
type ErrorLog struct {
	ID               int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID           string         `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	Model            string         `gorm:"column:model;size:190;not null" json:"model"`
	SourceTextHash   string         `gorm:"column:source_text_hash;size:64;not null" json:"source_text_hash"`
	SourceTextLength int            `gorm:"column:source_text_length;not null" json:"source_text_length"`
	ErrorCode        string         `gorm:"column:error_code;size:100;not null" json:"error_code"`
	ErrorMessage     string         `gorm:"column:error_message;type:text;not null" json:"error_message"`
	Details          datatypes.JSON `gorm:"column:details" json:"details,omitempty"`
	CreatedAt        time.Time      `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (ErrorLog) TableName() string {
	return "generation_error_logs"
}

// SortField orders generation history.
type SortField string

const (
	SortCreatedAt          SortField = "created_at"
	SortGeneratedCount     SortField = "generated_count"
	SortGenerationDuration SortField = "generation_duration"
)

// ParseSortField accepts known sort columns and falls back to created_at.
func ParseSortField(raw string) SortField {
	switch SortField(raw) {
	case SortGeneratedCount, SortGenerationDuration:
		return SortField(raw)
	default:
		return SortCreatedAt
	}
}

// Statistics aggregates a user's generation history.
type Statistics struct {
	TotalGenerations         int64   `json:"total_generations"`
	TotalFlashcardsGenerated int64   `json:"total_flashcards_generated"`
	TotalFlashcardsAccepted  int64   `json:"total_flashcards_accepted"`
	AcceptanceRate           float64 `json:"acceptance_rate"`
}

// NewStatistics derives the acceptance rate from raw totals.
func NewStatistics(totalGenerations, generated, accepted int64) Statistics {
	rate := 0.0
	if generated > 0 {
		rate = float64(accepted) / float64(generated)
	}
	return Statistics{
		TotalGenerations:         totalGenerations,
		TotalFlashcardsGenerated: generated,
		TotalFlashcardsAccepted:  accepted,
		AcceptanceRate:           rate,
	}
}
