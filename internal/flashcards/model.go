package flashcards

import (
	"errors"
	"strings"
	"time"
)

// Source records how a flashcard came to exist.
type Source string

const (
	SourceManual   Source = "manual"
	SourceAIFull   Source = "ai-full"
	SourceAIEdited Source = "ai-edited"
)

var (
	// ErrNotFound indicates the flashcard does not exist for the requesting user.
	ErrNotFound = errors.New("flashcards: flashcard not found")
	// ErrGenerationNotFound indicates the referenced generation does not exist for the requesting user.
	ErrGenerationNotFound = errors.New("flashcards: generation not found")
	// ErrGenerationAlreadyCurated indicates proposals from the generation were already accepted.
	ErrGenerationAlreadyCurated = errors.New("flashcards: generation already curated")
	// ErrTooManyAccepted indicates more cards were accepted than the generation proposed.
	ErrTooManyAccepted = errors.New("flashcards: accepted cards exceed generated count")
)

// Flashcard is a saved question/answer pair.
type Flashcard struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID       string    `gorm:"column:user_id;size:190;not null;index:idx_flashcards_user_created,priority:1" json:"-"`
	Front        string    `gorm:"column:front;size:200;not null" json:"front"`
	Back         string    `gorm:"column:back;size:500;not null" json:"back"`
	Source       Source    `gorm:"column:source;size:16;not null" json:"source"`
	GenerationID *int64    `gorm:"column:generation_id;index" json:"generation_id"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index:idx_flashcards_user_created,priority:2" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Flashcard) TableName() string {
	return "flashcards"
}

// SortField orders flashcard listings.
type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortUpdatedAt SortField = "updated_at"
	SortFront     SortField = "front"
)

// ParseSortField accepts known sort columns and falls back to created_at.
func ParseSortField(raw string) SortField {
	switch SortField(raw) {
	case SortUpdatedAt, SortFront:
		return SortField(raw)
	default:
		return SortCreatedAt
	}
}

// ParseSourceFilter returns the source to filter by, or "" for every source.
func ParseSourceFilter(raw string) Source {
	switch Source(strings.ToLower(strings.TrimSpace(raw))) {
	case SourceManual:
		return SourceManual
	case SourceAIFull:
		return SourceAIFull
	case SourceAIEdited:
		return SourceAIEdited
	default:
		return ""
	}
}
