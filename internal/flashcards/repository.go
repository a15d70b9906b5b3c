package flashcards

import (
	"context"

	"github.com/MarcoPoloResearchLab/cardloom/internal/pagination"
)

// ListQuery selects a page of a user's flashcards. Empty Source and Search disable those filters.
type ListQuery struct {
	UserID     string
	Pagination pagination.Params
	Sort       SortField
	Descending bool
	Source     Source
	Search     string
}

// Acceptance saves curated proposals of one generation and bumps its accepted counters.
type Acceptance struct {
	UserID       string
	GenerationID int64
	Cards        []Flashcard
	Unedited     int
	Edited       int
}

// Repository persists flashcards. AcceptProposals must be atomic: either every card and the
// counter update are written or nothing is.
type Repository interface {
	CreateFlashcard(ctx context.Context, card *Flashcard) error
	GetFlashcard(ctx context.Context, userID string, id int64) (Flashcard, error)
	UpdateFlashcard(ctx context.Context, card *Flashcard) error
	DeleteFlashcard(ctx context.Context, userID string, id int64) error
	ListFlashcards(ctx context.Context, query ListQuery) ([]Flashcard, int64, error)
	SampleFlashcards(ctx context.Context, userID string, limit int) ([]Flashcard, error)
	AcceptProposals(ctx context.Context, acceptance Acceptance) ([]Flashcard, error)
}
