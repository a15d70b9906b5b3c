// Package memstore keeps generations and flashcards in process memory. It backs the development
// configuration only and loses everything on restart.
package memstore

import (
	"cmp"
	"context"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/cardloom/internal/flashcards"
	"github.com/MarcoPoloResearchLab/cardloom/internal/generations"
)

// Store is an arena of records keyed by monotonically increasing ids.
type Store struct {
	mu sync.Mutex

	nextGenerationID int64
	nextErrorLogID   int64
	nextFlashcardID  int64

	generations map[int64]generations.Generation
	errorLogs   []generations.ErrorLog
	flashcards  map[int64]flashcards.Flashcard
}

func New() *Store {
	return &Store{
		generations: make(map[int64]generations.Generation),
		flashcards:  make(map[int64]flashcards.Flashcard),
	}
}

func (s *Store) CreateGeneration(_ context.Context, generation *generations.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGenerationID++
	generation.ID = s.nextGenerationID
	s.generations[generation.ID] = *generation
	return nil
}

func (s *Store) CreateErrorLog(_ context.Context, entry *generations.ErrorLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextErrorLogID++
	entry.ID = s.nextErrorLogID
	s.errorLogs = append(s.errorLogs, *entry)
	return nil
}

// ErrorLogs returns a copy of the recorded error logs for userID.
func (s *Store) ErrorLogs(userID string) []generations.ErrorLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]generations.ErrorLog, 0)
	for _, entry := range s.errorLogs {
		if entry.UserID == userID {
			result = append(result, entry)
		}
	}
	return result
}

// Generation returns a stored generation by id.
func (s *Store) Generation(id int64) (generations.Generation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	generation, ok := s.generations[id]
	return generation, ok
}

func (s *Store) ListGenerations(_ context.Context, query generations.ListQuery) ([]generations.Generation, int64, error) {
	s.mu.Lock()
	matched := make([]generations.Generation, 0)
	for _, generation := range s.generations {
		if generation.UserID == query.UserID {
			matched = append(matched, generation)
		}
	}
	s.mu.Unlock()

	slices.SortStableFunc(matched, func(a, b generations.Generation) int {
		var order int
		switch query.Sort {
		case generations.SortGeneratedCount:
			order = cmp.Compare(a.GeneratedCount, b.GeneratedCount)
		case generations.SortGenerationDuration:
			order = cmp.Compare(a.GenerationDuration, b.GenerationDuration)
		default:
			order = a.CreatedAt.Compare(b.CreatedAt)
		}
		if order == 0 {
			order = cmp.Compare(a.ID, b.ID)
		}
		if query.Descending {
			return -order
		}
		return order
	})

	return page(matched, query.Pagination.Offset(), query.Pagination.Limit), int64(len(matched)), nil
}

func (s *Store) Statistics(_ context.Context, userID string) (generations.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total, generated, accepted int64
	for _, generation := range s.generations {
		if generation.UserID != userID {
			continue
		}
		total++
		generated += int64(generation.GeneratedCount)
		accepted += int64(generation.AcceptedCount())
	}
	return generations.NewStatistics(total, generated, accepted), nil
}

func (s *Store) CreateFlashcard(_ context.Context, card *flashcards.Flashcard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertFlashcardLocked(card)
	return nil
}

func (s *Store) insertFlashcardLocked(card *flashcards.Flashcard) {
	s.nextFlashcardID++
	card.ID = s.nextFlashcardID
	s.flashcards[card.ID] = *card
}

func (s *Store) GetFlashcard(_ context.Context, userID string, id int64) (flashcards.Flashcard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.flashcards[id]
	if !ok || card.UserID != userID {
		return flashcards.Flashcard{}, flashcards.ErrNotFound
	}
	return card, nil
}

func (s *Store) UpdateFlashcard(_ context.Context, card *flashcards.Flashcard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.flashcards[card.ID]
	if !ok || existing.UserID != card.UserID {
		return flashcards.ErrNotFound
	}
	s.flashcards[card.ID] = *card
	return nil
}

func (s *Store) DeleteFlashcard(_ context.Context, userID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.flashcards[id]
	if !ok || existing.UserID != userID {
		return flashcards.ErrNotFound
	}
	delete(s.flashcards, id)
	return nil
}

func (s *Store) ListFlashcards(_ context.Context, query flashcards.ListQuery) ([]flashcards.Flashcard, int64, error) {
	search := strings.ToLower(query.Search)

	s.mu.Lock()
	matched := make([]flashcards.Flashcard, 0)
	for _, card := range s.flashcards {
		if card.UserID != query.UserID {
			continue
		}
		if query.Source != "" && card.Source != query.Source {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(card.Front), search) &&
			!strings.Contains(strings.ToLower(card.Back), search) {
			continue
		}
		matched = append(matched, card)
	}
	s.mu.Unlock()

	slices.SortStableFunc(matched, func(a, b flashcards.Flashcard) int {
		var order int
		switch query.Sort {
		case flashcards.SortFront:
			order = cmp.Compare(strings.ToLower(a.Front), strings.ToLower(b.Front))
		case flashcards.SortUpdatedAt:
			order = a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			order = a.CreatedAt.Compare(b.CreatedAt)
		}
		if order == 0 {
			order = cmp.Compare(a.ID, b.ID)
		}
		if query.Descending {
			return -order
		}
		return order
	})

	return page(matched, query.Pagination.Offset(), query.Pagination.Limit), int64(len(matched)), nil
}

func (s *Store) SampleFlashcards(_ context.Context, userID string, limit int) ([]flashcards.Flashcard, error) {
	s.mu.Lock()
	owned := make([]flashcards.Flashcard, 0)
	for _, card := range s.flashcards {
		if card.UserID == userID {
			owned = append(owned, card)
		}
	}
	s.mu.Unlock()

	rand.Shuffle(len(owned), func(i, j int) {
		owned[i], owned[j] = owned[j], owned[i]
	})
	if limit >= 0 && len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, nil
}

func (s *Store) AcceptProposals(_ context.Context, acceptance flashcards.Acceptance) ([]flashcards.Flashcard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	generation, ok := s.generations[acceptance.GenerationID]
	if !ok || generation.UserID != acceptance.UserID {
		return nil, flashcards.ErrGenerationNotFound
	}
	if generation.Curated() {
		return nil, flashcards.ErrGenerationAlreadyCurated
	}
	if acceptance.Unedited+acceptance.Edited > generation.GeneratedCount {
		return nil, flashcards.ErrTooManyAccepted
	}

	created := make([]flashcards.Flashcard, 0, len(acceptance.Cards))
	for _, card := range acceptance.Cards {
		s.insertFlashcardLocked(&card)
		created = append(created, card)
	}
	generation.AcceptedUneditedCount = acceptance.Unedited
	generation.AcceptedEditedCount = acceptance.Edited
	s.generations[generation.ID] = generation
	return created, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

var (
	_ generations.Repository = (*Store)(nil)
	_ flashcards.Repository  = (*Store)(nil)
)
