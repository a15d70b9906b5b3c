// Package sqlstore persists generations and flashcards through GORM on SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/cardloom/internal/flashcards"
	"github.com/MarcoPoloResearchLab/cardloom/internal/generations"
)

var errMissingDatabase = errors.New("sqlstore: database handle is required")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateGeneration(ctx context.Context, generation *generations.Generation) error {
	return s.db.WithContext(ctx).Create(generation).Error
}

func (s *Store) CreateErrorLog(ctx context.Context, entry *generations.ErrorLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) ListGenerations(ctx context.Context, query generations.ListQuery) ([]generations.Generation, int64, error) {
	scoped := s.db.WithContext(ctx).
		Model(&generations.Generation{}).
		Where("user_id = ?", query.UserID)

	var total int64
	if err := scoped.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []generations.Generation
	err := scoped.Session(&gorm.Session{}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: string(query.Sort)}, Desc: query.Descending}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: query.Descending}).
		Offset(query.Pagination.Offset()).
		Limit(query.Pagination.Limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

type statisticsRow struct {
	Total     int64
	Generated int64
	Accepted  int64
}

func (s *Store) Statistics(ctx context.Context, userID string) (generations.Statistics, error) {
	var row statisticsRow
	err := s.db.WithContext(ctx).
		Model(&generations.Generation{}).
		Select("COUNT(*) AS total, " +
			"COALESCE(SUM(generated_count), 0) AS generated, " +
			"COALESCE(SUM(accepted_unedited_count + accepted_edited_count), 0) AS accepted").
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return generations.Statistics{}, err
	}
	return generations.NewStatistics(row.Total, row.Generated, row.Accepted), nil
}

func (s *Store) CreateFlashcard(ctx context.Context, card *flashcards.Flashcard) error {
	return s.db.WithContext(ctx).Create(card).Error
}

func (s *Store) GetFlashcard(ctx context.Context, userID string, id int64) (flashcards.Flashcard, error) {
	var card flashcards.Flashcard
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return flashcards.Flashcard{}, flashcards.ErrNotFound
	}
	if err != nil {
		return flashcards.Flashcard{}, err
	}
	return card, nil
}

func (s *Store) UpdateFlashcard(ctx context.Context, card *flashcards.Flashcard) error {
	result := s.db.WithContext(ctx).
		Model(&flashcards.Flashcard{}).
		Where("id = ? AND user_id = ?", card.ID, card.UserID).
		Updates(map[string]any{
			"front":      card.Front,
			"back":       card.Back,
			"source":     card.Source,
			"updated_at": card.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return flashcards.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteFlashcard(ctx context.Context, userID string, id int64) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&flashcards.Flashcard{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return flashcards.ErrNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *Store) ListFlashcards(ctx context.Context, query flashcards.ListQuery) ([]flashcards.Flashcard, int64, error) {
	scoped := s.db.WithContext(ctx).
		Model(&flashcards.Flashcard{}).
		Where("user_id = ?", query.UserID)
	if query.Source != "" {
		scoped = scoped.Where("source = ?", query.Source)
	}
	if query.Search != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(query.Search)) + "%"
		scoped = scoped.Where(`(LOWER(front) LIKE ? ESCAPE '\' OR LOWER(back) LIKE ? ESCAPE '\')`, pattern, pattern)
	}

	var total int64
	if err := scoped.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	direction := "ASC"
	if query.Descending {
		direction = "DESC"
	}
	var cards []flashcards.Flashcard
	err := scoped.Session(&gorm.Session{}).
		Order(fmt.Sprintf("%s %s, id %s", flashcardSortExpression(query.Sort), direction, direction)).
		Offset(query.Pagination.Offset()).
		Limit(query.Pagination.Limit).
		Find(&cards).Error
	if err != nil {
		return nil, 0, err
	}
	return cards, total, nil
}

func flashcardSortExpression(field flashcards.SortField) string {
	switch field {
	case flashcards.SortFront:
		return "LOWER(front)"
	case flashcards.SortUpdatedAt:
		return "updated_at"
	default:
		return "created_at"
	}
}

func (s *Store) SampleFlashcards(ctx context.Context, userID string, limit int) ([]flashcards.Flashcard, error) {
	var cards []flashcards.Flashcard
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("RANDOM()").
		Limit(limit).
		Find(&cards).Error
	if err != nil {
		return nil, err
	}
	return cards, nil
}

func (s *Store) AcceptProposals(ctx context.Context, acceptance flashcards.Acceptance) ([]flashcards.Flashcard, error) {
	cards := append([]flashcards.Flashcard(nil), acceptance.Cards...)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var generation generations.Generation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", acceptance.GenerationID, acceptance.UserID).
			Take(&generation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return flashcards.ErrGenerationNotFound
		}
		if err != nil {
			return err
		}
		if generation.Curated() {
			return flashcards.ErrGenerationAlreadyCurated
		}
		if acceptance.Unedited+acceptance.Edited > generation.GeneratedCount {
			return flashcards.ErrTooManyAccepted
		}

		if len(cards) > 0 {
			if err := tx.Create(&cards).Error; err != nil {
				return err
			}
		}
		return tx.Model(&generations.Generation{}).
			Where("id = ?", generation.ID).
			Updates(map[string]any{
				"accepted_unedited_count": acceptance.Unedited,
				"accepted_edited_count":   acceptance.Edited,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

var (
	_ generations.Repository = (*Store)(nil)
	_ flashcards.Repository  = (*Store)(nil)
)
