// Package flashcards manages saved flashcards: manual authoring, edits, batch acceptance of model
// proposals and study decks.
package flashcards

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cardloom/internal/pagination"
	"github.com/MarcoPoloResearchLab/cardloom/internal/validation"
)

const (
	opServiceNew = "flashcards.service.new"
	opCreate     = "flashcards.create"
	opUpdate     = "flashcards.update"
	opDelete     = "flashcards.delete"
	opList       = "flashcards.list"
	opAccept     = "flashcards.accept_batch"
	opStudy      = "flashcards.study_deck"
)

var (
	errMissingRepository = errors.New("flashcard repository is required")
	errMissingUserID     = errors.New("user identifier is required")
	errEmptyUpdate       = errors.New("at least one field must be provided")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Repository Repository
	Validator  *validation.Validator
	Clock      func() time.Time
	Logger     *zap.Logger
}

type Service struct {
	repository Repository
	validator  *validation.Validator
	clock      func() time.Time
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, newServiceError(opServiceNew, "missing_repository", errMissingRepository)
	}

	validator := cfg.Validator
	if validator == nil {
		built, err := validation.New()
		if err != nil {
			return nil, newServiceError(opServiceNew, "validator_failed", err)
		}
		validator = built
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		repository: cfg.Repository,
		validator:  validator,
		clock:      clock,
		logger:     logger,
	}, nil
}

type CreateInput struct {
	Front string `json:"front" validate:"has_content,max=200"`
	Back  string `json:"back" validate:"has_content,max=500"`
}

// Create saves a user-authored flashcard.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (Flashcard, error) {
	if userID == "" {
		return Flashcard{}, newServiceError(opCreate, "missing_user", errMissingUserID)
	}
	input.Front = strings.TrimSpace(input.Front)
	input.Back = strings.TrimSpace(input.Back)
	if err := validation.NewError(s.validator.Struct(input)); err != nil {
		return Flashcard{}, err
	}

	now := s.clock().UTC()
	card := Flashcard{
		UserID:    userID,
		Front:     input.Front,
		Back:      input.Back,
		Source:    SourceManual,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repository.CreateFlashcard(ctx, &card); err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", userID))
		return Flashcard{}, newServiceError(opCreate, "insert_failed", err)
	}
	return card, nil
}

// UpdateInput carries the fields to change; nil fields stay untouched.
type UpdateInput struct {
	Front *string `json:"front"`
	Back  *string `json:"back"`
}

type frontField struct {
	Front string `json:"front" validate:"has_content,max=200"`
}

type backField struct {
	Back string `json:"back" validate:"has_content,max=500"`
}

// Update edits a flashcard. Changing the text of an unedited AI card marks it as edited.
func (s *Service) Update(ctx context.Context, userID string, id int64, input UpdateInput) (Flashcard, error) {
	if input.Front == nil && input.Back == nil {
		return Flashcard{}, &validation.Error{Issues: []validation.Issue{{Message: errEmptyUpdate.Error()}}}
	}

	var issues []validation.Issue
	if input.Front != nil {
		trimmed := strings.TrimSpace(*input.Front)
		input.Front = &trimmed
		issues = append(issues, s.validator.Struct(frontField{Front: trimmed})...)
	}
	if input.Back != nil {
		trimmed := strings.TrimSpace(*input.Back)
		input.Back = &trimmed
		issues = append(issues, s.validator.Struct(backField{Back: trimmed})...)
	}
	if err := validation.NewError(issues); err != nil {
		return Flashcard{}, err
	}

	card, err := s.repository.GetFlashcard(ctx, userID, id)
	if err != nil {
		return Flashcard{}, s.wrapLookup(opUpdate, err, userID, id)
	}

	changed := false
	if input.Front != nil && *input.Front != card.Front {
		card.Front = *input.Front
		changed = true
	}
	if input.Back != nil && *input.Back != card.Back {
		card.Back = *input.Back
		changed = true
	}
	if changed && card.Source == SourceAIFull {
		card.Source = SourceAIEdited
	}
	card.UpdatedAt = s.clock().UTC()

	if err := s.repository.UpdateFlashcard(ctx, &card); err != nil {
		return Flashcard{}, s.wrapLookup(opUpdate, err, userID, id)
	}
	return card, nil
}

// Delete removes a flashcard owned by userID.
func (s *Service) Delete(ctx context.Context, userID string, id int64) error {
	if err := s.repository.DeleteFlashcard(ctx, userID, id); err != nil {
		return s.wrapLookup(opDelete, err, userID, id)
	}
	return nil
}

func (s *Service) wrapLookup(operation string, err error, userID string, id int64) error {
	if errors.Is(err, ErrNotFound) {
		return newServiceError(operation, "not_found", err)
	}
	s.logError(operation, "store_failed", err, zap.String("user_id", userID), zap.Int64("flashcard_id", id))
	return newServiceError(operation, "store_failed", err)
}

// ListRequest selects a page of flashcards. Zero values select the defaults.
type ListRequest struct {
	UserID string
	Page   int
	Limit  int
	Sort   string
	Order  string
	Source string
	Search string
}

type ListResult struct {
	Data       []Flashcard     `json:"data"`
	Pagination pagination.Meta `json:"pagination"`
}

func (s *Service) List(ctx context.Context, request ListRequest) (ListResult, error) {
	params := pagination.Normalize(request.Page, request.Limit)
	query := ListQuery{
		UserID:     request.UserID,
		Pagination: params,
		Sort:       ParseSortField(request.Sort),
		Descending: !strings.EqualFold(request.Order, "asc"),
		Source:     ParseSourceFilter(request.Source),
		Search:     strings.TrimSpace(request.Search),
	}

	cards, total, err := s.repository.ListFlashcards(ctx, query)
	if err != nil {
		s.logError(opList, "select_failed", err, zap.String("user_id", request.UserID))
		return ListResult{}, newServiceError(opList, "select_failed", err)
	}
	if cards == nil {
		cards = []Flashcard{}
	}
	return ListResult{Data: cards, Pagination: pagination.NewMeta(params, total)}, nil
}

// BatchCard is one curated proposal. Edited marks proposals the user changed before saving.
type BatchCard struct {
	Front  string `json:"front" validate:"has_content,max=200"`
	Back   string `json:"back" validate:"has_content,max=500"`
	Edited bool   `json:"edited"`
}

type BatchInput struct {
	GenerationID int64       `json:"generation_id" validate:"required,gt=0"`
	Flashcards   []BatchCard `json:"flashcards" validate:"required,min=1,max=10,dive"`
}

// AcceptBatch saves curated proposals of one generation and records how many were edited.
func (s *Service) AcceptBatch(ctx context.Context, userID string, input BatchInput) ([]Flashcard, error) {
	if userID == "" {
		return nil, newServiceError(opAccept, "missing_user", errMissingUserID)
	}
	for index := range input.Flashcards {
		input.Flashcards[index].Front = strings.TrimSpace(input.Flashcards[index].Front)
		input.Flashcards[index].Back = strings.TrimSpace(input.Flashcards[index].Back)
	}
	if err := validation.NewError(s.validator.Struct(input)); err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	generationID := input.GenerationID
	acceptance := Acceptance{
		UserID:       userID,
		GenerationID: generationID,
		Cards:        make([]Flashcard, 0, len(input.Flashcards)),
	}
	for _, proposal := range input.Flashcards {
		source := SourceAIFull
		if proposal.Edited {
			source = SourceAIEdited
			acceptance.Edited++
		} else {
			acceptance.Unedited++
		}
		acceptance.Cards = append(acceptance.Cards, Flashcard{
			UserID:       userID,
			Front:        proposal.Front,
			Back:         proposal.Back,
			Source:       source,
			GenerationID: &generationID,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	created, err := s.repository.AcceptProposals(ctx, acceptance)
	if err != nil {
		switch {
		case errors.Is(err, ErrGenerationNotFound):
			return nil, newServiceError(opAccept, "generation_not_found", err)
		case errors.Is(err, ErrGenerationAlreadyCurated):
			return nil, newServiceError(opAccept, "already_curated", err)
		case errors.Is(err, ErrTooManyAccepted):
			return nil, newServiceError(opAccept, "too_many_accepted", err)
		}
		s.logError(opAccept, "insert_failed", err,
			zap.String("user_id", userID),
			zap.Int64("generation_id", generationID))
		return nil, newServiceError(opAccept, "insert_failed", err)
	}
	return created, nil
}

// StudyDeck returns up to limit of the user's flashcards in random order. Ratings are not persisted.
func (s *Service) StudyDeck(ctx context.Context, userID string, limit int) ([]Flashcard, error) {
	params := pagination.Normalize(1, limit)
	cards, err := s.repository.SampleFlashcards(ctx, userID, params.Limit)
	if err != nil {
		s.logError(opStudy, "select_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opStudy, "select_failed", err)
	}
	rand.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
	if cards == nil {
		cards = []Flashcard{}
	}
	return cards, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("flashcards service error", attrs...)
}
