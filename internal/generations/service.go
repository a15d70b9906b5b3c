// Package generations coordinates flashcard proposal runs: it fingerprints the source text, calls the
// model and records either the resulting generation or an error log.
package generations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/MarcoPoloResearchLab/cardloom/internal/fingerprint"
	"github.com/MarcoPoloResearchLab/cardloom/internal/openrouter"
	"github.com/MarcoPoloResearchLab/cardloom/internal/pagination"
)

// UnknownErrorCode is logged for failures that carry no classified code.
const UnknownErrorCode = "UNKNOWN_ERROR"

const (
	opServiceNew = "generations.service.new"
	opGenerate   = "generations.generate"
	opList       = "generations.list"

	maxSyntheticID = 1 << 53
)

var (
	errMissingGenerator  = errors.New("proposal generator is required")
	errMissingRepository = errors.New("generation repository is required")
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

// Generator produces flashcard proposals for source text.
type Generator interface {
	GenerateFlashcards(ctx context.Context, sourceText, model string) ([]openrouter.FlashcardProposal, error)
	DefaultModel() string
}

type ServiceConfig struct {
	Generator Generator
	// Repository is optional. Without it, or without a user, generations are not persisted.
	Repository Repository
	Clock      func() time.Time
	Logger     *zap.Logger
}

type Service struct {
	generator  Generator
	repository Repository
	clock      func() time.Time
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Generator == nil {
		return nil, newServiceError(opServiceNew, "missing_generator", errMissingGenerator)
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
		generator:  cfg.Generator,
		repository: cfg.Repository,
		clock:      clock,
		logger:     logger,
	}, nil
}

// GenerateRequest is one proposal run. UserID and Model are optional.
type GenerateRequest struct {
	SourceText string
	UserID     string
	Model      string
}

type GenerateResult struct {
	Generation Generation                     `json:"generation"`
	Proposals  []openrouter.FlashcardProposal `json:"proposals"`
}

// Generate runs the model once. Failures are returned unchanged after a best-effort error log write.
func (s *Service) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	sourceHash := fingerprint.SHA256Hex(request.SourceText)
	sourceLength := utf8.RuneCountInString(request.SourceText)
	model := strings.TrimSpace(request.Model)
	if model == "" {
		model = s.generator.DefaultModel()
	}

	startedAt := s.clock()
	proposals, err := s.generator.GenerateFlashcards(ctx, request.SourceText, model)
	if err != nil {
		s.recordFailure(ctx, request.UserID, model, sourceHash, sourceLength, err)
		return GenerateResult{}, err
	}
	finishedAt := s.clock()
	duration := finishedAt.Sub(startedAt).Round(time.Millisecond).Milliseconds()

	generation := Generation{
		UserID:             request.UserID,
		Model:              model,
		GeneratedCount:     len(proposals),
		SourceTextHash:     sourceHash,
		SourceTextLength:   sourceLength,
		GenerationDuration: duration,
		CreatedAt:          finishedAt.UTC(),
	}

	if s.persists(request.UserID) {
		if err := s.repository.CreateGeneration(ctx, &generation); err != nil {
			s.logError(opGenerate, "insert_failed", err,
				zap.String("user_id", request.UserID),
				zap.String("model", model))
			return GenerateResult{}, newServiceError(opGenerate, "insert_failed", err)
		}
	} else {
		generation.ID = rand.Int64N(maxSyntheticID) + 1
	}

	return GenerateResult{Generation: generation, Proposals: proposals}, nil
}

func (s *Service) persists(userID string) bool {
	return s.repository != nil && userID != ""
}

func (s *Service) recordFailure(ctx context.Context, userID, model, sourceHash string, sourceLength int, cause error) {
	if !s.persists(userID) {
		return
	}

	entry := ErrorLog{
		UserID:           userID,
		Model:            model,
		SourceTextHash:   sourceHash,
		SourceTextLength: sourceLength,
		ErrorCode:        UnknownErrorCode,
		ErrorMessage:     cause.Error(),
		CreatedAt:        s.clock().UTC(),
	}
	if classified, ok := openrouter.IsError(cause); ok {
		entry.ErrorCode = string(classified.Code)
		entry.ErrorMessage = classified.Message
		if classified.Details != nil {
			if encoded, err := json.Marshal(classified.Details); err == nil {
				entry.Details = datatypes.JSON(encoded)
			}
		}
	}

	if err := s.repository.CreateErrorLog(context.WithoutCancel(ctx), &entry); err != nil {
		s.logError(opGenerate, "error_log_failed", err,
			zap.String("user_id", userID),
			zap.String("error_code", entry.ErrorCode))
	}
}

// ListRequest selects a page of history. Zero values select the defaults.
type ListRequest struct {
	UserID string
	Page   int
	Limit  int
	Sort   string
	Order  string
}

type ListResult struct {
	Data       []Generation    `json:"data"`
	Pagination pagination.Meta `json:"pagination"`
	Statistics Statistics      `json:"statistics"`
}

// List returns a page of the user's generations together with whole-history statistics.
func (s *Service) List(ctx context.Context, request ListRequest) (ListResult, error) {
	if s.repository == nil {
		return ListResult{}, newServiceError(opList, "missing_repository", errMissingRepository)
	}

	params := pagination.Normalize(request.Page, request.Limit)
	query := ListQuery{
		UserID:     request.UserID,
		Pagination: params,
		Sort:       ParseSortField(request.Sort),
		Descending: !strings.EqualFold(request.Order, "asc"),
	}

	records, total, err := s.repository.ListGenerations(ctx, query)
	if err != nil {
		s.logError(opList, "select_failed", err, zap.String("user_id", request.UserID))
		return ListResult{}, newServiceError(opList, "select_failed", err)
	}
	stats, err := s.repository.Statistics(ctx, request.UserID)
	if err != nil {
		s.logError(opList, "statistics_failed", err, zap.String("user_id", request.UserID))
		return ListResult{}, newServiceError(opList, "statistics_failed", err)
	}
	if records == nil {
		records = []Generation{}
	}

	return ListResult{
		Data:       records,
		Pagination: pagination.NewMeta(params, total),
		Statistics: stats,
	}, nil
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
	s.logger.Error("generations service error", attrs...)
}
