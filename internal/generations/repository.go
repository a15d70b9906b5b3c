package generations

import (
	"context"

	"github.com/MarcoPoloResearchLab/cardloom/internal/pagination"
)

// ListQuery selects a page of a user's generation history.
type ListQuery struct {
	UserID     string
	Pagination pagination.Params
	Sort       SortField
	Descending bool
}

// Repository persists generations and their error logs.
type Repository interface {
	CreateGeneration(ctx context.Context, generation *Generation) error
	CreateErrorLog(ctx context.Context, entry *ErrorLog) error
	ListGenerations(ctx context.Context, query ListQuery) ([]Generation, int64, error)
	Statistics(ctx context.Context, userID string) (Statistics, error)
}
