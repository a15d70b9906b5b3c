// Package pagination normalises page/limit query parameters and describes paged results.
package pagination

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params selects a 1-based page of at most Limit items.
type Params struct {
	Page  int
	Limit int
}

// Normalize clamps page to at least 1 and limit to [1, MaxLimit], substituting DefaultLimit for non-positive limits.
func Normalize(page, limit int) Params {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Params{Page: page, Limit: limit}
}

// Offset is the number of items preceding the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Meta is the pagination block returned alongside a page of results.
type Meta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NewMeta describes the page selected by p out of total items.
func NewMeta(p Params, total int64) Meta {
	totalPages := 0
	if p.Limit > 0 {
		totalPages = int((total + int64(p.Limit) - 1) / int64(p.Limit))
	}
	return Meta{Page: p.Page, Limit: p.Limit, Total: total, TotalPages: totalPages}
}
