package domain

// Pagination bounds. Requests above MaxPageSize are clamped, not rejected.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageRequest is a normalized pagination request. Construct via
// NewPageRequest so bounds are always enforced.
type PageRequest struct {
	Page int
	Size int
}

// NewPageRequest clamps page and size into their allowed ranges.
func NewPageRequest(page, size int) PageRequest {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return PageRequest{Page: page, Size: size}
}

// Offset returns the row offset for this request.
func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

// Page is one page of results with pagination metadata.
type Page[T any] struct {
	Items         []T   `json:"data"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	HasNext       bool  `json:"hasNext"`
	HasPrevious   bool  `json:"hasPrevious"`
}

// NewPage assembles a page envelope. An empty result set yields a
// well-formed page with zero totals.
func NewPage[T any](items []T, req PageRequest, total int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := int((total + int64(req.Size) - 1) / int64(req.Size))
	return Page[T]{
		Items:         items,
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: total,
		TotalPages:    totalPages,
		HasNext:       req.Page+1 < totalPages,
		HasPrevious:   req.Page > 0 && total > 0,
	}
}
