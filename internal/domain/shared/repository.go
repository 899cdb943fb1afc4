package shared

// Filter holds the list-query options shared by all repositories. The
// reconciliation API paginates with limit/offset rather than page numbers.
type Filter struct {
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string
	Search   string
}

// DefaultFilter returns a filter with default values
func DefaultFilter() Filter {
	return Filter{Limit: 200}
}

// Normalize clamps the filter into its valid ranges.
func (f *Filter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = 200
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Paginated represents a paginated result
type Paginated[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// NewPaginated creates a new paginated result
func NewPaginated[T any](items []T, total int64, limit, offset int) Paginated[T] {
	return Paginated[T]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
}
