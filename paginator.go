package blogcore

// Pagination holds the page arithmetic for a result set: the total number of pages, the current page,
// the previous and next pages, the first and last pages, and the number of items to skip.
// Previous and Next are 0 when there is no such page.
type Pagination struct {
	TotalItems  int
	PerPage     int
	CurrentPage int
	TotalPages  int
	First       int
	Last        int
	Previous    int
	Next        int
	HasPrevious bool
	HasNext     bool
	IsFirst     bool
	IsLast      bool
	Offset      int
}

// NewPagination returns a Pagination for the given parameters. The arithmetic is not clamped, so a
// current page of 0 or past the last page produces values the caller has to interpret (see InRange).
func NewPagination(totalItems, perPage, currentPage int) Pagination {
	totalPages := 0
	if perPage > 0 {
		totalPages = (totalItems + perPage - 1) / perPage
	}

	hasPrev := currentPage > 1
	hasNext := currentPage < totalPages

	prevPage := 0
	if hasPrev {
		prevPage = currentPage - 1
	}

	nextPage := 0
	if hasNext {
		nextPage = currentPage + 1
	}

	return Pagination{
		TotalItems:  totalItems,
		PerPage:     perPage,
		CurrentPage: currentPage,
		TotalPages:  totalPages,
		First:       1,
		Last:        totalPages,
		Previous:    prevPage,
		Next:        nextPage,
		HasPrevious: hasPrev,
		HasNext:     hasNext,
		IsFirst:     currentPage == 1,
		IsLast:      currentPage == totalPages,
		Offset:      (currentPage - 1) * perPage,
	}
}

// InRange returns true if the current page addresses one of the existing pages.
func (p Pagination) InRange() bool {
	return p.CurrentPage >= 1 && p.CurrentPage <= p.TotalPages
}

// normalizePage applies the listing policy: pages below 1 become page 1 and a page size below 1
// falls back to the default. Pages past the end are left alone and produce an empty listing.
func normalizePage(page, pageSize, defaultSize int) (int, int) {
	if page < 1 {
		page = 1
	}

	if pageSize < 1 {
		pageSize = defaultSize
	}

	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	return page, pageSize
}
