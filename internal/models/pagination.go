package models

// PaginationMeta describes the position of a page within a collection.
// It is passed through from the server unmodified; NewPaginationMeta exists
// for fixtures and for callers that need to derive the flags locally.
type PaginationMeta struct {
	CurrentPage     int  `json:"currentPage"`
	ItemsPerPage    int  `json:"itemsPerPage"`
	TotalItems      int  `json:"totalItems"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

// NewPaginationMeta computes the derived fields from the page position.
// itemsPerPage must be greater than zero.
func NewPaginationMeta(currentPage, itemsPerPage, totalItems int) PaginationMeta {
	totalPages := (totalItems + itemsPerPage - 1) / itemsPerPage

	return PaginationMeta{
		CurrentPage:     currentPage,
		ItemsPerPage:    itemsPerPage,
		TotalItems:      totalItems,
		TotalPages:      totalPages,
		HasNextPage:     currentPage < totalPages,
		HasPreviousPage: currentPage > 1,
	}
}

// Page is a single page of a paginated collection.
type Page[T any] struct {
	Data []T            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}
