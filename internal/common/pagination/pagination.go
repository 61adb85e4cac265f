// Package pagination implements the page/per_page windowing used by
// the distribution history endpoints.
package pagination

import (
	"net/url"
	"strconv"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Window is the slice of a listing a request asks for. Zero or
// malformed query values fall back to the first page at the default
// size; per_page is capped so a single request cannot drain the table.
type Window struct {
	Page    int
	PerPage int
}

// FromQuery reads page and per_page from the request query.
func FromQuery(query url.Values) Window {
	page, _ := strconv.Atoi(query.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(query.Get("per_page"))
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return Window{Page: page, PerPage: perPage}
}

// Limit is the row count to fetch for this window.
func (w Window) Limit() int {
	return w.PerPage
}

// Offset is the number of rows to skip for this window.
func (w Window) Offset() int {
	return (w.Page - 1) * w.PerPage
}

// Page is the envelope a windowed listing is served in.
type Page[T any] struct {
	Page         int  `json:"page"`
	PerPage      int  `json:"per_page"`
	TotalPages   int  `json:"total_pages"`
	TotalResults int  `json:"total_results"`
	HasMore      bool `json:"has_more"`
	Results      []T  `json:"results"`
}

// NewPage wraps one window of results with the listing totals.
func NewPage[T any](window Window, results []T, total int) Page[T] {
	pages := (total + window.PerPage - 1) / window.PerPage
	if pages < 1 {
		pages = 1
	}
	return Page[T]{
		Page:         window.Page,
		PerPage:      window.PerPage,
		TotalPages:   pages,
		TotalResults: total,
		HasMore:      window.Page < pages,
		Results:      results,
	}
}
