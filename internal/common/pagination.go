package common

import (
	"net/http"
	"strconv"
	"strings"
)

// Page is a 1-based page request read from ?page= and ?per_page=.
type Page struct {
	Number  int
	PerPage int
}

// Pagination is the listing metadata echoed to clients.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// ParsePage reads page and per_page. Missing or invalid values fall back to page 1 and
// defaultPerPage; per_page is capped at maxPerPage when maxPerPage is positive.
func ParsePage(r *http.Request, defaultPerPage, maxPerPage int) Page {
	p := Page{
		Number:  QueryInt(r, "page", 1),
		PerPage: QueryInt(r, "per_page", defaultPerPage),
	}
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage < 1 {
		p.PerPage = defaultPerPage
	}
	if maxPerPage > 0 && p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
	return p
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int { return (p.Number - 1) * p.PerPage }

// Meta describes this page of a listing holding total rows.
func (p Page) Meta(total int64) Pagination {
	pages := 0
	if p.PerPage > 0 {
		pages = int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
	}
	return Pagination{Page: p.Number, PerPage: p.PerPage, TotalItems: int(total), TotalPages: pages}
}

// QueryInt returns the named query parameter as an int, or def when absent or malformed.
func QueryInt(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
