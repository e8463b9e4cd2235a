package pagination

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10

	// MaxLimit and MaxPage bound query values so Offset cannot overflow.
	MaxLimit = 1000
	MaxPage  = 1_000_000
)

// Params holds page-based pagination parameters extracted from a request.
type Params struct {
	Page  int
	Limit int
}

// FromContext extracts page and limit from the query string. Missing,
// non-numeric or non-positive values fall back to the defaults.
func FromContext(c echo.Context) Params {
	return Parse(c.QueryParam("page"), c.QueryParam("limit"))
}

// Parse builds Params from raw query values. Values past MaxPage or MaxLimit
// are clamped, so a huge page yields an empty page instead of a bad OFFSET.
func Parse(page, limit string) Params {
	p, err := strconv.Atoi(page)
	switch {
	case errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(page, "-"):
		p = MaxPage
	case p <= 0:
		p = DefaultPage
	case p > MaxPage:
		p = MaxPage
	}
	l, err := strconv.Atoi(limit)
	switch {
	case errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(limit, "-"):
		l = MaxLimit
	case l <= 0:
		l = DefaultLimit
	case l > MaxLimit:
		l = MaxLimit
	}
	return Params{Page: p, Limit: l}
}

// Offset is the number of rows skipped before the current page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// SQL returns the LIMIT and OFFSET clause for SQL queries.
func (p Params) SQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit, p.Offset())
}

// Meta is the pagination block of a list response.
type Meta struct {
	TotalDocuments int `json:"totalDocuments"`
	TotalPages     int `json:"totalPages"`
	CurrentPage    int `json:"currentPage"`
	Limit          int `json:"limit"`
}

// NewMeta computes the pagination block for total matching documents.
func NewMeta(p Params, total int) *Meta {
	return &Meta{
		TotalDocuments: total,
		TotalPages:     TotalPages(total, p.Limit),
		CurrentPage:    p.Page,
		Limit:          p.Limit,
	}
}

// TotalPages is ceil(total/limit).
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset()+p.Limit < total
}
