package pagination

import (
	"net/http"
	"net/url"
	"strconv"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type PageParams struct {
	Page     int
	PageSize int
	Offset   int
}

type PaginatedResponse struct {
	Count    int64   `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  any     `json:"results"`
}

// ParsePageParams reads page and page_size, falling back to defaults on
// missing or out of range values.
func ParsePageParams(r *http.Request) PageParams {
	page := 1
	pageSize := DefaultPageSize

	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}

	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if parsed, err := strconv.Atoi(ps); err == nil && parsed > 0 && parsed <= MaxPageSize {
			pageSize = parsed
		}
	}

	return PageParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   (page - 1) * pageSize,
	}
}

func pageURL(r *http.Request, page, pageSize int) *string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}

	q := r.URL.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: q.Encode()}
	s := u.String()
	return &s
}

// BuildPaginatedResponse wraps results with the total count and links to
// the neighbouring pages.
func BuildPaginatedResponse(r *http.Request, totalCount int64, results any, params PageParams) PaginatedResponse {
	totalPages := int((totalCount + int64(params.PageSize) - 1) / int64(params.PageSize))

	resp := PaginatedResponse{Count: totalCount, Results: results}
	if params.Page < totalPages {
		resp.Next = pageURL(r, params.Page+1, params.PageSize)
	}
	if params.Page > 1 {
		resp.Previous = pageURL(r, params.Page-1, params.PageSize)
	}
	return resp
}
