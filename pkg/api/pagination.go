package api

import (
	"fmt"
	"net/url"
	"strconv"
)

// PaginationMeta is the {first, last, next, previous, page, pages,
// per_page, total} envelope from spec section 6.
type PaginationMeta struct {
	First    string  `json:"first"`
	Last     string  `json:"last"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Page     int     `json:"page"`
	Pages    int     `json:"pages"`
	PerPage  int     `json:"per_page"`
	Total    int     `json:"total"`
}

// ClampPerPage enforces the configured ceiling on a requested page size
// (spec section 8 boundary behaviour).
func ClampPerPage(requested, maxPerPage int) int {
	if requested <= 0 {
		return maxPerPage
	}
	if requested > maxPerPage {
		return maxPerPage
	}
	return requested
}

// BuildPaginationMeta computes the pagination envelope for a page of
// results, given the basePath and any extra query parameters to preserve
// across first/last/next/previous links (e.g. state, verbose).
func BuildPaginationMeta(basePath string, page, perPage, total int, extra map[string]string) PaginationMeta {
	pages := total / perPage
	if total%perPage != 0 {
		pages++
	}
	if pages == 0 {
		pages = 1
	}

	link := func(p int) string {
		v := url.Values{}
		for k, val := range extra {
			v.Set(k, val)
		}
		v.Set("page", strconv.Itoa(p))
		v.Set("per_page", strconv.Itoa(perPage))
		return fmt.Sprintf("%s?%s", basePath, v.Encode())
	}

	meta := PaginationMeta{
		First:   link(1),
		Last:    link(pages),
		Page:    page,
		Pages:   pages,
		PerPage: perPage,
		Total:   total,
	}
	if page < pages {
		next := link(page + 1)
		meta.Next = &next
	}
	if page > 1 {
		prev := link(page - 1)
		meta.Previous = &prev
	}
	return meta
}
