package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPerPage = 8
	maxPerPage     = 100
)

// page is one window over a result list. Page is zero-based.
type page struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalItems int  `json:"total_items"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`

	start, end int
}

func parsePage(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	n, per := 0, defaultPerPage
	if raw := q.Get("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, ValidationErrors{{Field: "page", Message: "must be a non-negative number"}}
		}
		n = v
	}
	if raw := q.Get("per_page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxPerPage {
			return 0, 0, ValidationErrors{{Field: "per_page", Message: "must be between 1 and " + strconv.Itoa(maxPerPage)}}
		}
		per = v
	}
	return n, per, nil
}

func paginate(total, n, per int) page {
	p := page{Page: n, PerPage: per, TotalItems: total, TotalPages: (total + per - 1) / per}
	p.start = n * per
	if p.start > total {
		p.start = total
	}
	p.end = p.start + per
	if p.end > total {
		p.end = total
	}
	p.HasPrev = n > 0
	p.HasNext = p.end < total
	return p
}
