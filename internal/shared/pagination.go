package shared

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
)

// Page contains metadata for offset paginated listings.
type Page struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// NewPage computes pagination metadata for a window of size returned rows.
func NewPage(limit, offset, total, returned int) Page {
	if offset < 0 {
		offset = 0
	}
	return Page{Total: total, Limit: limit, Offset: offset, HasMore: offset+returned < total}
}

// ParsePage reads limit and offset query parameters. Missing values are zero;
// malformed ones are marked httpx.ErrBadRequest.
func ParsePage(q url.Values) (limit, offset int, err error) {
	if limit, err = intParam(q, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = intParam(q, "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func intParam(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, httpx.Mark(fmt.Errorf("%s must be an integer", key), httpx.ErrBadRequest)
	}
	return n, nil
}
