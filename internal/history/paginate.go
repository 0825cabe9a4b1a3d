package history

import (
	"github.com/jwalitptl/rx-portal/internal/model"
	"github.com/jwalitptl/rx-portal/pkg/httputil"
)

// PageSizes are the page sizes offered by the history grid.
var PageSizes = []int{20, 50, 100}

const DefaultPageSize = 20

// Paginate returns the 1-based page of items. Unsupported page sizes fall back
// to DefaultPageSize and out-of-range pages yield an empty slice.
func Paginate(items []model.Prescription, page, pageSize int) ([]model.Prescription, httputil.Pagination) {
	if !validPageSize(pageSize) {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}

	meta := httputil.NewPagination(page, pageSize, len(items))

	start := (page - 1) * pageSize
	if start >= len(items) {
		return []model.Prescription{}, meta
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], meta
}

func validPageSize(size int) bool {
	for _, s := range PageSizes {
		if s == size {
			return true
		}
	}
	return false
}
