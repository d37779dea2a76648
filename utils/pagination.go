package utils

import (
	"errors"
	"math"
	"strconv"
)

// MaxPage bounds page numbers so (page-1)*perPage stays a valid offset for any page size up to 100.
const MaxPage = math.MaxInt32 / 100

// ParsePage reads a 1-based page number, falling back to 1 for anything unusable.
func ParsePage(s string) int {
	p, err := strconv.Atoi(s)
	if errors.Is(err, strconv.ErrRange) && p > 0 {
		return MaxPage
	}
	if err != nil || p < 1 {
		return 1
	}
	if p > MaxPage {
		return MaxPage
	}
	return p
}

// TotalPages returns ceil(total / perPage).
func TotalPages(total int64, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}
