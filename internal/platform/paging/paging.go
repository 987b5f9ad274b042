// Package paging normalizes page/size query parameters for offset pagination.
package paging

import (
	"math"

	"github.com/todo-1m/tms/internal/errs"
)

var ErrPageOutOfRange = errs.New(errs.ErrInvalidInput, "page is out of range")

// Normalize clamps size into [1, maxSize], defaulting to defSize, and treats a negative page as 0.
// A page whose offset would not fit in an int is rejected.
func Normalize(page, size, defSize, maxSize int) (int, int, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defSize
	}
	if size > maxSize {
		size = maxSize
	}
	if page > math.MaxInt/size {
		return 0, 0, ErrPageOutOfRange
	}
	return page, size, nil
}
