package mcpservice

import (
	"strconv"

	"github.com/cockroachdb/errors"
)

// ErrInvalidCursor is returned for a cursor this package did not issue.
var ErrInvalidCursor = errors.New("invalid cursor")

const defaultPageSize = 50

// Page is one slice of a paginated listing. NextCursor is empty on the last
// page.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// Paginate slices all using a decimal offset cursor.
func Paginate[T any](all []T, pageSize int, cursor string) (Page[T], error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(all) {
			return Page[T]{}, errors.Wrapf(ErrInvalidCursor, "%q", cursor)
		}
		start = n
	}
	end := min(start+pageSize, len(all))
	page := Page[T]{Items: make([]T, end-start)}
	copy(page.Items, all[start:end])
	if end < len(all) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}
