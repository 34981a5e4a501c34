package sessions

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ForEachSession pages through every session in ascending id order and
// calls fn for each id. Iteration stops at the first error from fn or the
// host. A page shorter than pageSize ends the scan.
func ForEachSession(ctx context.Context, h SessionHost, pageSize int, fn func(sessionID string) error) error {
	if pageSize <= 0 {
		pageSize = 100
	}
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := h.ListSessions(ctx, pageSize, cursor)
		if err != nil {
			return errors.Wrap(err, "list sessions")
		}
		for _, sid := range page {
			if err := fn(sid); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		cursor = page[len(page)-1]
	}
}
