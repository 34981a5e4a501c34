package sessions

import "github.com/cespare/xxhash/v2"

// Shard selects the subset of sessions a background worker is responsible
// for when several server processes run the same periodic job. The zero
// value and any Count <= 1 own every session.
type Shard struct {
	Index int
	Count int
}

// Owns reports whether sessionID hashes into this shard.
func (s Shard) Owns(sessionID string) bool {
	if s.Count <= 1 {
		return true
	}
	return xxhash.Sum64String(sessionID)%uint64(s.Count) == uint64(s.Index)
}
