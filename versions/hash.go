package versions

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ListHash returns the hex SHA-256 of the concatenated JSON encodings of
// items, in order. Reordering items changes the hash even when the set is
// the same; callers that need set semantics must sort first.
func ListHash[T any](items []T) (string, error) {
	h := sha256.New()
	for i, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return "", errors.Wrapf(err, "hash item %d", i)
		}
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
