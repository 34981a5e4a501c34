package tasks

import (
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineSplitRoundTrip(t *testing.T) {
	cases := [][2]string{
		{"", ""},
		{"session", "task"},
		{"a.b", "c"},
		{"a", "b.c"},
		{"%", "%2E"},
		{"%2E", "%25"},
		{"..", ".%."},
		{"ünï.cødé", "🙂"},
	}
	for _, tc := range cases {
		id := Combine(tc[0], tc[1])
		sid, key, err := Split(id)
		require.NoError(t, err, "id %q", id)
		assert.Equal(t, tc[0], sid)
		assert.Equal(t, tc[1], key)
	}
}

func TestCombineSplitRandomized(t *testing.T) {
	alphabet := []byte("ab.%2E5")
	rng := rand.New(rand.NewSource(1))
	gen := func() string {
		b := make([]byte, rng.Intn(8))
		for i := range b {
			b[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return string(b)
	}
	seen := map[string][2]string{}
	for i := 0; i < 5000; i++ {
		a, b := gen(), gen()
		id := Combine(a, b)
		if prev, dup := seen[id]; dup {
			require.Equal(t, prev, [2]string{a, b}, "collision on %q", id)
		}
		seen[id] = [2]string{a, b}
		sid, key, err := Split(id)
		require.NoError(t, err)
		require.Equal(t, a, sid)
		require.Equal(t, b, key)
	}
}

func TestSplitRejectsMalformed(t *testing.T) {
	for _, id := range []string{
		"",
		"nodelimiter",
		"a.b.c",
		"a%.b",
		"a%2.b",
		"a%2e.b",
		"a.b%41",
	} {
		_, _, err := Split(id)
		assert.True(t, errors.Is(err, ErrInvalidTaskID), "expected ErrInvalidTaskID for %q, got %v", id, err)
	}
}
