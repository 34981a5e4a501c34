package versions

import (
	"testing"

	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListHashIsDeterministicAndOrderSensitive(t *testing.T) {
	items := []mcp.Tool{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	h1, err := ListHash(items)
	require.NoError(t, err)
	h2, err := ListHash([]mcp.Tool{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	permuted, err := ListHash([]mcp.Tool{{Name: "c"}, {Name: "a"}, {Name: "b"}})
	require.NoError(t, err)
	assert.NotEqual(t, h1, permuted)

	empty, err := ListHash[mcp.Tool](nil)
	require.NoError(t, err)
	assert.NotEqual(t, h1, empty)
}

func TestListHashCoversContent(t *testing.T) {
	a, err := ListHash([]mcp.ResourceContents{{URI: "x", Text: "1"}})
	require.NoError(t, err)
	b, err := ListHash([]mcp.ResourceContents{{URI: "x", Text: "2"}})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
