package mcpservice

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Message string   `json:"message" jsonschema:"description=Text to echo"`
	Times   int      `json:"times,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func echoTool() StaticTool {
	return NewTool("echo", func(ctx context.Context, call *ToolCall, a echoArgs) (*mcp.CallToolResult, error) {
		return TextResult(a.Message), nil
	}, WithToolDescription("Echo a message back"))
}

func TestNewToolReflectsSchema(t *testing.T) {
	tool := echoTool()
	d := tool.Descriptor
	assert.Equal(t, "echo", d.Name)
	assert.Equal(t, "Echo a message back", d.Description)
	assert.Equal(t, "object", d.InputSchema.Type)
	assert.False(t, d.InputSchema.AdditionalProperties)
	require.Contains(t, d.InputSchema.Properties, "message")
	assert.Equal(t, "string", d.InputSchema.Properties["message"].Type)
	assert.Equal(t, "Text to echo", d.InputSchema.Properties["message"].Description)
	assert.Equal(t, "integer", d.InputSchema.Properties["times"].Type)
	require.NotNil(t, d.InputSchema.Properties["tags"].Items)
	assert.Equal(t, "string", d.InputSchema.Properties["tags"].Items.Type)
	assert.Equal(t, []string{"message"}, d.InputSchema.Required)
}

func TestToolsContainerCall(t *testing.T) {
	ctx := context.Background()
	tc := NewToolsContainer(echoTool())

	res, err := tc.Call(ctx, NewToolCall("s1", "", mcp.CallToolRequest{Name: "echo", Arguments: json.RawMessage(`{"message":"hi"}`)}, nil, nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hi", res.Content[0].Text)

	res, err = tc.Call(ctx, NewToolCall("s1", "", mcp.CallToolRequest{Name: "echo", Arguments: json.RawMessage(`{"message":"hi","extra":1}`)}, nil, nil))
	require.NoError(t, err)
	assert.True(t, res.IsError, "unknown fields are rejected")

	_, err = tc.Call(ctx, NewToolCall("s1", "", mcp.CallToolRequest{Name: "nope"}, nil, nil))
	assert.True(t, errors.Is(err, ErrToolNotFound))
}

func TestSynchronousToolCannotReachClient(t *testing.T) {
	call := NewToolCall("s1", "", mcp.CallToolRequest{Name: "x"}, nil, nil)
	_, err := call.Request(context.Background(), string(mcp.ElicitationCreateMethod), nil, time.Second)
	assert.True(t, errors.Is(err, ErrNotTask))
	assert.True(t, errors.Is(call.Notify(context.Background(), "notifications/progress", nil), ErrNotTask))
	assert.False(t, call.Cancelled(context.Background()))
}

func TestToolsContainerMutationsSignal(t *testing.T) {
	tc := NewToolsContainer()
	ch := tc.Subscriber()

	require.True(t, tc.Add(echoTool()))
	require.False(t, tc.Add(echoTool()), "duplicate names are refused")
	assertSignalled(t, ch)

	require.True(t, tc.Remove("echo"))
	assertSignalled(t, ch)
	assert.Empty(t, tc.Snapshot())
	assert.False(t, tc.Remove("echo"))
}

func assertSignalled(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}
}

func TestPaginate(t *testing.T) {
	all := []int{1, 2, 3, 4, 5}
	p, err := Paginate(all, 2, "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, p.Items)
	assert.Equal(t, "2", p.NextCursor)

	p, err = Paginate(all, 2, "4")
	require.NoError(t, err)
	assert.Equal(t, []int{5}, p.Items)
	assert.Empty(t, p.NextCursor)

	for _, bad := range []string{"x", "-1", "6"} {
		_, err := Paginate(all, 2, bad)
		assert.True(t, errors.Is(err, ErrInvalidCursor), bad)
	}
}

func TestCatalogAggregatesProviders(t *testing.T) {
	ctx := context.Background()
	first := NewResourcesContainer()
	first.Set(mcp.Resource{URI: "mem://b", Name: "b"}, mcp.ResourceContents{URI: "mem://b", Text: "first"})
	first.AddTemplate(mcp.ResourceTemplate{URITemplate: "mem://{name}", Name: "mem"})
	second := NewResourcesContainer()
	second.Set(mcp.Resource{URI: "mem://b", Name: "shadowed"}, mcp.ResourceContents{URI: "mem://b", Text: "second"})
	second.Set(mcp.Resource{URI: "mem://a", Name: "a"}, mcp.ResourceContents{URI: "mem://a", Text: "only second"})

	c := NewCatalog(
		WithTools(NewToolsContainer(echoTool())),
		WithPrompts(NewPromptsContainer(mcp.Prompt{Name: "greet"})),
		WithResourceProvider(first),
		WithResourceProvider(second),
		WithPageSize(1),
	)

	rs, err := c.Resources(ctx)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, "b", rs[0].Name)
	assert.Equal(t, "a", rs[1].Name)

	contents, ok, err := c.ReadResource(ctx, "mem://b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", contents[0].Text)

	_, ok, err = c.ReadResource(ctx, "mem://zzz")
	require.NoError(t, err)
	assert.False(t, ok)

	page, err := c.ListResources(ctx, "")
	require.NoError(t, err)
	assert.Len(t, page.Resources, 1)
	assert.Equal(t, "1", page.NextCursor)

	tools, err := c.ListTools(ctx, "")
	require.NoError(t, err)
	assert.Len(t, tools.Tools, 1)
	assert.Empty(t, tools.NextCursor)

	prompts, err := c.ListPrompts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "greet", prompts.Prompts[0].Name)

	tmpls, err := c.ListResourceTemplates(ctx, "")
	require.NoError(t, err)
	assert.Len(t, tmpls.ResourceTemplates, 1)
}

func TestCatalogRunForwardsChanges(t *testing.T) {
	res := NewResourcesContainer()
	c := NewCatalog(WithResourceProvider(res))
	ch := c.Subscriber()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Subscriptions are taken asynchronously, in order, with providers last;
	// keep nudging the provider until it is forwarded.
	deadline := time.After(2 * time.Second)
	for got := false; !got; {
		res.Set(mcp.Resource{URI: "mem://x", Name: "x"})
		select {
		case <-ch:
			got = true
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no change forwarded")
		}
	}

	c.PromptSet().Upsert(mcp.Prompt{Name: "p"})
	assertSignalled(t, ch)

	cancel()
	require.NoError(t, <-done)
}
