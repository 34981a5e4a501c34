package mcpservice

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/ggoodman/mcp-tasks-go/versions"
)

// Catalog is everything the server advertises: tools, prompts and the
// resources of any number of providers. It is the source the version engine
// hashes, and its Subscriber fires whenever any part of it changes.
type Catalog struct {
	tools     *ToolsContainer
	prompts   *PromptsContainer
	providers []ResourceProvider

	notifier ChangeNotifier
	pageSize int
}

var _ versions.Source = (*Catalog)(nil)

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

func WithTools(tc *ToolsContainer) CatalogOption { return func(c *Catalog) { c.tools = tc } }

func WithPrompts(pc *PromptsContainer) CatalogOption { return func(c *Catalog) { c.prompts = pc } }

// WithResourceProvider adds a resource provider. Providers are consulted in
// the order added; the first one to serve a URI wins on read.
func WithResourceProvider(p ResourceProvider) CatalogOption {
	return func(c *Catalog) { c.providers = append(c.providers, p) }
}

// WithPageSize sets the page size of the List* methods.
func WithPageSize(n int) CatalogOption { return func(c *Catalog) { c.pageSize = n } }

func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(c)
	}
	if c.tools == nil {
		c.tools = NewToolsContainer()
	}
	if c.prompts == nil {
		c.prompts = NewPromptsContainer()
	}
	return c
}

// Run forwards change signals from every part of the catalog, and runs the
// watchers of providers that have one, until ctx ends.
func (c *Catalog) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	forward := func(ch <-chan struct{}) {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				c.notifier.Notify()
			}
		}
	}

	parts := []ChangeSubscriber{c.tools, c.prompts}
	for _, p := range c.providers {
		if cs, ok := p.(ChangeSubscriber); ok {
			parts = append(parts, cs)
		}
	}
	for _, p := range parts {
		wg.Add(1)
		go forward(p.Subscriber())
	}

	errs := make(chan error, len(c.providers))
	for _, p := range c.providers {
		w, ok := p.(interface{ Watch(context.Context) error })
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Watch(ctx); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)
	var err error
	for e := range errs {
		err = errors.CombineErrors(err, e)
	}
	return err
}

// Subscriber returns a channel signalled on any catalog change.
func (c *Catalog) Subscriber() <-chan struct{} { return c.notifier.Subscriber() }

// ToolSet returns the mutable tool container.
func (c *Catalog) ToolSet() *ToolsContainer { return c.tools }

// PromptSet returns the mutable prompt container.
func (c *Catalog) PromptSet() *PromptsContainer { return c.prompts }

func (c *Catalog) Tools(context.Context) ([]mcp.Tool, error) { return c.tools.Snapshot(), nil }

func (c *Catalog) Prompts(context.Context) ([]mcp.Prompt, error) { return c.prompts.Snapshot(), nil }

// Resources concatenates the resources of every provider. A URI served by
// more than one provider is listed once, by the first.
func (c *Catalog) Resources(ctx context.Context) ([]mcp.Resource, error) {
	var out []mcp.Resource
	seen := map[string]bool{}
	for _, p := range c.providers {
		rs, err := p.ListResources(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range rs {
			if seen[r.URI] {
				continue
			}
			seen[r.URI] = true
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Catalog) ResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	var out []mcp.ResourceTemplate
	for _, p := range c.providers {
		ts, err := p.ListResourceTemplates(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return out, nil
}

func (c *Catalog) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, bool, error) {
	for _, p := range c.providers {
		contents, ok, err := p.ReadResource(ctx, uri)
		if err != nil || ok {
			return contents, ok, err
		}
	}
	return nil, false, nil
}

// ListTools returns one page of tools.
func (c *Catalog) ListTools(ctx context.Context, cursor string) (mcp.ListToolsResult, error) {
	page, err := Paginate(c.tools.Snapshot(), c.pageSize, cursor)
	if err != nil {
		return mcp.ListToolsResult{}, err
	}
	return mcp.ListToolsResult{Tools: page.Items, PaginatedResult: mcp.PaginatedResult{NextCursor: page.NextCursor}}, nil
}

func (c *Catalog) ListPrompts(ctx context.Context, cursor string) (mcp.ListPromptsResult, error) {
	page, err := Paginate(c.prompts.Snapshot(), c.pageSize, cursor)
	if err != nil {
		return mcp.ListPromptsResult{}, err
	}
	return mcp.ListPromptsResult{Prompts: page.Items, PaginatedResult: mcp.PaginatedResult{NextCursor: page.NextCursor}}, nil
}

func (c *Catalog) ListResources(ctx context.Context, cursor string) (mcp.ListResourcesResult, error) {
	all, err := c.Resources(ctx)
	if err != nil {
		return mcp.ListResourcesResult{}, err
	}
	page, err := Paginate(all, c.pageSize, cursor)
	if err != nil {
		return mcp.ListResourcesResult{}, err
	}
	return mcp.ListResourcesResult{Resources: page.Items, PaginatedResult: mcp.PaginatedResult{NextCursor: page.NextCursor}}, nil
}

func (c *Catalog) ListResourceTemplates(ctx context.Context, cursor string) (mcp.ListResourceTemplatesResult, error) {
	all, err := c.ResourceTemplates(ctx)
	if err != nil {
		return mcp.ListResourceTemplatesResult{}, err
	}
	page, err := Paginate(all, c.pageSize, cursor)
	if err != nil {
		return mcp.ListResourceTemplatesResult{}, err
	}
	return mcp.ListResourceTemplatesResult{ResourceTemplates: page.Items, PaginatedResult: mcp.PaginatedResult{NextCursor: page.NextCursor}}, nil
}

// CallTool runs a tool from the catalog.
func (c *Catalog) CallTool(ctx context.Context, call *ToolCall) (*mcp.CallToolResult, error) {
	return c.tools.Call(ctx, call)
}
