package mcpservice

import (
	"context"
	"sort"
	"sync"

	"github.com/ggoodman/mcp-tasks-go/mcp"
)

// ResourceProvider is a source of resources for the Catalog.
type ResourceProvider interface {
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error)
	// ReadResource returns ok=false when uri is not served by this provider.
	ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, bool, error)
}

// ResourcesContainer holds resources and their contents in memory.
type ResourcesContainer struct {
	mu        sync.RWMutex
	resources map[string]mcp.Resource
	contents  map[string][]mcp.ResourceContents
	templates []mcp.ResourceTemplate

	notifier ChangeNotifier
}

func NewResourcesContainer() *ResourcesContainer {
	return &ResourcesContainer{
		resources: make(map[string]mcp.Resource),
		contents:  make(map[string][]mcp.ResourceContents),
	}
}

// Set adds or replaces a resource and its contents.
func (rc *ResourcesContainer) Set(r mcp.Resource, contents ...mcp.ResourceContents) {
	rc.mu.Lock()
	rc.resources[r.URI] = r
	rc.contents[r.URI] = append([]mcp.ResourceContents(nil), contents...)
	rc.mu.Unlock()
	rc.notifier.Notify()
}

func (rc *ResourcesContainer) Remove(uri string) bool {
	rc.mu.Lock()
	_, ok := rc.resources[uri]
	delete(rc.resources, uri)
	delete(rc.contents, uri)
	rc.mu.Unlock()
	if ok {
		rc.notifier.Notify()
	}
	return ok
}

func (rc *ResourcesContainer) AddTemplate(t mcp.ResourceTemplate) {
	rc.mu.Lock()
	rc.templates = append(rc.templates, t)
	rc.mu.Unlock()
	rc.notifier.Notify()
}

// ListResources returns the resources ordered by URI.
func (rc *ResourcesContainer) ListResources(context.Context) ([]mcp.Resource, error) {
	rc.mu.RLock()
	out := make([]mcp.Resource, 0, len(rc.resources))
	for _, r := range rc.resources {
		out = append(out, r)
	}
	rc.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

func (rc *ResourcesContainer) ListResourceTemplates(context.Context) ([]mcp.ResourceTemplate, error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return append([]mcp.ResourceTemplate(nil), rc.templates...), nil
}

func (rc *ResourcesContainer) ReadResource(_ context.Context, uri string) ([]mcp.ResourceContents, bool, error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if _, ok := rc.resources[uri]; !ok {
		return nil, false, nil
	}
	return append([]mcp.ResourceContents(nil), rc.contents[uri]...), true, nil
}

func (rc *ResourcesContainer) Subscriber() <-chan struct{} { return rc.notifier.Subscriber() }
