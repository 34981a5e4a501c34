package versions

import (
	"context"

	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/ggoodman/mcp-tasks-go/sessions"
)

// SystemListVersions holds the list hashes a session last acknowledged. An
// empty field means the hash was unknown when it was recorded.
type SystemListVersions struct {
	Tools             string `msgpack:"tools"`
	Prompts           string `msgpack:"prompts"`
	Resources         string `msgpack:"resources"`
	ResourceTemplates string `msgpack:"resource_templates"`
}

// ResourceVersion is the content hash of one subscribed resource as last
// observed by a session. One value is stored per subscribed URI.
type ResourceVersion struct {
	Version string `msgpack:"version"`
}

var (
	systemListVersionsKind = sessions.NewKind[SystemListVersions]("system_list_versions")
	resourceVersionKind    = sessions.NewKind[ResourceVersion]("resource_version")
	systemListVersionsKey  = systemListVersionsKind.Key("current")
)

// Source exposes the catalog whose changes the engine reports.
type Source interface {
	Tools(ctx context.Context) ([]mcp.Tool, error)
	Prompts(ctx context.Context) ([]mcp.Prompt, error)
	Resources(ctx context.Context) ([]mcp.Resource, error)
	ResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error)
	// ReadResource returns the contents of uri; ok is false when the
	// resource does not exist.
	ReadResource(ctx context.Context, uri string) (contents []mcp.ResourceContents, ok bool, err error)
}

// Notification is a change notice for one session.
type Notification struct {
	Method mcp.Method
	// URI is set for resources/updated.
	URI string
}

// Params returns the JSON-RPC params object of the notification, or nil.
func (n Notification) Params() any {
	if n.Method == mcp.ResourcesUpdatedNotificationMethod {
		return mcp.ResourceUpdatedNotification{URI: n.URI}
	}
	return nil
}

// Sink delivers notifications to a session.
type Sink interface {
	Notify(ctx context.Context, sessionID string, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, sessionID string, n Notification) error

func (f SinkFunc) Notify(ctx context.Context, sessionID string, n Notification) error {
	return f(ctx, sessionID, n)
}
