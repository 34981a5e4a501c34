// Package mcpservice holds the server's catalog: the tools, prompts and
// resources it advertises.
//
// Containers (ToolsContainer, PromptsContainer, ResourcesContainer) are
// mutable and signal every change through a ChangeNotifier. FSResources
// serves a directory and, via Watch, turns fsnotify events into the same
// signal. A Catalog combines them, implements versions.Source for the
// version engine, and fans all change signals into one Subscriber channel
// the engine uses as its early-tick trigger.
//
// Quick start:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo"`
//	}
//	tools := mcpservice.NewToolsContainer(
//	    mcpservice.NewTool("echo", func(ctx context.Context, call *mcpservice.ToolCall, a EchoArgs) (*mcp.CallToolResult, error) {
//	        return mcpservice.TextResult(a.Message), nil
//	    }, mcpservice.WithToolDescription("Echo a message back")),
//	)
//	catalog := mcpservice.NewCatalog(
//	    mcpservice.WithTools(tools),
//	    mcpservice.WithResourceProvider(mcpservice.NewFSResources(mcpservice.WithOSDir("./docs"))),
//	)
//	go catalog.Run(ctx)
package mcpservice
