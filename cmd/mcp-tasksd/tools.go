package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/ggoodman/mcp-tasks-go/mcpservice"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"description=Text returned unchanged"`
}

type confirmArgs struct {
	Question string `json:"question" jsonschema:"description=Question put to the user"`
}

type countdownArgs struct {
	From     int `json:"from" jsonschema:"minimum=1,maximum=3600,description=Seconds to count down"`
	StepSecs int `json:"stepSeconds,omitempty" jsonschema:"minimum=1,description=Seconds between progress notifications"`
}

// builtinTools is the tool set every daemon serves.
func builtinTools() *mcpservice.ToolsContainer {
	return mcpservice.NewToolsContainer(
		mcpservice.NewTool("echo", echo, mcpservice.WithToolDescription("Return the message.")),
		mcpservice.NewTool("confirm", confirm, mcpservice.WithToolDescription("Ask the user a yes/no question. Must run as a task.")),
		mcpservice.NewTool("countdown", countdown, mcpservice.WithToolDescription("Count down, reporting progress. Cancellable when run as a task.")),
	)
}

func echo(_ context.Context, _ *mcpservice.ToolCall, a echoArgs) (*mcp.CallToolResult, error) {
	return mcpservice.TextResult(a.Message), nil
}

func confirm(ctx context.Context, call *mcpservice.ToolCall, a confirmArgs) (*mcp.CallToolResult, error) {
	raw, err := call.Request(ctx, string(mcp.ElicitationCreateMethod), map[string]any{
		"message": a.Question,
		"requestedSchema": map[string]any{
			"type":       "object",
			"properties": map[string]any{"confirmed": map[string]any{"type": "boolean"}},
			"required":   []string{"confirmed"},
		},
	}, 0)
	if err != nil {
		return nil, err
	}
	var res struct {
		Action  string `json:"action"`
		Content struct {
			Confirmed bool `json:"confirmed"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return mcpservice.Errorf("malformed elicitation result: %v", err), nil
	}
	if res.Action != "accept" {
		return mcpservice.TextResult("declined"), nil
	}
	return mcpservice.TextResult(fmt.Sprintf("confirmed=%t", res.Content.Confirmed)), nil
}

func countdown(ctx context.Context, call *mcpservice.ToolCall, a countdownArgs) (*mcp.CallToolResult, error) {
	step := max(a.StepSecs, 1)
	for left := a.From; left > 0; left -= step {
		if call.TaskID != "" {
			if call.Cancelled(ctx) {
				return mcpservice.TextResult(fmt.Sprintf("stopped at %d", left)), nil
			}
			_ = call.Notify(ctx, string(mcp.ProgressNotificationMethod), map[string]any{
				"progressToken": call.TaskID,
				"progress":      a.From - left,
				"total":         a.From,
			})
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(min(step, left)) * time.Second):
		}
	}
	return mcpservice.TextResult("liftoff"), nil
}
