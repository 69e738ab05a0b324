package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/switchyard-ai/switchyard/internal/mcp"
)

// MCPClientTool is the universal bridge to configured MCP servers.
type MCPClientTool struct {
	base
	manager *mcp.Manager
}

func NewMCPClientTool(manager *mcp.Manager) *MCPClientTool {
	return &MCPClientTool{
		base: newBase(
			"mcp_client",
			"Interact with configured Model Context Protocol servers: list their tools or call one.",
			Lightweight,
			`{
				"type": "object",
				"properties": {
					"action": {"type": "string", "enum": ["list_tools", "call_tool"]},
					"server": {"type": "string", "description": "Server id; required for list_tools."},
					"name": {"type": "string", "description": "Tool name; required for call_tool."},
					"arguments": {"type": "object"}
				},
				"required": ["action"],
				"additionalProperties": false
			}`,
		),
		manager: manager,
	}
}

func (t *MCPClientTool) Execute(ctx context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		Action    string          `json:"action"`
		Server    string          `json:"server"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}
	if t.manager == nil {
		return failure("no mcp servers configured")
	}

	switch input.Action {
	case "list_tools":
		if input.Server == "" {
			return failure("list_tools requires server")
		}
		client, ok := t.manager.Client(input.Server)
		if !ok {
			if err := t.manager.Connect(ctx, input.Server); err != nil {
				return failure("connect %s: %v", input.Server, err)
			}
			client, _ = t.manager.Client(input.Server)
		}
		if client == nil {
			return failure("server %s unavailable", input.Server)
		}

		var sb strings.Builder
		for _, tool := range client.Tools() {
			fmt.Fprintf(&sb, "%s: %s\n", tool.Name, tool.Description)
		}
		if sb.Len() == 0 {
			sb.WriteString("no tools advertised\n")
		}
		res := success(sb.String())
		res.Metadata = map[string]any{"server": input.Server, "tools": len(client.Tools())}
		return res

	case "call_tool":
		if input.Name == "" {
			return failure("call_tool requires name")
		}
		tc.Progress("calling mcp tool " + input.Name)
		out, err := t.manager.CallTool(ctx, input.Name, input.Arguments)
		if err != nil {
			return failure("call %s: %v", input.Name, err)
		}
		res := success(out)
		res.Metadata = map[string]any{"tool": input.Name}
		return res

	default:
		return failure("unknown action %q", input.Action)
	}
}
