package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/switchyard-ai/switchyard/pkg/models"
)

// CanvasRenderTool mutates the session's canvas board. Changes stream to
// connected clients through the canvas channel.
type CanvasRenderTool struct{ base }

func NewCanvasRenderTool() *CanvasRenderTool {
	return &CanvasRenderTool{base: newBase(
		"canvas_render",
		"Render to the shared canvas: add, update, move, or remove component nodes, connect them, or clear the board.",
		Lightweight,
		`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["add", "update", "move", "remove", "connect", "disconnect", "clear"]},
				"component": {
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"type": {"type": "string"},
						"payload": {"type": "object"}
					}
				},
				"position": {
					"type": "object",
					"properties": {
						"x": {"type": "number"},
						"y": {"type": "number"},
						"w": {"type": "number"},
						"h": {"type": "number"}
					}
				},
				"node_id": {"type": "string"},
				"connection": {
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"from_id": {"type": "string"},
						"to_id": {"type": "string"},
						"label": {"type": "string"},
						"style": {"type": "string"}
					}
				},
				"connection_id": {"type": "string"}
			},
			"required": ["action"],
			"additionalProperties": false
		}`,
	)}
}

func (t *CanvasRenderTool) Execute(_ context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		Action       string                   `json:"action"`
		Component    *models.CanvasComponent  `json:"component"`
		Position     *models.CanvasPosition   `json:"position"`
		NodeID       string                   `json:"node_id"`
		Connection   *models.CanvasConnection `json:"connection"`
		ConnectionID string                   `json:"connection_id"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}
	if tc.Canvas == nil {
		return failure("canvas backend not available")
	}
	board := tc.Canvas

	pos := models.CanvasPosition{}
	if input.Position != nil {
		pos = *input.Position
	}

	switch input.Action {
	case "add":
		if input.Component == nil {
			return failure("add requires a component")
		}
		node, err := board.AddNode(*input.Component, pos)
		if err != nil {
			return failure("add node: %v", err)
		}
		return canvasOK(board.NodeCount(), fmt.Sprintf("added node %s (z=%d)", node.Component.ID, node.ZIndex))

	case "update":
		if input.NodeID == "" {
			return failure("update requires node_id")
		}
		var componentType string
		var payload map[string]any
		if input.Component != nil {
			componentType = input.Component.Type
			payload = input.Component.Payload
		}
		if _, err := board.UpdateNode(input.NodeID, componentType, payload); err != nil {
			return failure("update node: %v", err)
		}
		return canvasOK(board.NodeCount(), "updated node "+input.NodeID)

	case "move":
		if input.NodeID == "" || input.Position == nil {
			return failure("move requires node_id and position")
		}
		if _, err := board.MoveNode(input.NodeID, pos); err != nil {
			return failure("move node: %v", err)
		}
		return canvasOK(board.NodeCount(), "moved node "+input.NodeID)

	case "remove":
		if input.NodeID == "" {
			return failure("remove requires node_id")
		}
		if err := board.RemoveNode(input.NodeID); err != nil {
			return failure("remove node: %v", err)
		}
		return canvasOK(board.NodeCount(), "removed node "+input.NodeID)

	case "connect":
		if input.Connection == nil {
			return failure("connect requires a connection")
		}
		conn, err := board.Connect(*input.Connection)
		if err != nil {
			return failure("connect: %v", err)
		}
		return canvasOK(board.NodeCount(), fmt.Sprintf("connected %s -> %s (%s)", conn.FromID, conn.ToID, conn.ID))

	case "disconnect":
		if input.ConnectionID == "" {
			return failure("disconnect requires connection_id")
		}
		if err := board.Disconnect(input.ConnectionID); err != nil {
			return failure("disconnect: %v", err)
		}
		return canvasOK(board.NodeCount(), "removed connection "+input.ConnectionID)

	case "clear":
		board.Clear()
		return canvasOK(0, "cleared canvas")

	default:
		return failure("unknown action %q", input.Action)
	}
}

// StateSnapshot exposes the full board for inspection.
func (t *CanvasRenderTool) StateSnapshot(_ json.RawMessage, tc *Context) (map[string]any, error) {
	if tc.Canvas == nil {
		return nil, fmt.Errorf("canvas backend not available")
	}
	snap := tc.Canvas.Snapshot()
	return map[string]any{
		"nodes":       snap.Nodes,
		"connections": snap.Connections,
	}, nil
}

func canvasOK(nodes int, msg string) *Result {
	res := success(msg)
	res.Metadata = map[string]any{"nodes": nodes}
	return res
}
