package models

// CanvasComponent is the renderable payload of a canvas node.
type CanvasComponent struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// CanvasPosition places a node on the canvas.
type CanvasPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w,omitempty"`
	H float64 `json:"h,omitempty"`
}

// CanvasNode is one component placed on the shared canvas. ZIndex is
// monotone in insertion order.
type CanvasNode struct {
	Component CanvasComponent `json:"component"`
	Position  CanvasPosition  `json:"position"`
	ZIndex    int             `json:"z_index"`
}

// CanvasConnection is a directed edge between two existing nodes.
// Removing either endpoint node removes the connection.
type CanvasConnection struct {
	ID     string `json:"id"`
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Label  string `json:"label,omitempty"`
	Style  string `json:"style,omitempty"`
}

// CanvasSnapshot is a full copy of canvas state for clients joining late.
type CanvasSnapshot struct {
	Nodes       []CanvasNode       `json:"nodes"`
	Connections []CanvasConnection `json:"connections"`
}
