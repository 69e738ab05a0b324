package channels

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/switchyard-ai/switchyard/internal/canvas"
	"github.com/switchyard-ai/switchyard/pkg/models"
)

// Canvas wire protocol: one JSON object per websocket text frame, typed
// by the "type" field.
const (
	c2sMessage    = "c2s:message"
	c2sClick      = "c2s:click"
	c2sInput      = "c2s:input"
	c2sFormSubmit = "c2s:form_submit"
	c2sSelect     = "c2s:select"
	c2sSteer      = "c2s:steer"
	c2sAbort      = "c2s:abort"
	c2sDrag       = "c2s:drag"
	c2sPing       = "c2s:ping"

	s2cAgentStatus    = "s2c:agent:status"
	s2cTextDelta      = "s2c:text:delta"
	s2cTextComplete   = "s2c:text:complete"
	s2cCanvasSnapshot = "s2c:canvas:snapshot"
	s2cCanvasChange   = "s2c:canvas:change"
	s2cPong           = "s2c:pong"
)

// canvasClientFrame is the superset of all client frame payloads. Which
// fields are meaningful depends on Type; the schemas below enforce the
// per-type requirements.
type canvasClientFrame struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	Component string                 `json:"component,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Value     string                 `json:"value,omitempty"`
	Fields    map[string]string      `json:"fields,omitempty"`
	Kind      string                 `json:"kind,omitempty"`
	Content   string                 `json:"content,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	NodeID    string                 `json:"nodeId,omitempty"`
	Position  *models.CanvasPosition `json:"position,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
}

type canvasServerFrame struct {
	Type      string                 `json:"type"`
	Status    string                 `json:"status,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Snapshot  *models.CanvasSnapshot `json:"snapshot,omitempty"`
	Change    *canvas.Event          `json:"change,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
}

type canvasSchemaRegistry struct {
	once    sync.Once
	initErr error
	base    *jsonschema.Schema
	byType  map[string]*jsonschema.Schema
}

var canvasSchemas canvasSchemaRegistry

func initCanvasSchemas() error {
	canvasSchemas.once.Do(func() {
		base, err := jsonschema.CompileString("canvas_frame", canvasFrameSchema)
		if err != nil {
			canvasSchemas.initErr = err
			return
		}
		canvasSchemas.base = base

		perType := map[string]string{
			c2sMessage:    canvasMessageSchema,
			c2sClick:      canvasClickSchema,
			c2sInput:      canvasInputSchema,
			c2sFormSubmit: canvasFormSubmitSchema,
			c2sSelect:     canvasSelectSchema,
			c2sSteer:      canvasSteerSchema,
			c2sDrag:       canvasDragSchema,
		}
		canvasSchemas.byType = make(map[string]*jsonschema.Schema, len(perType))
		for name, schema := range perType {
			compiled, err := jsonschema.CompileString("canvas_"+strings.ReplaceAll(name, ":", "_"), schema)
			if err != nil {
				canvasSchemas.initErr = err
				return
			}
			canvasSchemas.byType[name] = compiled
		}
	})
	return canvasSchemas.initErr
}

// decodeCanvasFrame validates a raw client frame against the protocol
// schemas and unmarshals it.
func decodeCanvasFrame(raw []byte) (*canvasClientFrame, error) {
	if err := initCanvasSchemas(); err != nil {
		return nil, err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	if err := canvasSchemas.base.Validate(payload); err != nil {
		return nil, err
	}
	var frame canvasClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	if schema := canvasSchemas.byType[frame.Type]; schema != nil {
		if err := schema.Validate(payload); err != nil {
			return nil, err
		}
	}
	return &frame, nil
}

// translateCanvasFrame renders a UI event as the bracketed text a
// text-driven agent consumes. Frames handled at transport level (drag,
// ping) return ok=false and never become inbound messages.
func translateCanvasFrame(f *canvasClientFrame) (string, bool) {
	switch f.Type {
	case c2sMessage:
		return f.Text, true
	case c2sClick:
		action := f.Action
		if action == "" {
			action = "click"
		}
		return fmt.Sprintf("[USER_CLICK] Component: %s Action: %s", f.Component, action), true
	case c2sInput:
		return fmt.Sprintf("[USER_INPUT] Component: %s Value: %s", f.Component, f.Value), true
	case c2sFormSubmit:
		return fmt.Sprintf("[FORM_SUBMIT] Component: %s Fields: %s", f.Component, formatFormFields(f.Fields)), true
	case c2sSelect:
		return fmt.Sprintf("[USER_SELECT] Component: %s Value: %s", f.Component, f.Value), true
	case c2sSteer:
		kind := f.Kind
		if kind == "" {
			kind = "inject"
		}
		return fmt.Sprintf("[STEER:%s] %s", kind, f.Content), true
	case c2sAbort:
		reason := f.Reason
		if reason == "" {
			reason = "user abort"
		}
		return "[ABORT] " + reason, true
	default:
		return "", false
	}
}

func formatFormFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, ", ")
}

const canvasFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "enum": [
        "c2s:message", "c2s:click", "c2s:input", "c2s:form_submit",
        "c2s:select", "c2s:steer", "c2s:abort", "c2s:drag", "c2s:ping"
      ]
    }
  },
  "additionalProperties": true
}`

const canvasMessageSchema = `{
  "type": "object",
  "required": ["text"],
  "properties": {
    "text": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const canvasClickSchema = `{
  "type": "object",
  "required": ["component"],
  "properties": {
    "component": { "type": "string", "minLength": 1 },
    "action": { "type": "string" }
  },
  "additionalProperties": true
}`

const canvasInputSchema = `{
  "type": "object",
  "required": ["component", "value"],
  "properties": {
    "component": { "type": "string", "minLength": 1 },
    "value": { "type": "string" }
  },
  "additionalProperties": true
}`

const canvasFormSubmitSchema = `{
  "type": "object",
  "required": ["component", "fields"],
  "properties": {
    "component": { "type": "string", "minLength": 1 },
    "fields": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    }
  },
  "additionalProperties": true
}`

const canvasSelectSchema = `{
  "type": "object",
  "required": ["component", "value"],
  "properties": {
    "component": { "type": "string", "minLength": 1 },
    "value": { "type": "string" }
  },
  "additionalProperties": true
}`

const canvasSteerSchema = `{
  "type": "object",
  "required": ["kind", "content"],
  "properties": {
    "kind": { "enum": ["inject", "reminder", "abort"] },
    "content": { "type": "string" }
  },
  "additionalProperties": true
}`

const canvasDragSchema = `{
  "type": "object",
  "required": ["nodeId", "position"],
  "properties": {
    "nodeId": { "type": "string", "minLength": 1 },
    "position": {
      "type": "object",
      "required": ["x", "y"],
      "properties": {
        "x": { "type": "number" },
        "y": { "type": "number" },
        "w": { "type": "number" },
        "h": { "type": "number" }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`
