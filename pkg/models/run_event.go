package models

import "time"

// RunEventType identifies the kind of engine event.
type RunEventType string

const (
	// RunEventStarted is always the first event of a run and carries the
	// resume token for the run's starting state.
	RunEventStarted RunEventType = "started"

	// RunEventTextDelta carries streaming assistant text.
	RunEventTextDelta RunEventType = "text_delta"

	// Tool lifecycle. For a given tool-call id the order is always
	// start, zero or more progress, end.
	RunEventToolStart    RunEventType = "tool_start"
	RunEventToolProgress RunEventType = "tool_progress"
	RunEventToolEnd      RunEventType = "tool_end"

	// RunEventCompleted is emitted exactly once before the stream ends,
	// even when the provider closes without a done marker.
	RunEventCompleted RunEventType = "completed"

	// RunEventError is terminal: provider stream failure or cancellation.
	RunEventError RunEventType = "error"
)

// RunEvent is one element of an engine's totally-ordered event stream.
// Exactly one payload pointer is non-nil for a given Type.
type RunEvent struct {
	Type     RunEventType `json:"type"`
	Time     time.Time    `json:"time"`
	Sequence uint64       `json:"seq"`
	RunRef   string       `json:"run_ref,omitempty"`

	Started   *StartedPayload   `json:"started,omitempty"`
	TextDelta *TextDeltaPayload `json:"text_delta,omitempty"`
	Tool      *ToolEventPayload `json:"tool,omitempty"`
	Completed *CompletedPayload `json:"completed,omitempty"`
	Error     *ErrorPayload     `json:"error,omitempty"`
}

// StartedPayload carries the resume token for the run's starting state.
type StartedPayload struct {
	ResumeToken string `json:"resume_token,omitempty"`
}

// TextDeltaPayload is an incremental chunk of assistant text.
type TextDeltaPayload struct {
	Delta string `json:"delta"`
}

// ToolEventPayload describes a tool invocation stage.
type ToolEventPayload struct {
	CallID string `json:"call_id"`
	Name   string `json:"name,omitempty"`

	// ArgsJSON is set on tool_start.
	ArgsJSON []byte `json:"args_json,omitempty"`

	// Update is set on tool_progress (incremental args, status lines,
	// confirmation requests).
	Update string `json:"update,omitempty"`

	// Result is set on tool_end.
	Result *ToolResult `json:"result,omitempty"`
}

// Usage aggregates provider token counts for a run.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
	LLMCalls     int `json:"llm_calls,omitempty"`
}

// CompletedPayload carries the final assistant answer.
type CompletedPayload struct {
	Answer string `json:"answer"`
	Usage  *Usage `json:"usage,omitempty"`
}

// ErrorPayload standardizes terminal run errors.
type ErrorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Err       error  `json:"-"`
}
